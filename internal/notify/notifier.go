package notify

import (
	"context"
	"fmt"
	"strings"
	"tradeflow/conf"
	"tradeflow/internal/bus"
	"tradeflow/internal/consts"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/go-mail/mail"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Notifier 成交通知，尽力而为：失败只记日志，绝不影响结算链路
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

// EmailNotifier 从redis的user:<id> hash取收件邮箱，走SMTP发信
type EmailNotifier struct {
	cfg      conf.MailConfig
	client   *redis.Client
	dialer   *mail.Dialer
	verifier *emailverifier.Verifier
}

func NewEmailNotifier(cfg conf.MailConfig, client *redis.Client) *EmailNotifier {
	return &EmailNotifier{
		cfg:      cfg,
		client:   client,
		dialer:   mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		verifier: emailverifier.NewVerifier(),
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, userID int64, message string) error {
	email, err := n.client.HGet(ctx, fmt.Sprintf("%s%d", consts.UserInfoPrefix, userID), "email").Result()
	if err == redis.Nil || email == "" {
		logger.Debugf("no email on file for user %d, skipping notification", userID)
		return nil
	}
	if err != nil {
		return err
	}

	if n.cfg.PreCheck {
		ret, err := n.verifier.Verify(email)
		if err != nil || !ret.Syntax.Valid {
			logger.Warnf("invalid notification address %q for user %d", email, userID)
			return nil
		}
	}

	m := mail.NewMessage()
	m.SetHeader("From", n.cfg.Sender)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Order executed")
	m.SetBody("text/plain", message)
	return n.dialer.DialAndSend(m)
}

// Worker 订阅trade.executed，为每笔成交异步发送通知
type Worker struct {
	bus      bus.Bus
	notifier Notifier
}

func NewWorker(b bus.Bus, notifier Notifier) *Worker {
	return &Worker{bus: b, notifier: notifier}
}

func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.bus.Subscribe(ctx, consts.ChannelTradeExecuted)
	if err != nil {
		return err
	}
	logger.Info("notification worker started")
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("notification worker stopped")
				return nil
			}
			w.handle(ctx, msg.Payload)
		case <-ctx.Done():
			logger.Info("notification worker stopped")
			return nil
		}
	}
}

func (w *Worker) handle(ctx context.Context, payload []byte) {
	var exec model.Execution
	if err := json.Unmarshal(payload, &exec); err != nil {
		logger.Warnf("dropping malformed execution payload: %v", err)
		return
	}

	msg := fmt.Sprintf("Your %s order executed: %s %s at $%s",
		strings.ToUpper(string(exec.Side)), exec.Qty, exec.Asset, exec.Price)

	// fire-and-forget，发信不阻塞事件消费
	go func() {
		if err := w.notifier.Notify(context.WithoutCancel(ctx), exec.UserID, msg); err != nil {
			logger.Errorf("send notification to user %d: %v", exec.UserID, err)
		}
	}()
}
