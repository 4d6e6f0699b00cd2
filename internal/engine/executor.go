package engine

import (
	"context"
	"errors"
	"time"
	"tradeflow/internal/bus"
	"tradeflow/internal/consts"
	"tradeflow/internal/dao"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"

	"github.com/goccy/go-json"
)

// MarketExecutor 市价单执行器：单消费者循环排空orders_queue，
// 每笔订单做一次双边资金划转并发布成交事件。
//
// 队列里的订单在下单时已经通过了余额预检，执行时再次校验；
// 这里再失败说明预检已过期，属于终态错误：丢弃并记录，不重试
type MarketExecutor struct {
	ledger     dao.Ledger
	queue      bus.Queue
	bus        bus.Bus
	popTimeout time.Duration
}

func NewMarketExecutor(ledger dao.Ledger, q bus.Queue, b bus.Bus, popTimeout time.Duration) *MarketExecutor {
	if popTimeout <= 0 {
		popTimeout = 500 * time.Millisecond
	}
	return &MarketExecutor{ledger: ledger, queue: q, bus: b, popTimeout: popTimeout}
}

// Run 排空队列直到ctx取消
func (e *MarketExecutor) Run(ctx context.Context) {
	logger.Info("market order executor started")
	for {
		if ctx.Err() != nil {
			logger.Info("market order executor stopped")
			return
		}
		payload, err := e.queue.Pop(ctx, e.popTimeout)
		if errors.Is(err, bus.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("market order executor stopped")
				return
			}
			logger.Errorf("pop order from queue: %v", err)
			time.Sleep(time.Second)
			continue
		}
		// 出队后的执行不可被停机打断，结算要么不开始要么做完
		e.ExecuteOne(context.WithoutCancel(ctx), payload)
	}
}

// ExecuteOne 执行一笔队列里的市价单
func (e *MarketExecutor) ExecuteOne(ctx context.Context, payload []byte) {
	var order model.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		logger.Warnf("dropping malformed order payload: %v", err)
		return
	}
	if order.Qty.Sign() <= 0 || order.Price.Sign() <= 0 {
		logger.Warnf("dropping invalid market order %d: qty=%s price=%s", order.ID, order.Qty, order.Price)
		return
	}

	err := e.ledger.ExecuteMarketOrder(ctx, &order)
	if errors.Is(err, dao.ErrInsufficientBalance) {
		logger.Errorf("dropping market order %d: insufficient balance for user %d", order.ID, order.UserID)
		return
	}
	if err != nil {
		logger.Errorf("execute market order %d: %v", order.ID, err)
		return
	}

	exec := model.NewExecution(&order)
	data, err := json.Marshal(exec)
	if err != nil {
		logger.Errorf("marshal execution event: %v", err)
		return
	}
	if err := e.bus.Publish(ctx, consts.ChannelTradeExecuted, data); err != nil {
		logger.Errorf("publish execution event for order %d: %v", order.ID, err)
	}
	logger.Infof("executed market order %d (%s %s %s) at %s",
		order.ID, order.Side, order.Qty, order.Asset, order.Price)
}
