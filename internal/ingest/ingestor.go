package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/bus"
	"tradeflow/internal/consts"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Ingestor 行情摄取：连接币安合并交易流，把每笔成交规整成Tick后
// 1) 覆盖写最新价快照 2) 发布到price.updates通道。
// 不碰任何余额，快照写入和总线发布都不要求事务性
type Ingestor struct {
	cfg      conf.FeedConfig
	bus      bus.Bus
	snapshot bus.PriceSnapshot
}

func NewIngestor(cfg conf.FeedConfig, b bus.Bus, snapshot bus.PriceSnapshot) *Ingestor {
	return &Ingestor{cfg: cfg, bus: b, snapshot: snapshot}
}

// Run 带固定间隔重连的主循环，ctx取消后退出。
// 行情源断开是可恢复错误，永远不致命
func (i *Ingestor) Run(ctx context.Context) {
	for {
		if err := i.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Info("price ingestor stopped")
				return
			}
			logger.Errorf("feed disconnected: %v. Reconnecting in %s...", err, i.cfg.ReconnectDelay)
		}
		select {
		case <-time.After(i.cfg.ReconnectDelay):
		case <-ctx.Done():
			logger.Info("price ingestor stopped")
			return
		}
	}
}

func (i *Ingestor) runOnce(ctx context.Context) error {
	streamURL := i.streamURL()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Infof("connected to feed stream: %s", streamURL)

	// 守护协程在ctx取消时关连接，ReadMessage随之返回错误。
	// 本次连接结束后通过done退出，不跨重连存活
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tick, err := ParseStreamMessage(raw)
		if err != nil {
			// 坏消息丢弃并记录，不中断读循环
			logger.Warnf("dropping malformed feed payload: %v", err)
			continue
		}
		i.dispatch(ctx, tick)
	}
}

func (i *Ingestor) dispatch(ctx context.Context, tick *model.Tick) {
	if err := i.snapshot.SetLatestPrice(ctx, tick.Asset, tick.Price); err != nil {
		logger.Errorf("update latest price for %s: %v", tick.Asset, err)
	}
	payload, err := json.Marshal(tick)
	if err != nil {
		logger.Errorf("marshal tick: %v", err)
		return
	}
	if err := i.bus.Publish(ctx, consts.ChannelPriceUpdates, payload); err != nil {
		logger.Errorf("publish tick for %s: %v", tick.Asset, err)
	}
}

func (i *Ingestor) streamURL() string {
	streams := make([]string, 0, len(i.cfg.Symbols))
	for _, s := range i.cfg.Symbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}
	return fmt.Sprintf("%s?streams=%s", i.cfg.StreamURL, strings.Join(streams, "/"))
}

// 合并流外层包装，逐笔成交在data里
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeEvent struct {
	EventType string      `json:"e"`
	Symbol    string      `json:"s"`
	Price     string      `json:"p"`
	Qty       string      `json:"q"`
	TradeTime interface{} `json:"T"` // 毫秒时间戳，源端偶尔给字符串
	IsMaker   bool        `json:"m"`
}

// ParseStreamMessage 把行情源的原始消息规整成Tick。
// 字段缺失、价格非法等都按坏消息处理
func ParseStreamMessage(raw []byte) (*model.Tick, error) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	data := env.Data
	if len(data) == 0 {
		// 兼容未包装的单流消息
		data = raw
	}

	var ev tradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Symbol == "" {
		return nil, errors.New("missing symbol")
	}
	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return nil, fmt.Errorf("bad price %q: %w", ev.Price, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("non-positive price %q", ev.Price)
	}
	qty, err := decimal.NewFromString(ev.Qty)
	if err != nil {
		return nil, fmt.Errorf("bad qty %q: %w", ev.Qty, err)
	}

	symbol := strings.ToUpper(ev.Symbol)
	asset := strings.TrimSuffix(symbol, consts.QuoteSuffix)
	ms := cast.ToInt64(ev.TradeTime)
	ts := time.UnixMilli(ms)
	if ms == 0 {
		ts = time.Now()
	}

	return &model.Tick{
		Asset:   asset,
		Symbol:  symbol,
		Price:   price,
		Qty:     qty,
		Ts:      ts,
		IsMaker: ev.IsMaker,
	}, nil
}
