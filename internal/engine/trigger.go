package engine

import (
	"context"
	"errors"
	"tradeflow/internal/bus"
	"tradeflow/internal/consts"
	"tradeflow/internal/dao"
	"tradeflow/internal/model"
	"tradeflow/pkg/logger"

	"github.com/goccy/go-json"
)

// TriggerEngine 限价单触发引擎。订阅price.updates，对watch-set内
// 资产的每个tick评估触发条件并成交。
//
// 每个tick只评估该资产最新创建的一笔open限价单，不维护按价格
// 排序的订单簿。这是刻意的取舍：同一资产的其余挂单等后续tick。
//
// 成交本身靠账本的条件关单保证至多一次：多实例（或与市价执行器）
// 竞争同一订单时，只有条件更新命中的那个会动余额，输家读到
// RowsAffected=0后放弃，视为他人已处理
type TriggerEngine struct {
	ledger dao.Ledger
	bus    bus.Bus
	watch  WatchSet
}

func NewTriggerEngine(ledger dao.Ledger, b bus.Bus, watch WatchSet) *TriggerEngine {
	return &TriggerEngine{ledger: ledger, bus: b, watch: watch}
}

// Restore 从账本重建watch-set。启动时调用，保证追踪集合
// 可以在崩溃后从open订单集合恢复
func (e *TriggerEngine) Restore(ctx context.Context) error {
	counts, err := e.ledger.OpenLimitAssets(ctx)
	if err != nil {
		return err
	}
	if err := e.watch.Reset(ctx, counts); err != nil {
		return err
	}
	logger.Infof("watch-set restored: %d assets with open limit orders", len(counts))
	return nil
}

// Run 消费tick直到ctx取消
func (e *TriggerEngine) Run(ctx context.Context) error {
	ticks, err := e.bus.Subscribe(ctx, consts.ChannelPriceUpdates)
	if err != nil {
		return err
	}
	logger.Info("limit order trigger engine started")
	for {
		select {
		case msg, ok := <-ticks:
			if !ok {
				logger.Info("limit order trigger engine stopped")
				return nil
			}
			e.handleMessage(ctx, msg.Payload)
		case <-ctx.Done():
			logger.Info("limit order trigger engine stopped")
			return nil
		}
	}
}

func (e *TriggerEngine) handleMessage(ctx context.Context, payload []byte) {
	var tick model.Tick
	if err := json.Unmarshal(payload, &tick); err != nil {
		logger.Warnf("dropping malformed tick payload: %v", err)
		return
	}
	if err := e.ProcessTick(ctx, &tick); err != nil {
		logger.Errorf("process tick for %s: %v", tick.Asset, err)
	}
}

// ProcessTick 单个tick的完整评估链路
func (e *TriggerEngine) ProcessTick(ctx context.Context, tick *model.Tick) error {
	tracked, err := e.watch.Contains(ctx, tick.Asset)
	if err != nil {
		return err
	}
	if !tracked {
		return nil
	}

	order, err := e.ledger.FindOpenLimitOrder(ctx, tick.Asset)
	if err != nil {
		return err
	}
	if order == nil {
		// watch-set只是派生状态，账本说没有挂单就移除
		return e.watch.Remove(ctx, tick.Asset)
	}

	if !shouldTrigger(order, tick) {
		return nil
	}

	// 结算用脱离取消链的ctx：优雅停机时在途事务必须做完，
	// 不允许扣了一边回滚另一边
	execCtx := context.WithoutCancel(ctx)
	err = e.ledger.ExecuteLimitOrder(execCtx, order, tick.Price, tick.Ts)
	switch {
	case errors.Is(err, dao.ErrOrderClosed):
		// 并发执行者已抢先关单，预期情况
		logger.Debugf("order %d already executed by another worker", order.ID)
	case errors.Is(err, dao.ErrInsufficientBalance):
		// 下单后的余额已经不够了，跳过，订单保持open
		logger.Warnf("skipping order %d: insufficient balance for user %d", order.ID, order.UserID)
		return nil
	case err != nil:
		return err
	default:
		e.publishExecution(execCtx, order)
		logger.Infof("executed limit order %d (%s %s %s) at %s",
			order.ID, order.Side, order.Qty, order.Asset, order.Price)
	}

	// 成交（或发现已被成交）后复核余量，归零则取消追踪。
	// 以账本计数为准，不信任内存里的数字
	remaining, err := e.ledger.CountOpenLimitOrders(ctx, tick.Asset)
	if err != nil {
		return err
	}
	if remaining == 0 {
		logger.Infof("stopped tracking %s (no open limit orders left)", tick.Asset)
		return e.watch.Remove(ctx, tick.Asset)
	}
	return nil
}

func (e *TriggerEngine) publishExecution(ctx context.Context, order *model.Order) {
	exec := model.NewExecution(order)
	payload, err := json.Marshal(exec)
	if err != nil {
		logger.Errorf("marshal execution event: %v", err)
		return
	}
	if err := e.bus.Publish(ctx, consts.ChannelTradeExecuted, payload); err != nil {
		logger.Errorf("publish execution event for order %d: %v", order.ID, err)
	}
}

// 买单在价格跌破限价时触发，卖单在价格突破限价时触发
func shouldTrigger(order *model.Order, tick *model.Tick) bool {
	if !order.LimitPrice.Valid {
		return false
	}
	limit := order.LimitPrice.Decimal
	switch order.Side {
	case model.Buy:
		return tick.Price.LessThanOrEqual(limit)
	case model.Sell:
		return tick.Price.GreaterThanOrEqual(limit)
	default:
		return false
	}
}
