package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"tradeflow/internal/bus"
	"tradeflow/internal/consts"
	"tradeflow/internal/dao"
	"tradeflow/internal/engine"
	"tradeflow/internal/model"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
	"tradeflow/pkg/logger"

	"github.com/bwmarrin/snowflake"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// OrderService 下单入口。
// 市价单：按最新价快照预检资金后进入执行队列，不落地open状态；
// 限价单：预检资金后以open落库，并把资产登记进watch-set。
type OrderService struct {
	ledger   dao.Ledger
	queue    bus.Queue
	snapshot bus.PriceSnapshot
	watch    engine.WatchSet
	node     *snowflake.Node
}

func NewOrderService(ledger dao.Ledger, q bus.Queue, snapshot bus.PriceSnapshot, watch engine.WatchSet, node *snowflake.Node) *OrderService {
	return &OrderService{ledger: ledger, queue: q, snapshot: snapshot, watch: watch, node: node}
}

// NormalizeAsset 交易对 -> 资产符号，BTCUSDT/btc -> BTC
func NormalizeAsset(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), consts.QuoteSuffix)
}

// PlaceMarketOrder 市价下单。资金预检在这里同步反馈给调用方，
// 执行器出队后还会以账本为准再校验一次
func (s *OrderService) PlaceMarketOrder(ctx context.Context, userID int64, side model.OrderSide, asset string, qty decimal.Decimal) (*model.Order, error) {
	if qty.Sign() <= 0 {
		return nil, errors.New(ecode.InvalidParams)
	}
	asset = NormalizeAsset(asset)

	price, ok, err := s.snapshot.GetLatestPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.WithCode(ecode.NoPriceAvailable, fmt.Sprintf("no price available for %s", asset))
	}

	if err := s.checkFunds(ctx, userID, side, asset, qty, price); err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:        s.node.Generate().Int64(),
		UserID:    userID,
		Side:      side,
		Asset:     asset,
		Kind:      model.Market,
		Qty:       qty,
		Price:     price,
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Push(ctx, payload); err != nil {
		return nil, err
	}
	logger.Infof("queued market order %d (%s %s %s) at %s", order.ID, side, qty, asset, price)
	return order, nil
}

// PlaceLimitOrder 限价下单
func (s *OrderService) PlaceLimitOrder(ctx context.Context, userID int64, side model.OrderSide, asset string, qty, limitPrice decimal.Decimal) (*model.Order, error) {
	if qty.Sign() <= 0 || limitPrice.Sign() <= 0 {
		return nil, errors.New(ecode.InvalidParams)
	}
	asset = NormalizeAsset(asset)

	// 以限价作为预检价格：买单最多花qty*limit美元
	if err := s.checkFunds(ctx, userID, side, asset, qty, limitPrice); err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:         s.node.Generate().Int64(),
		UserID:     userID,
		Side:       side,
		Asset:      asset,
		Kind:       model.Limit,
		Qty:        qty,
		LimitPrice: decimal.NewNullDecimal(limitPrice),
		Status:     model.StatusOpen,
		CreatedAt:  time.Now(),
	}
	if err := s.ledger.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	// 挂单落库成功后才登记追踪，引擎即使错过登记也能靠Restore重建
	if err := s.watch.Track(ctx, asset); err != nil {
		logger.Errorf("track asset %s: %v", asset, err)
	}
	logger.Infof("placed limit order %d (%s %s %s, limit %s)", order.ID, side, qty, asset, limitPrice)
	return order, nil
}

// Deposit 美元入金
func (s *OrderService) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errors.New(ecode.InvalidParams)
	}
	return s.ledger.UpsertBalance(ctx, userID, consts.AssetUSD, amount)
}

// Balances 用户全部余额
func (s *OrderService) Balances(ctx context.Context, userID int64) ([]model.UserAsset, error) {
	return s.ledger.ListBalances(ctx, userID)
}

// LatestPrices 最新价快照
func (s *OrderService) LatestPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s.snapshot.LatestPrices(ctx)
}

func (s *OrderService) checkFunds(ctx context.Context, userID int64, side model.OrderSide, asset string, qty, price decimal.Decimal) error {
	switch side {
	case model.Buy:
		balance, err := s.ledger.GetBalance(ctx, userID, consts.AssetUSD)
		if err != nil {
			return err
		}
		if balance.LessThan(qty.Mul(price)) {
			return errors.WithCode(ecode.InsufficientBalance, "insufficient USD balance")
		}
	case model.Sell:
		balance, err := s.ledger.GetBalance(ctx, userID, asset)
		if err != nil {
			return err
		}
		if balance.LessThan(qty) {
			return errors.WithCode(ecode.InsufficientBalance, fmt.Sprintf("insufficient %s balance", asset))
		}
	default:
		return errors.New(ecode.InvalidParams)
	}
	return nil
}
