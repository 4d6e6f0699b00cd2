package dao

import (
	"context"
	"errors"
	"time"
	"tradeflow/internal/consts"
	"tradeflow/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// 余额不足，扣减侧的守卫更新没有命中任何行
	ErrInsufficientBalance = errors.New("insufficient balance")
	// 条件更新输掉了竞争，订单已被其他执行者关闭。这是预期情况，不算故障
	ErrOrderClosed = errors.New("order already closed")
)

// Ledger 余额与订单的系统记录。所有资金变动必须经过这里的
// 原子原语，余额行永远不为负，订单open->closed最多发生一次。
type Ledger interface {
	// 查询单个余额，行不存在视为0
	GetBalance(ctx context.Context, userID int64, asset string) (decimal.Decimal, error)
	// 查询用户全部余额行
	ListBalances(ctx context.Context, userID int64) ([]model.UserAsset, error)
	// 原子增减余额，减到负数时失败返回ErrInsufficientBalance，首次入金自动建行
	UpsertBalance(ctx context.Context, userID int64, asset string, delta decimal.Decimal) error
	// 创建订单记录（限价单open落库，市价单由ExecuteMarketOrder落库）
	CreateOrder(ctx context.Context, order *model.Order) error
	// 取该资产最新创建的一笔open限价单，没有时返回nil
	FindOpenLimitOrder(ctx context.Context, asset string) (*model.Order, error)
	// 条件关单：仅当仍为open时写入成交价并切换closed，返回是否赢得本次更新
	CloseOrderIfOpen(ctx context.Context, orderID int64, finalPrice decimal.Decimal, executedAt time.Time) (bool, error)
	// 该资产当前open限价单数量
	CountOpenLimitOrders(ctx context.Context, asset string) (int64, error)
	// 启动时重建watch-set用：所有有open限价单的资产及数量
	OpenLimitAssets(ctx context.Context) (map[string]int64, error)
	// 限价单成交：条件关单+双边资金划转在同一事务内，任一步失败整体回滚。
	// 竞争失败返回ErrOrderClosed，资金不足返回ErrInsufficientBalance（订单保持open）
	ExecuteLimitOrder(ctx context.Context, order *model.Order, price decimal.Decimal, executedAt time.Time) error
	// 市价单成交：双边资金划转+以closed状态落库订单，同一事务
	ExecuteMarketOrder(ctx context.Context, order *model.Order) error
}

type ledgerDao struct {
	db *gorm.DB
}

func NewLedgerDao(db *gorm.DB) Ledger {
	return &ledgerDao{db: db}
}

func (d *ledgerDao) GetBalance(ctx context.Context, userID int64, asset string) (decimal.Decimal, error) {
	var row model.UserAsset
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND asset = ?", userID, asset).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.Qty, nil
}

func (d *ledgerDao) ListBalances(ctx context.Context, userID int64) ([]model.UserAsset, error) {
	var rows []model.UserAsset
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("asset ASC").
		Find(&rows).Error
	return rows, err
}

func (d *ledgerDao) UpsertBalance(ctx context.Context, userID int64, asset string, delta decimal.Decimal) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if delta.IsNegative() {
			return debit(tx, userID, asset, delta.Neg())
		}
		return credit(tx, userID, asset, delta)
	})
}

func (d *ledgerDao) CreateOrder(ctx context.Context, order *model.Order) error {
	return d.db.WithContext(ctx).Create(order).Error
}

func (d *ledgerDao) FindOpenLimitOrder(ctx context.Context, asset string) (*model.Order, error) {
	var order model.Order
	err := d.db.WithContext(ctx).
		Where("asset = ? AND kind = ? AND status = ?", asset, model.Limit, model.StatusOpen).
		Order("created_at DESC, id DESC").
		Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *ledgerDao) CloseOrderIfOpen(ctx context.Context, orderID int64, finalPrice decimal.Decimal, executedAt time.Time) (bool, error) {
	res := closeIfOpen(d.db.WithContext(ctx), orderID, finalPrice, executedAt)
	return res.RowsAffected == 1, res.Error
}

func (d *ledgerDao) CountOpenLimitOrders(ctx context.Context, asset string) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&model.Order{}).
		Where("asset = ? AND kind = ? AND status = ?", asset, model.Limit, model.StatusOpen).
		Count(&count).Error
	return count, err
}

func (d *ledgerDao) OpenLimitAssets(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Asset string
		Cnt   int64
	}
	err := d.db.WithContext(ctx).Model(&model.Order{}).
		Select("asset, count(*) as cnt").
		Where("kind = ? AND status = ?", model.Limit, model.StatusOpen).
		Group("asset").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Asset] = r.Cnt
	}
	return counts, nil
}

func (d *ledgerDao) ExecuteLimitOrder(ctx context.Context, order *model.Order, price decimal.Decimal, executedAt time.Time) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先做条件关单。输掉竞争时事务内没有任何写入，直接退出；
		// 赢了但后续资金划转失败时整个事务回滚，订单回到open，
		// 保证“余额变动当且仅当状态切换成功”。
		res := closeIfOpen(tx, order.ID, price, executedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOrderClosed
		}
		return settle(tx, order.UserID, order.Side, order.Asset, order.Qty, price)
	})
	if err != nil {
		return err
	}
	order.Status = model.StatusClosed
	order.Price = price
	order.ExecutedAt = &executedAt
	return nil
}

func (d *ledgerDao) ExecuteMarketOrder(ctx context.Context, order *model.Order) error {
	executedAt := time.Now()
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := settle(tx, order.UserID, order.Side, order.Asset, order.Qty, order.Price); err != nil {
			return err
		}
		// 市价单没有可观测的open状态，成交即以closed落库
		order.Status = model.StatusClosed
		order.ExecutedAt = &executedAt
		return tx.Create(order).Error
	})
	if err != nil {
		order.Status = ""
		order.ExecutedAt = nil
	}
	return err
}

// closeIfOpen 乐观守卫：UPDATE ... WHERE id = ? AND status = 'open'。
// RowsAffected为0说明已有并发执行者抢先关单
func closeIfOpen(tx *gorm.DB, orderID int64, finalPrice decimal.Decimal, executedAt time.Time) *gorm.DB {
	return tx.Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.StatusOpen).
		Updates(map[string]interface{}{
			"status":      model.StatusClosed,
			"price":       finalPrice,
			"executed_at": executedAt,
		})
}

// settle 双边资金划转：买单扣美元加资产，卖单扣资产加美元。
// 必须在事务内调用
func settle(tx *gorm.DB, userID int64, side model.OrderSide, asset string, qty, price decimal.Decimal) error {
	notional := qty.Mul(price)
	if side == model.Buy {
		if err := debit(tx, userID, consts.AssetUSD, notional); err != nil {
			return err
		}
		return credit(tx, userID, asset, qty)
	}
	if err := debit(tx, userID, asset, qty); err != nil {
		return err
	}
	return credit(tx, userID, consts.AssetUSD, notional)
}

// debit 守卫扣减：只在现有余额足够时命中，防止出现负余额。
// 行不存在等同余额为0
func debit(tx *gorm.DB, userID int64, asset string, amount decimal.Decimal) error {
	res := tx.Model(&model.UserAsset{}).
		Where("user_id = ? AND asset = ? AND qty >= ?", userID, asset, amount).
		Update("qty", gorm.Expr("qty - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// credit 加款。upsert走唯一索引，两个并发的首次入金
// 不会在建行上互相撞死，后到的退化成qty累加
func credit(tx *gorm.DB, userID int64, asset string, amount decimal.Decimal) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "asset"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"qty": gorm.Expr("qty + ?", amount)}),
	}).Create(&model.UserAsset{
		UserID: userID,
		Asset:  asset,
		Qty:    amount,
	}).Error
}
