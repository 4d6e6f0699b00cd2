package dao

import (
	"context"
	"sync"
	"testing"
	"time"
	"tradeflow/internal/consts"
	"tradeflow/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestLedger(t *testing.T) Ledger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库在多连接下各自为政，收敛到单连接
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.UserAsset{}, &model.Order{}))
	return NewLedgerDao(db)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestUpsertBalance(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	// 行不存在视为0
	balance, err := ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	// 首次入金建行
	require.NoError(t, ledger.UpsertBalance(ctx, 1, consts.AssetUSD, dec("1000")))
	balance, err = ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1000")), "got %s", balance)

	// 再次入金累加
	require.NoError(t, ledger.UpsertBalance(ctx, 1, consts.AssetUSD, dec("500")))
	balance, err = ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1500")))

	// 扣减不能越过0
	err = ledger.UpsertBalance(ctx, 1, consts.AssetUSD, dec("-2000"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	balance, err = ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1500")), "failed debit must not change balance")

	// 没有余额行的用户扣减同样失败
	err = ledger.UpsertBalance(ctx, 2, consts.AssetUSD, dec("-1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestUpsertBalance_ConcurrentFirstCredits(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	// 多个首次入金同时到达，upsert保证既不撞唯一索引也不丢增量
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ledger.UpsertBalance(ctx, 42, consts.AssetUSD, dec("10"))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "credit %d", i)
	}

	balance, err := ledger.GetBalance(ctx, 42, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("80")), "got %s", balance)

	rows, err := ledger.ListBalances(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "exactly one row per (user, asset)")
}

func TestExecuteMarketOrder_Buy(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.UpsertBalance(ctx, 1, consts.AssetUSD, dec("1000")))

	order := &model.Order{
		ID:        101,
		UserID:    1,
		Side:      model.Buy,
		Asset:     "UNIT",
		Kind:      model.Market,
		Qty:       dec("10"),
		Price:     dec("55"),
		CreatedAt: time.Now(),
	}
	require.NoError(t, ledger.ExecuteMarketOrder(ctx, order))

	usd, err := ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, usd.Equal(dec("450")), "1000 - 10*55, got %s", usd)

	unit, err := ledger.GetBalance(ctx, 1, "UNIT")
	require.NoError(t, err)
	assert.True(t, unit.Equal(dec("10")))

	// 市价单直接以closed落库
	assert.Equal(t, model.StatusClosed, order.Status)
	require.NotNil(t, order.ExecutedAt)
}

func TestExecuteMarketOrder_SellRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.UpsertBalance(ctx, 1, "BTC", dec("2")))

	order := &model.Order{
		ID:     102,
		UserID: 1,
		Side:   model.Sell,
		Asset:  "BTC",
		Kind:   model.Market,
		Qty:    dec("0.5"),
		Price:  dec("60000"),
	}
	require.NoError(t, ledger.ExecuteMarketOrder(ctx, order))

	btc, err := ledger.GetBalance(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, btc.Equal(dec("1.5")))

	usd, err := ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, usd.Equal(dec("30000")))
}

func TestExecuteMarketOrder_InsufficientRollsBack(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.UpsertBalance(ctx, 1, consts.AssetUSD, dec("100")))

	order := &model.Order{
		ID:     103,
		UserID: 1,
		Side:   model.Buy,
		Asset:  "UNIT",
		Kind:   model.Market,
		Qty:    dec("10"),
		Price:  dec("55"),
	}
	err := ledger.ExecuteMarketOrder(ctx, order)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// 失败的成交不留任何痕迹：余额不变，订单不落库
	usd, err := ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, usd.Equal(dec("100")))

	count, err := ledger.CountOpenLimitOrders(ctx, "UNIT")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFindOpenLimitOrder_NewestFirst(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	older := &model.Order{
		ID: 1, UserID: 1, Side: model.Buy, Asset: "ETH", Kind: model.Limit,
		Qty: dec("1"), LimitPrice: decimal.NewNullDecimal(dec("2000")),
		Status: model.StatusOpen, CreatedAt: time.Now().Add(-time.Minute),
	}
	newer := &model.Order{
		ID: 2, UserID: 2, Side: model.Buy, Asset: "ETH", Kind: model.Limit,
		Qty: dec("2"), LimitPrice: decimal.NewNullDecimal(dec("2100")),
		Status: model.StatusOpen, CreatedAt: time.Now(),
	}
	require.NoError(t, ledger.CreateOrder(ctx, older))
	require.NoError(t, ledger.CreateOrder(ctx, newer))

	got, err := ledger.FindOpenLimitOrder(ctx, "ETH")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID, "latest created open order wins")

	// 没有挂单的资产返回nil而不是错误
	got, err = ledger.FindOpenLimitOrder(ctx, "DOGE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCloseOrderIfOpen_WinsOnce(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	order := &model.Order{
		ID: 7, UserID: 1, Side: model.Sell, Asset: "SOL", Kind: model.Limit,
		Qty: dec("3"), LimitPrice: decimal.NewNullDecimal(dec("150")),
		Status: model.StatusOpen, CreatedAt: time.Now(),
	}
	require.NoError(t, ledger.CreateOrder(ctx, order))

	won, err := ledger.CloseOrderIfOpen(ctx, 7, dec("151"), time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	// 第二次条件更新必然落空
	won, err = ledger.CloseOrderIfOpen(ctx, 7, dec("152"), time.Now())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestExecuteLimitOrder(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.UpsertBalance(ctx, 1, consts.AssetUSD, dec("1000")))

	order := &model.Order{
		ID: 11, UserID: 1, Side: model.Buy, Asset: "UNIT", Kind: model.Limit,
		Qty: dec("10"), LimitPrice: decimal.NewNullDecimal(dec("60")),
		Status: model.StatusOpen, CreatedAt: time.Now(),
	}
	require.NoError(t, ledger.CreateOrder(ctx, order))

	executedAt := time.Now()
	require.NoError(t, ledger.ExecuteLimitOrder(ctx, order, dec("55"), executedAt))

	assert.Equal(t, model.StatusClosed, order.Status)
	assert.True(t, order.Price.Equal(dec("55")), "settles at tick price, not limit price")

	usd, err := ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, usd.Equal(dec("450")))
	unit, err := ledger.GetBalance(ctx, 1, "UNIT")
	require.NoError(t, err)
	assert.True(t, unit.Equal(dec("10")))

	// 重放同一订单输掉条件更新，余额不再变动
	replay := *order
	replay.Status = model.StatusOpen
	err = ledger.ExecuteLimitOrder(ctx, &replay, dec("54"), time.Now())
	assert.ErrorIs(t, err, ErrOrderClosed)
	usd, err = ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, usd.Equal(dec("450")))
}

func TestExecuteLimitOrder_InsufficientKeepsOrderOpen(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.UpsertBalance(ctx, 1, consts.AssetUSD, dec("100")))

	order := &model.Order{
		ID: 12, UserID: 1, Side: model.Buy, Asset: "UNIT", Kind: model.Limit,
		Qty: dec("10"), LimitPrice: decimal.NewNullDecimal(dec("60")),
		Status: model.StatusOpen, CreatedAt: time.Now(),
	}
	require.NoError(t, ledger.CreateOrder(ctx, order))

	err := ledger.ExecuteLimitOrder(ctx, order, dec("55"), time.Now())
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// 条件关单随事务回滚，订单仍然open，等待资金到位后的下一个tick
	got, err := ledger.FindOpenLimitOrder(ctx, "UNIT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(12), got.ID)

	usd, err := ledger.GetBalance(ctx, 1, consts.AssetUSD)
	require.NoError(t, err)
	assert.True(t, usd.Equal(dec("100")))
}

func TestOpenLimitAssets(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	orders := []*model.Order{
		{ID: 21, UserID: 1, Side: model.Buy, Asset: "BTC", Kind: model.Limit,
			Qty: dec("1"), LimitPrice: decimal.NewNullDecimal(dec("50000")), Status: model.StatusOpen, CreatedAt: time.Now()},
		{ID: 22, UserID: 2, Side: model.Sell, Asset: "BTC", Kind: model.Limit,
			Qty: dec("1"), LimitPrice: decimal.NewNullDecimal(dec("70000")), Status: model.StatusOpen, CreatedAt: time.Now()},
		{ID: 23, UserID: 1, Side: model.Buy, Asset: "ETH", Kind: model.Limit,
			Qty: dec("1"), LimitPrice: decimal.NewNullDecimal(dec("2000")), Status: model.StatusClosed, CreatedAt: time.Now()},
	}
	for _, o := range orders {
		require.NoError(t, ledger.CreateOrder(ctx, o))
	}

	counts, err := ledger.OpenLimitAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"BTC": 2}, counts, "closed orders do not count")

	n, err := ledger.CountOpenLimitOrders(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
