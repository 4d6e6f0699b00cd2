package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

type OrderKind string

const (
	// 市价单，创建即进入执行队列，不落地open状态
	Market OrderKind = "market"
	// 限价单，open状态落库，由触发引擎成交
	Limit OrderKind = "limit"
)

type OrderStatus string

const (
	StatusOpen   OrderStatus = "open"
	StatusClosed OrderStatus = "closed"
)

// Order 订单记录。市价单只会以closed状态入库；
// 限价单以open入库，成交时由条件更新一次性切换到closed。
type Order struct {
	ID     int64     `gorm:"column:id;primary_key" json:"id"` // snowflake，下单侧生成
	UserID int64     `gorm:"column:user_id;index" json:"user_id"`
	Side   OrderSide `gorm:"column:side" json:"side"`
	Asset  string    `gorm:"column:asset;index" json:"asset"`
	Kind   OrderKind `gorm:"column:kind" json:"kind"`

	Qty decimal.Decimal `gorm:"column:qty;type:decimal(32,16)" json:"qty"`
	// 限价单的触发价，市价单为空
	LimitPrice decimal.NullDecimal `gorm:"column:limit_price;type:decimal(32,16)" json:"limit_price"`
	// 成交价，closed时写入
	Price decimal.Decimal `gorm:"column:price;type:decimal(32,16)" json:"price"`

	Status     OrderStatus `gorm:"column:status;index" json:"status"`
	CreatedAt  time.Time   `gorm:"column:created_at;index" json:"created_at"`
	ExecutedAt *time.Time  `gorm:"column:executed_at" json:"executed_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Execution 成交事件，发布到trade.executed通道
type Execution struct {
	OrderID    int64           `json:"order_id"`
	UserID     int64           `json:"user_id"`
	Side       OrderSide       `json:"side"`
	Asset      string          `json:"asset"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Status     OrderStatus     `json:"status"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// NewExecution 从已成交订单构造事件
func NewExecution(o *Order) Execution {
	e := Execution{
		OrderID: o.ID,
		UserID:  o.UserID,
		Side:    o.Side,
		Asset:   o.Asset,
		Qty:     o.Qty,
		Price:   o.Price,
		Status:  o.Status,
	}
	if o.ExecutedAt != nil {
		e.ExecutedAt = *o.ExecutedAt
	}
	return e
}
