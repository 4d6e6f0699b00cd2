package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick 规整后的一笔成交行情。不落库，只在总线上流转。
type Tick struct {
	// 资产符号，已剥掉计价后缀，例如 BTC
	Asset string `json:"asset"`
	// 行情源原始交易对，例如 BTCUSDT
	Symbol  string          `json:"symbol"`
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"qty"`
	Ts      time.Time       `json:"ts"`
	IsMaker bool            `json:"is_maker"`
}
