package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserAsset 用户某一资产的余额行，(user_id, asset)唯一。
// 首次入金时创建，之后只做原子增减，永远不为负，也不会删除。
type UserAsset struct {
	ID        int64           `gorm:"column:id;primary_key;autoIncrement" json:"id"`
	UserID    int64           `gorm:"column:user_id;uniqueIndex:uk_user_asset" json:"user_id"`
	Asset     string          `gorm:"column:asset;uniqueIndex:uk_user_asset" json:"asset"`
	Qty       decimal.Decimal `gorm:"column:qty;type:decimal(32,16)" json:"qty"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (UserAsset) TableName() string {
	return "user_asset"
}
