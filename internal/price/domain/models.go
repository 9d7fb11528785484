// Package domain contains price change records and the price event
// contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PriceEvent records one accepted price change. Immutable.
type PriceEvent struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	TenantID         int64           `gorm:"not null;index"`
	ProductID        int64           `gorm:"not null;index:ix_price_events_product_created,priority:1"`
	OldPrice         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	NewPrice         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ChangePercentage float64         `gorm:"not null"`
	IsAnomaly        bool            `gorm:"not null;default:false;index"`
	AnomalyReason    string          `gorm:"type:text"`
	CreatedAt        time.Time       `gorm:"not null;index:ix_price_events_product_created,priority:2;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PriceEvent) TableName() string { return "price_events" }

// PriceHistory is the append-only price timeline per product.
type PriceHistory struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	TenantID  int64           `gorm:"not null;index"`
	ProductID int64           `gorm:"not null;index"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PriceHistory) TableName() string { return "price_history" }
