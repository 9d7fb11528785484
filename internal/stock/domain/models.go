// Package domain contains the stock event ledger and update contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	EventTypeSale       = "sale"
	EventTypeReturn     = "return"
	EventTypeAdjustment = "adjustment"
	EventTypeRestock    = "restock"
)

func ValidEventType(s string) bool {
	switch s {
	case EventTypeSale, EventTypeReturn, EventTypeAdjustment, EventTypeRestock:
		return true
	default:
		return false
	}
}

// StockEvent is an append-only ledger row. The newest row per product
// carries the authoritative current stock in QuantityAfter.
type StockEvent struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       int64        `gorm:"not null;index"`
	ProductID      int64        `gorm:"not null;index:ix_stock_events_product_created,priority:1"`
	EventType      string       `gorm:"type:text;not null"`
	QuantityChange int          `gorm:"not null"`
	QuantityAfter  int          `gorm:"not null"`
	ReferenceID    string       `gorm:"type:text"`
	CreatedAt      time.Time    `gorm:"not null;index:ix_stock_events_product_created,priority:2;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (StockEvent) TableName() string { return "stock_events" }
