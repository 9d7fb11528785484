package domain

import (
	"context"
	"errors"
	"time"
)

type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyMerge         Strategy = "merge"
	StrategyReject        Strategy = "reject"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLastWriteWins, StrategyMerge, StrategyReject:
		return Strategy(s), nil
	default:
		return "", ErrInvalidStrategy
	}
}

// ConflictWindow flags a product as recently updated. Touch reports
// whether another update landed inside the conflict window and marks
// this one. A time-window heuristic, not a version check: it can miss
// real conflicts once the window expires.
type ConflictWindow interface {
	Touch(ctx context.Context, tenantID, productID int64) (bool, error)
}

type EventInput struct {
	ProductID      int64  `json:"product_id"`
	EventType      string `json:"event_type"`
	QuantityChange int    `json:"quantity_change"`
	ReferenceID    string `json:"reference_id,omitempty"`
}

type BulkUpdateRequest struct {
	Events   []EventInput `json:"events"`
	Strategy Strategy     `json:"conflict_strategy"`
}

type ProductResult struct {
	ProductID        int64  `json:"product_id"`
	Success          bool   `json:"success"`
	InitialStock     int    `json:"initial_stock"`
	FinalStock       int    `json:"final_stock"`
	EventsProcessed  int    `json:"events_processed"`
	ConflictResolved bool   `json:"conflict_resolved"`
	Strategy         string `json:"conflict_resolution_strategy"`
	Error            string `json:"error,omitempty"`
}

type BulkUpdateResult struct {
	Success           bool            `json:"success"`
	TotalProducts     int             `json:"total_products"`
	SuccessfulUpdates int             `json:"successful_updates"`
	FailedUpdates     int             `json:"failed_updates"`
	Results           []ProductResult `json:"results"`
}

type CurrentStock struct {
	ProductID     int64      `json:"product_id"`
	CurrentStock  int        `json:"current_stock"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
	LastEventType string     `json:"last_event_type,omitempty"`
}

type EventRecord struct {
	ID             string    `json:"id"`
	ProductID      int64     `json:"product_id"`
	EventType      string    `json:"event_type"`
	QuantityChange int       `json:"quantity_change"`
	QuantityAfter  int       `json:"quantity_after"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type EventsFilter struct {
	EventType string
	Limit     int
}

type Service interface {
	// BulkUpdate applies events grouped per product, each group under an
	// exclusive product row lock. Partial success is representable: one
	// product failing never rolls back the others.
	BulkUpdate(context.Context, BulkUpdateRequest) (*BulkUpdateResult, error)
	// Stock reports the product's current level from the latest ledger row.
	Stock(ctx context.Context, productID int64) (*CurrentStock, error)
	// Events lists the product's ledger, newest first.
	Events(ctx context.Context, productID int64, filter EventsFilter) ([]EventRecord, error)
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidStrategy = errors.New("invalid_conflict_strategy")
	ErrInvalidEvent    = errors.New("invalid_stock_event")
	ErrNoEvents        = errors.New("no_stock_events")
)
