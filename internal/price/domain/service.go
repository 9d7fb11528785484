package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/orderlens/internal/ratelimit"
)

type EventRequest struct {
	ProductID      int64           `json:"-"`
	IdempotencyKey string          `json:"-"`
	Price          decimal.Decimal `json:"price"`
}

type EventResult struct {
	Success          bool            `json:"success"`
	PriceEventID     string          `json:"price_event_id,omitempty"`
	OldPrice         decimal.Decimal `json:"old_price"`
	NewPrice         decimal.Decimal `json:"new_price"`
	ChangePercentage float64         `json:"change_percentage"`
	IsAnomaly        bool            `json:"is_anomaly"`
	AnomalyReason    string          `json:"anomaly_reason,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Duplicate        bool            `json:"duplicate,omitempty"`
}

type AnomalyRecord struct {
	ID               string          `json:"id"`
	ProductID        int64           `json:"product_id"`
	OldPrice         decimal.Decimal `json:"old_price"`
	NewPrice         decimal.Decimal `json:"new_price"`
	ChangePercentage float64         `json:"change_percentage"`
	AnomalyReason    string          `json:"anomaly_reason"`
	CreatedAt        time.Time       `json:"created_at"`
}

type AnomaliesFilter struct {
	Hours int
	Limit int
}

type Service interface {
	// ProcessEvent applies one price change: rate-limited per
	// (tenant, product), idempotent per key, anomaly-flagged, and
	// persisted together with the history row and the product update.
	ProcessEvent(context.Context, EventRequest) (*EventResult, error)
	// Anomalies lists recent anomalous price events for a product.
	Anomalies(ctx context.Context, productID int64, filter AnomaliesFilter) ([]AnomalyRecord, error)
	// RateLimitInfo reports the bucket state without consuming a token.
	RateLimitInfo(ctx context.Context, productID int64) (*ratelimit.RateLimitResult, error)
	// ResetRateLimit clears the bucket for a product.
	ResetRateLimit(ctx context.Context, productID int64) error
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidPrice          = errors.New("invalid_price")
	ErrRateLimited           = errors.New("rate_limit_exceeded")
)
