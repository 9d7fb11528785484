package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorDetailCap bounds the per-response error list so a mostly-broken
// chunk cannot bloat the reply.
const ErrorDetailCap = 10

type OrderItemRow struct {
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderRow struct {
	OrderNumber   string          `json:"order_number"`
	CustomerEmail string          `json:"customer_email"`
	CustomerName  string          `json:"customer_name"`
	Status        string          `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []OrderItemRow  `json:"items"`
}

type ProcessChunkRequest struct {
	IdempotencyKey string     `json:"-"`
	Rows           []OrderRow `json:"rows"`
}

type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type ChunkResult struct {
	JobID            string     `json:"job_id"`
	Status           string     `json:"status"`
	RowsReceived     int        `json:"rows_received"`
	RowsInserted     int        `json:"rows_inserted"`
	RowsFailed       int        `json:"rows_failed"`
	ErrorDetails     []RowError `json:"error_details,omitempty"`
	AlreadyCompleted bool       `json:"already_completed,omitempty"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
}

type JobStatus struct {
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"`
	TotalRows     int        `json:"total_rows"`
	ProcessedRows int        `json:"processed_rows"`
	FailedRows    int        `json:"failed_rows"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type Service interface {
	// ProcessChunk ingests one chunk of rows under the job named by the
	// idempotency key. Replays of a completed job perform no writes.
	ProcessChunk(context.Context, ProcessChunkRequest) (*ChunkResult, error)
	// Complete marks the job finished once the caller has sent all chunks.
	Complete(ctx context.Context, idempotencyKey string) (*JobStatus, error)
	// Status reports job progress.
	Status(ctx context.Context, idempotencyKey string) (*JobStatus, error)
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrEmptyChunk            = errors.New("empty_chunk")
	ErrChunkTooLarge         = errors.New("chunk_too_large")
	ErrJobFailed             = errors.New("job_failed")
	ErrJobNotFound           = errors.New("job_not_found")
)
