// Package domain defines the order search contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxLimit caps non-streaming responses held in memory.
	MaxLimit = 10_000
	// MaxStreamLimit caps one streaming pass.
	MaxStreamLimit = 100_000
	DefaultLimit   = 100
)

type Filters struct {
	StartDate      *time.Time
	EndDate        *time.Time
	Statuses       []string
	MinAmount      *decimal.Decimal
	MaxAmount      *decimal.Decimal
	ProductIDs     []int64
	CustomerSearch string
}

type Request struct {
	Filters Filters
	Cursor  string
	Limit   int
	Fields  []string
}

// Row is one projected result row; keys follow the requested field list.
type Row map[string]any

type Pagination struct {
	NextCursor *string `json:"next_cursor"`
	Limit      int     `json:"limit"`
	Count      int     `json:"count"`
}

type Result struct {
	Data       []Row      `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type StreamSummary struct {
	Rows       int
	NextCursor *string
}

type Service interface {
	// Search returns one bounded page ordered created_at DESC, id DESC.
	Search(context.Context, Request) (*Result, error)
	// Stream emits projected rows through fn until the limit, the end of
	// the result set, a callback error, or ctx cancellation.
	Stream(ctx context.Context, req Request, fn func(Row) error) (*StreamSummary, error)
}

var ErrInvalidTenant = errors.New("invalid_tenant")
