package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type GroupBy string

const (
	GroupByDay      GroupBy = "day"
	GroupByHour     GroupBy = "hour"
	GroupByProduct  GroupBy = "product"
	GroupByCategory GroupBy = "category"
)

// ParseGroupBy rejects anything outside the closed set.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case GroupByDay, GroupByHour, GroupByProduct, GroupByCategory:
		return GroupBy(s), nil
	default:
		return "", ErrInvalidGroupBy
	}
}

type Precision string

const (
	PrecisionExact  Precision = "exact"
	PrecisionApprox Precision = "approx"
)

func ParsePrecision(s string) (Precision, error) {
	switch Precision(s) {
	case PrecisionExact, PrecisionApprox:
		return Precision(s), nil
	default:
		return "", ErrInvalidPrecision
	}
}

type MetricsRequest struct {
	GroupBy   GroupBy
	Start     time.Time
	End       time.Time
	Precision Precision
}

// TimeBucket is one exact day or hour aggregation row.
type TimeBucket struct {
	Period          string          `json:"period"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	TotalOrders     int64           `json:"total_orders"`
	UniqueCustomers int64           `json:"unique_customers"`
	AvgOrderValue   decimal.Decimal `json:"avg_order_value"`
}

type ProductBucket struct {
	ProductID       int64           `json:"product_id"`
	ProductName     string          `json:"product_name"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	TotalQuantity   int64           `json:"total_quantity"`
	UniqueCustomers int64           `json:"unique_customers"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
}

type CategoryBucket struct {
	Category        string          `json:"category"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	TotalOrders     int64           `json:"total_orders"`
	UniqueCustomers int64           `json:"unique_customers"`
	AvgOrderValue   decimal.Decimal `json:"avg_order_value"`
}

// ApproxBucket carries whole-range sketch estimates; every bucket in a
// response reports the same global figures.
type ApproxBucket struct {
	Period                string  `json:"period"`
	UniqueCustomersApprox uint64  `json:"unique_customers_approx"`
	P50Revenue            float64 `json:"p50_revenue"`
	P95Revenue            float64 `json:"p95_revenue"`
	P99Revenue            float64 `json:"p99_revenue"`
}

type ErrorBounds struct {
	UniqueCustomersError string `json:"unique_customers_error"`
	PercentilesError     string `json:"percentiles_error"`
}

type MetricsResult struct {
	Data        any          `json:"data"`
	Method      string       `json:"method"`
	Cached      bool         `json:"cached"`
	ErrorBounds *ErrorBounds `json:"error_bounds"`
}

const (
	MethodExactSQL             = "exact_sql"
	MethodMaterializedView     = "materialized_view"
	MethodApproximateStreaming = "approximate_streaming"
)

type Service interface {
	// SalesMetrics aggregates orders over [start, end]. Exact results
	// come from grouped SQL with a materialized-view cache in front;
	// approximate results stream rows through in-memory sketches.
	SalesMetrics(context.Context, MetricsRequest) (*MetricsResult, error)
	// Invalidate drops all of the tenant's materialized views. Returns
	// the number deleted.
	Invalidate(ctx context.Context) (int64, error)
}

var (
	ErrInvalidGroupBy   = errors.New("invalid_group_by")
	ErrInvalidPrecision = errors.New("invalid_precision")
	ErrInvalidDateRange = errors.New("invalid_date_range")
	ErrInvalidTenant    = errors.New("invalid_tenant")
)
