package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	aggdomain "github.com/smallbiznis/orderlens/internal/aggregation/domain"
	catalogdomain "github.com/smallbiznis/orderlens/internal/catalog/domain"
	"github.com/smallbiznis/orderlens/internal/config"
	orderdomain "github.com/smallbiznis/orderlens/internal/order/domain"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testTenantID int64 = 8001

func setupService(t *testing.T) (aggdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Product{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&aggdomain.MaterializedView{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Config: config.Config{AggregationTimeout: 30 * time.Second},
	})
	return svc, db
}

func seedOrder(t *testing.T, db *gorm.DB, id int64, status string, amount int64, customerID int64, createdAt time.Time) {
	t.Helper()

	order := orderdomain.Order{
		ID:          id,
		TenantID:    testTenantID,
		CustomerID:  &customerID,
		OrderNumber: fmt.Sprintf("ORD-%d", id),
		Status:      status,
		TotalAmount: decimal.NewFromInt(amount),
		Currency:    "USD",
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	require.NoError(t, db.Create(&order).Error)
}

func tenantCtx() context.Context {
	return tenantctx.WithTenantID(context.Background(), testTenantID)
}

func TestSalesMetrics_ExactByDay(t *testing.T) {
	svc, db := setupService(t)

	day1 := time.Date(2026, 8, 10, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 11, 10, 0, 0, 0, time.UTC)
	seedOrder(t, db, 1, orderdomain.StatusPaid, 100, 501, day1)
	seedOrder(t, db, 2, orderdomain.StatusShipped, 200, 502, day1)
	seedOrder(t, db, 3, orderdomain.StatusDelivered, 50, 501, day2)
	seedOrder(t, db, 4, orderdomain.StatusCancelled, 999, 503, day1)

	result, err := svc.SalesMetrics(tenantCtx(), aggdomain.MetricsRequest{
		GroupBy:   aggdomain.GroupByDay,
		Start:     time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC),
		Precision: aggdomain.PrecisionExact,
	})
	require.NoError(t, err)
	assert.Equal(t, aggdomain.MethodExactSQL, result.Method)
	assert.False(t, result.Cached)
	assert.Nil(t, result.ErrorBounds)

	buckets, ok := result.Data.([]aggdomain.TimeBucket)
	require.True(t, ok)
	require.Len(t, buckets, 2)

	// DESC by period: day2 first.
	assert.Equal(t, "2026-08-11", buckets[0].Period)
	assert.EqualValues(t, 1, buckets[0].TotalOrders)
	assert.True(t, buckets[0].TotalRevenue.Equal(decimal.NewFromInt(50)))

	assert.Equal(t, "2026-08-10", buckets[1].Period)
	assert.EqualValues(t, 2, buckets[1].TotalOrders)
	assert.EqualValues(t, 2, buckets[1].UniqueCustomers)
	assert.True(t, buckets[1].TotalRevenue.Equal(decimal.NewFromInt(300)))
	assert.True(t, buckets[1].AvgOrderValue.Equal(decimal.NewFromInt(150)))
}

func TestSalesMetrics_MaterializedViewHit(t *testing.T) {
	svc, _ := setupService(t)

	req := aggdomain.MetricsRequest{
		GroupBy:   aggdomain.GroupByDay,
		Start:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		Precision: aggdomain.PrecisionExact,
	}

	first, err := svc.SalesMetrics(tenantCtx(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.SalesMetrics(tenantCtx(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, aggdomain.MethodMaterializedView, second.Method)

	raw, ok := second.Data.(json.RawMessage)
	require.True(t, ok)
	var decoded []aggdomain.TimeBucket
	require.NoError(t, json.Unmarshal(raw, &decoded))
}

func TestSalesMetrics_ApproxNeverCached(t *testing.T) {
	svc, db := setupService(t)

	req := aggdomain.MetricsRequest{
		GroupBy:   aggdomain.GroupByDay,
		Start:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC),
		Precision: aggdomain.PrecisionApprox,
	}

	for i := 0; i < 2; i++ {
		result, err := svc.SalesMetrics(tenantCtx(), req)
		require.NoError(t, err)
		assert.False(t, result.Cached)
		assert.Equal(t, aggdomain.MethodApproximateStreaming, result.Method)
	}

	var count int64
	require.NoError(t, db.Model(&aggdomain.MaterializedView{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestSalesMetrics_ApproxGlobalBuckets(t *testing.T) {
	svc, db := setupService(t)

	base := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	for i := int64(0); i < 50; i++ {
		seedOrder(t, db, 100+i, orderdomain.StatusPaid, 10+i, 600+i, base.Add(time.Duration(i)*time.Minute))
	}

	result, err := svc.SalesMetrics(tenantCtx(), aggdomain.MetricsRequest{
		GroupBy:   aggdomain.GroupByDay,
		Start:     time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC),
		Precision: aggdomain.PrecisionApprox,
	})
	require.NoError(t, err)
	require.NotNil(t, result.ErrorBounds)

	buckets, ok := result.Data.([]aggdomain.ApproxBucket)
	require.True(t, ok)
	require.Len(t, buckets, 3)

	// Every bucket reports the same whole-range estimate.
	for _, b := range buckets {
		assert.Equal(t, buckets[0].UniqueCustomersApprox, b.UniqueCustomersApprox)
		assert.Equal(t, buckets[0].P50Revenue, b.P50Revenue)
	}
	assert.InDelta(t, 50, float64(buckets[0].UniqueCustomersApprox), 5)
	assert.LessOrEqual(t, buckets[0].P50Revenue, buckets[0].P95Revenue)
	assert.LessOrEqual(t, buckets[0].P95Revenue, buckets[0].P99Revenue)
}

func TestSalesMetrics_Validation(t *testing.T) {
	svc, _ := setupService(t)

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	_, err := svc.SalesMetrics(tenantCtx(), aggdomain.MetricsRequest{
		GroupBy: "week", Start: start, End: end, Precision: aggdomain.PrecisionExact,
	})
	assert.ErrorIs(t, err, aggdomain.ErrInvalidGroupBy)

	_, err = svc.SalesMetrics(tenantCtx(), aggdomain.MetricsRequest{
		GroupBy: aggdomain.GroupByDay, Start: start, End: end, Precision: "fuzzy",
	})
	assert.ErrorIs(t, err, aggdomain.ErrInvalidPrecision)

	_, err = svc.SalesMetrics(tenantCtx(), aggdomain.MetricsRequest{
		GroupBy: aggdomain.GroupByDay, Start: end, End: start, Precision: aggdomain.PrecisionExact,
	})
	assert.ErrorIs(t, err, aggdomain.ErrInvalidDateRange)

	_, err = svc.SalesMetrics(context.Background(), aggdomain.MetricsRequest{
		GroupBy: aggdomain.GroupByDay, Start: start, End: end, Precision: aggdomain.PrecisionExact,
	})
	assert.ErrorIs(t, err, aggdomain.ErrInvalidTenant)
}

func TestInvalidate_DropsTenantViews(t *testing.T) {
	svc, db := setupService(t)

	req := aggdomain.MetricsRequest{
		GroupBy:   aggdomain.GroupByCategory,
		Start:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		Precision: aggdomain.PrecisionExact,
	}
	_, err := svc.SalesMetrics(tenantCtx(), req)
	require.NoError(t, err)

	deleted, err := svc.Invalidate(tenantCtx())
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var count int64
	require.NoError(t, db.Model(&aggdomain.MaterializedView{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	after, err := svc.SalesMetrics(tenantCtx(), req)
	require.NoError(t, err)
	assert.False(t, after.Cached)
}
