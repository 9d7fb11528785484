package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	aggdomain "github.com/smallbiznis/orderlens/internal/aggregation/domain"
	"github.com/smallbiznis/orderlens/internal/config"
	obsmetrics "github.com/smallbiznis/orderlens/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/orderlens/internal/order/domain"
	"github.com/smallbiznis/orderlens/pkg/sketch"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	viewNameSalesMetrics = "sales_metrics"
	streamBatchSize      = 1000
	productBucketLimit   = 1000
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
	timeout    time.Duration
}

func NewService(p ServiceParam) aggdomain.Service {
	timeout := p.Config.AggregationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("aggregation.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
		timeout:    timeout,
	}
}

func (s *Service) SalesMetrics(ctx context.Context, req aggdomain.MetricsRequest) (*aggdomain.MetricsResult, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, aggdomain.ErrInvalidTenant
	}
	if _, err := aggdomain.ParseGroupBy(string(req.GroupBy)); err != nil {
		return nil, err
	}
	if _, err := aggdomain.ParsePrecision(string(req.Precision)); err != nil {
		return nil, err
	}
	if req.Start.IsZero() || req.End.IsZero() || req.End.Before(req.Start) {
		return nil, aggdomain.ErrInvalidDateRange
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if req.Precision == aggdomain.PrecisionExact {
		if cached, err := s.lookupView(ctx, tenantID, req); err != nil {
			return nil, err
		} else if cached != nil {
			return cached, nil
		}
		return s.exactAggregation(ctx, tenantID, req)
	}
	return s.approximateAggregation(ctx, tenantID, req)
}

func (s *Service) Invalidate(ctx context.Context) (int64, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return 0, aggdomain.ErrInvalidTenant
	}
	result := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&aggdomain.MaterializedView{})
	if result.Error != nil {
		return 0, result.Error
	}
	s.log.Info("invalidated materialized views",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("deleted", result.RowsAffected),
	)
	return result.RowsAffected, nil
}

func (s *Service) lookupView(ctx context.Context, tenantID int64, req aggdomain.MetricsRequest) (*aggdomain.MetricsResult, error) {
	var view aggdomain.MaterializedView
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND view_name = ? AND group_by = ?", tenantID, viewNameSalesMetrics, req.GroupBy).
		Where("period_start <= ? AND period_end >= ?", req.Start, req.End).
		Order("created_at DESC").
		First(&view).Error

	hit := err == nil
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCacheLookup(ctx, "materialized_view", hit)
	}
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	return &aggdomain.MetricsResult{
		Data:   json.RawMessage(view.Data),
		Method: aggdomain.MethodMaterializedView,
		Cached: true,
	}, nil
}

func (s *Service) exactAggregation(ctx context.Context, tenantID int64, req aggdomain.MetricsRequest) (*aggdomain.MetricsResult, error) {
	var data any
	var err error
	switch req.GroupBy {
	case aggdomain.GroupByDay, aggdomain.GroupByHour:
		data, err = s.timeAggregation(ctx, tenantID, req)
	case aggdomain.GroupByProduct:
		data, err = s.productAggregation(ctx, tenantID, req)
	case aggdomain.GroupByCategory:
		data, err = s.categoryAggregation(ctx, tenantID, req)
	}
	if err != nil {
		return nil, err
	}

	s.cacheView(ctx, tenantID, req, data)

	return &aggdomain.MetricsResult{
		Data:   data,
		Method: aggdomain.MethodExactSQL,
		Cached: false,
	}, nil
}

func (s *Service) timeAggregation(ctx context.Context, tenantID int64, req aggdomain.MetricsRequest) ([]aggdomain.TimeBucket, error) {
	buckets := make([]aggdomain.TimeBucket, 0)
	period := s.periodExpr(req.GroupBy)
	err := s.db.WithContext(ctx).Raw(`
		SELECT `+period+` AS period,
			SUM(o.total_amount) AS total_revenue,
			COUNT(DISTINCT o.id) AS total_orders,
			COUNT(DISTINCT o.customer_id) AS unique_customers,
			AVG(o.total_amount) AS avg_order_value
		FROM orders o
		WHERE o.tenant_id = ?
			AND o.created_at >= ? AND o.created_at <= ?
			AND o.status IN ?
		GROUP BY `+period+`
		ORDER BY period DESC`,
		tenantID, req.Start, req.End, orderdomain.RevenueStatuses(),
	).Scan(&buckets).Error
	return buckets, err
}

func (s *Service) productAggregation(ctx context.Context, tenantID int64, req aggdomain.MetricsRequest) ([]aggdomain.ProductBucket, error) {
	buckets := make([]aggdomain.ProductBucket, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT p.id AS product_id,
			p.name AS product_name,
			SUM(oi.total_price) AS total_revenue,
			SUM(oi.quantity) AS total_quantity,
			COUNT(DISTINCT o.customer_id) AS unique_customers,
			AVG(oi.unit_price) AS avg_price
		FROM orders o
		JOIN order_items oi ON o.id = oi.order_id
		JOIN products p ON oi.product_id = p.id
		WHERE o.tenant_id = ?
			AND o.created_at >= ? AND o.created_at <= ?
			AND o.status IN ?
		GROUP BY p.id, p.name
		ORDER BY total_revenue DESC
		LIMIT ?`,
		tenantID, req.Start, req.End, orderdomain.RevenueStatuses(), productBucketLimit,
	).Scan(&buckets).Error
	return buckets, err
}

func (s *Service) categoryAggregation(ctx context.Context, tenantID int64, req aggdomain.MetricsRequest) ([]aggdomain.CategoryBucket, error) {
	buckets := make([]aggdomain.CategoryBucket, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT p.category AS category,
			SUM(oi.total_price) AS total_revenue,
			COUNT(DISTINCT o.id) AS total_orders,
			COUNT(DISTINCT o.customer_id) AS unique_customers,
			AVG(o.total_amount) AS avg_order_value
		FROM orders o
		JOIN order_items oi ON o.id = oi.order_id
		JOIN products p ON oi.product_id = p.id
		WHERE o.tenant_id = ?
			AND o.created_at >= ? AND o.created_at <= ?
			AND o.status IN ?
		GROUP BY p.category
		ORDER BY total_revenue DESC`,
		tenantID, req.Start, req.End, orderdomain.RevenueStatuses(),
	).Scan(&buckets).Error
	return buckets, err
}

// approximateAggregation streams matching rows in bounded batches and
// feeds two sketches; the full result set is never materialized.
func (s *Service) approximateAggregation(ctx context.Context, tenantID int64, req aggdomain.MetricsRequest) (*aggdomain.MetricsResult, error) {
	hll := sketch.NewHyperLogLog(sketch.DefaultPrecision)
	digest := sketch.NewQuantileDigest()

	rows, err := s.db.WithContext(ctx).Model(&orderdomain.Order{}).
		Select("total_amount, customer_id").
		Where("tenant_id = ?", tenantID).
		Where("created_at >= ? AND created_at <= ?", req.Start, req.End).
		Where("status IN ?", orderdomain.RevenueStatuses()).
		Order("created_at").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scanned := 0
	for rows.Next() {
		var amount decimal.Decimal
		var customerID sql.NullInt64
		if err := rows.Scan(&amount, &customerID); err != nil {
			return nil, err
		}
		if customerID.Valid {
			hll.Add(strconv.FormatInt(customerID.Int64, 10))
		}
		digest.Add(amount.InexactFloat64(), 1)

		scanned++
		if scanned%streamBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &aggdomain.MetricsResult{
		Data:   s.approximateBuckets(req, hll, digest),
		Method: aggdomain.MethodApproximateStreaming,
		Cached: false,
		ErrorBounds: &aggdomain.ErrorBounds{
			UniqueCustomersError: "±2-3%",
			PercentilesError:     "±1-2%",
		},
	}, nil
}

// approximateBuckets emits one row per day/hour in range, each carrying
// the whole-range estimates. Product and category grouping has no time
// axis to synthesize, so it yields no rows in approximate mode.
func (s *Service) approximateBuckets(req aggdomain.MetricsRequest, hll *sketch.HyperLogLog, digest *sketch.QuantileDigest) []aggdomain.ApproxBucket {
	buckets := make([]aggdomain.ApproxBucket, 0)
	if req.GroupBy != aggdomain.GroupByDay && req.GroupBy != aggdomain.GroupByHour {
		return buckets
	}

	unique := hll.Count()
	p50 := digest.Quantile(0.5)
	p95 := digest.Quantile(0.95)
	p99 := digest.Quantile(0.99)

	step := 24 * time.Hour
	layout := "2006-01-02"
	if req.GroupBy == aggdomain.GroupByHour {
		step = time.Hour
		layout = "2006-01-02 15:00:00"
	}

	for current := req.Start; !current.After(req.End); current = current.Add(step) {
		buckets = append(buckets, aggdomain.ApproxBucket{
			Period:                current.Format(layout),
			UniqueCustomersApprox: unique,
			P50Revenue:            p50,
			P95Revenue:            p95,
			P99Revenue:            p99,
		})
	}
	return buckets
}

// cacheView writes the exact result back as a materialized view.
// Best-effort: a concurrent writer's duplicate entry is fine.
func (s *Service) cacheView(ctx context.Context, tenantID int64, req aggdomain.MetricsRequest, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Error("marshal materialized view", zap.Error(err))
		return
	}

	view := aggdomain.MaterializedView{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		ViewName:    viewNameSalesMetrics,
		GroupBy:     string(req.GroupBy),
		PeriodStart: req.Start,
		PeriodEnd:   req.End,
		Data:        payload,
		CreatedAt:   time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"}, {Name: "view_name"}, {Name: "group_by"},
				{Name: "period_start"}, {Name: "period_end"},
			},
			DoNothing: true,
		}).
		Create(&view).Error
	if err != nil {
		s.log.Error("cache materialized view", zap.Error(err))
	}
}

func (s *Service) periodExpr(groupBy aggdomain.GroupBy) string {
	switch s.db.Dialector.Name() {
	case "sqlite":
		if groupBy == aggdomain.GroupByHour {
			return "strftime('%Y-%m-%d %H:00:00', o.created_at)"
		}
		return "strftime('%Y-%m-%d', o.created_at)"
	case "mysql":
		if groupBy == aggdomain.GroupByHour {
			return "DATE_FORMAT(o.created_at, '%Y-%m-%d %H:00:00')"
		}
		return "DATE_FORMAT(o.created_at, '%Y-%m-%d')"
	default:
		if groupBy == aggdomain.GroupByHour {
			return "to_char(date_trunc('hour', o.created_at), 'YYYY-MM-DD HH24:00:00')"
		}
		return "to_char(date_trunc('day', o.created_at), 'YYYY-MM-DD')"
	}
}
