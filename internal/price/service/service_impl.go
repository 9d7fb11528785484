package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/orderlens/internal/catalog"
	catalogdomain "github.com/smallbiznis/orderlens/internal/catalog/domain"
	"github.com/smallbiznis/orderlens/internal/config"
	"github.com/smallbiznis/orderlens/internal/idempotency"
	obsmetrics "github.com/smallbiznis/orderlens/internal/observability/metrics"
	pricedomain "github.com/smallbiznis/orderlens/internal/price/domain"
	"github.com/smallbiznis/orderlens/internal/ratelimit"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultAnomalyThreshold = 0.2
	defaultAnomalyHours     = 24
	defaultAnomalyLimit     = 50
	idempotencyKeyPrefix    = "price_event:"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	Limiter    *ratelimit.PriceEventLimiter
	Idem       idempotency.Store
	Resolver   *catalog.Resolver
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	limiter    *ratelimit.PriceEventLimiter
	idem       idempotency.Store
	resolver   *catalog.Resolver
	obsMetrics *obsmetrics.Metrics

	threshold float64
	idemTTL   time.Duration
}

func NewService(p ServiceParam) pricedomain.Service {
	threshold := p.Config.PriceAnomalyPct
	if threshold <= 0 {
		threshold = defaultAnomalyThreshold
	}
	ttl := p.Config.IdempotencyTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("price.service"),
		genID:      p.GenID,
		limiter:    p.Limiter,
		idem:       p.Idem,
		resolver:   p.Resolver,
		obsMetrics: p.ObsMetrics,
		threshold:  threshold,
		idemTTL:    ttl,
	}
}

func (s *Service) ProcessEvent(ctx context.Context, req pricedomain.EventRequest) (*pricedomain.EventResult, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, pricedomain.ErrInvalidTenant
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, pricedomain.ErrInvalidIdempotencyKey
	}
	if !req.Price.IsPositive() {
		return nil, pricedomain.ErrInvalidPrice
	}

	limit, err := s.limiter.Allow(ctx, tenantID, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !limit.Allowed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitDenied(ctx, "price_event", "rate_limited")
		}
		return nil, pricedomain.ErrRateLimited
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitAllowed(ctx, "price_event")
	}

	// Replays inside the marker TTL return the stored event, no writes.
	storedID, found, err := s.idem.Get(ctx, idempotencyKeyPrefix+key)
	if err != nil {
		return nil, err
	}
	if found {
		return &pricedomain.EventResult{
			Success:        true,
			PriceEventID:   storedID,
			IdempotencyKey: key,
			Duplicate:      true,
		}, nil
	}

	product, err := s.resolver.ProductByID(ctx, tenantID, req.ProductID)
	if err != nil {
		return nil, err
	}

	changePct, isAnomaly, reason := s.detectAnomaly(product.Price, req.Price)

	now := time.Now().UTC()
	event := pricedomain.PriceEvent{
		ID:               s.genID.Generate(),
		TenantID:         tenantID,
		ProductID:        product.ID,
		OldPrice:         product.Price,
		NewPrice:         req.Price,
		ChangePercentage: changePct,
		IsAnomaly:        isAnomaly,
		AnomalyReason:    reason,
		CreatedAt:        now,
	}
	history := pricedomain.PriceHistory{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		ProductID: product.ID,
		Price:     req.Price,
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		return tx.Model(&catalogdomain.Product{}).
			Where("id = ? AND tenant_id = ?", product.ID, tenantID).
			Updates(map[string]any{"price": req.Price, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}

	s.resolver.InvalidateProduct(tenantID, product.SKU)

	if err := s.idem.Set(ctx, idempotencyKeyPrefix+key, event.ID.String(), s.idemTTL); err != nil {
		s.log.Warn("store idempotency marker", zap.Error(err))
	}

	if isAnomaly {
		s.log.Warn("price anomaly detected",
			zap.Int64("product_id", product.ID),
			zap.Float64("change_percentage", changePct),
		)
	}

	return &pricedomain.EventResult{
		Success:          true,
		PriceEventID:     event.ID.String(),
		OldPrice:         product.Price,
		NewPrice:         req.Price,
		ChangePercentage: changePct,
		IsAnomaly:        isAnomaly,
		AnomalyReason:    reason,
		IdempotencyKey:   key,
	}, nil
}

// detectAnomaly flags changes at or above the threshold. A product with
// no previous price never counts.
func (s *Service) detectAnomaly(oldPrice, newPrice decimal.Decimal) (float64, bool, string) {
	if oldPrice.IsZero() {
		return 0, false, ""
	}

	change, _ := newPrice.Sub(oldPrice).Div(oldPrice).Float64()
	if change >= s.threshold {
		return change, true, fmt.Sprintf("price increased by %.2f%% (threshold: %.2f%%)", change*100, s.threshold*100)
	}
	if change <= -s.threshold {
		return change, true, fmt.Sprintf("price decreased by %.2f%% (threshold: %.2f%%)", -change*100, s.threshold*100)
	}
	return change, false, ""
}

func (s *Service) Anomalies(ctx context.Context, productID int64, filter pricedomain.AnomaliesFilter) ([]pricedomain.AnomalyRecord, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, pricedomain.ErrInvalidTenant
	}

	hours := filter.Hours
	if hours <= 0 {
		hours = defaultAnomalyHours
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAnomalyLimit
	}

	var rows []pricedomain.PriceEvent
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ? AND is_anomaly = ?", tenantID, productID, true).
		Where("created_at >= ?", time.Now().UTC().Add(-time.Duration(hours)*time.Hour)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]pricedomain.AnomalyRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, pricedomain.AnomalyRecord{
			ID:               row.ID.String(),
			ProductID:        row.ProductID,
			OldPrice:         row.OldPrice,
			NewPrice:         row.NewPrice,
			ChangePercentage: row.ChangePercentage,
			AnomalyReason:    row.AnomalyReason,
			CreatedAt:        row.CreatedAt,
		})
	}
	return records, nil
}

func (s *Service) RateLimitInfo(ctx context.Context, productID int64) (*ratelimit.RateLimitResult, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, pricedomain.ErrInvalidTenant
	}
	return s.limiter.Info(ctx, tenantID, productID)
}

func (s *Service) ResetRateLimit(ctx context.Context, productID int64) error {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return pricedomain.ErrInvalidTenant
	}
	return s.limiter.Reset(ctx, tenantID, productID)
}
