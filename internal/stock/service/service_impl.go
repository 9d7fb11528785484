package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/orderlens/internal/catalog/domain"
	obsmetrics "github.com/smallbiznis/orderlens/internal/observability/metrics"
	stockdomain "github.com/smallbiznis/orderlens/internal/stock/domain"
	"github.com/smallbiznis/orderlens/pkg/db"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultEventsLimit = 100

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Window     stockdomain.ConflictWindow
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	window     stockdomain.ConflictWindow
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) stockdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("stock.service"),
		genID:      p.GenID,
		window:     p.Window,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) BulkUpdate(ctx context.Context, req stockdomain.BulkUpdateRequest) (*stockdomain.BulkUpdateResult, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, stockdomain.ErrInvalidTenant
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = stockdomain.StrategyLastWriteWins
	}
	if _, err := stockdomain.ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if len(req.Events) == 0 {
		return nil, stockdomain.ErrInvalidEvent
	}
	for _, e := range req.Events {
		if e.ProductID == 0 || !stockdomain.ValidEventType(e.EventType) {
			return nil, stockdomain.ErrInvalidEvent
		}
	}

	// Group per product; products are independent transactional units.
	order := make([]int64, 0)
	grouped := make(map[int64][]stockdomain.EventInput)
	for _, e := range req.Events {
		if _, seen := grouped[e.ProductID]; !seen {
			order = append(order, e.ProductID)
		}
		grouped[e.ProductID] = append(grouped[e.ProductID], e)
	}

	result := &stockdomain.BulkUpdateResult{
		TotalProducts: len(order),
		Results:       make([]stockdomain.ProductResult, 0, len(order)),
	}
	for _, productID := range order {
		pr := s.applyProductEvents(ctx, tenantID, productID, grouped[productID], strategy)
		result.Results = append(result.Results, pr)
		if pr.Success {
			result.SuccessfulUpdates++
		} else {
			result.FailedUpdates++
		}
	}
	result.Success = result.FailedUpdates == 0
	return result, nil
}

// applyProductEvents runs one product's events under an exclusive row
// lock. A failure here is reported in the product result, never as a
// batch error.
func (s *Service) applyProductEvents(
	ctx context.Context,
	tenantID, productID int64,
	events []stockdomain.EventInput,
	strategy stockdomain.Strategy,
) stockdomain.ProductResult {
	pr := stockdomain.ProductResult{
		ProductID:        productID,
		ConflictResolved: true,
		Strategy:         string(strategy),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookup := tx.Where("id = ? AND tenant_id = ?", productID, tenantID)
		if !db.IsSQLite(tx) {
			lookup = lookup.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var product catalogdomain.Product
		if err := lookup.First(&product).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return catalogdomain.ErrProductNotFound
			}
			return err
		}

		currentStock, err := s.latestStock(tx, tenantID, productID)
		if err != nil {
			return err
		}
		pr.InitialStock = currentStock
		finalStock := currentStock

		now := time.Now().UTC()
		for _, event := range events {
			newStock := finalStock + event.QuantityChange

			conflict, err := s.window.Touch(ctx, tenantID, productID)
			if err != nil {
				return err
			}
			if conflict {
				if s.obsMetrics != nil {
					s.obsMetrics.RecordStockConflict(ctx, string(strategy))
				}
				switch strategy {
				case stockdomain.StrategyReject:
					pr.ConflictResolved = false
					continue
				case stockdomain.StrategyMerge:
					// Additive resolution re-anchors on the stock read at
					// the start of this batch.
					newStock = currentStock + event.QuantityChange
				case stockdomain.StrategyLastWriteWins:
					// Computed value stands.
				}
			}

			row := stockdomain.StockEvent{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				ProductID:      productID,
				EventType:      event.EventType,
				QuantityChange: event.QuantityChange,
				QuantityAfter:  newStock,
				ReferenceID:    event.ReferenceID,
				CreatedAt:      now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			finalStock = newStock
			pr.EventsProcessed++
		}

		pr.FinalStock = finalStock
		return nil
	})
	if err != nil {
		pr.Success = false
		pr.Error = err.Error()
		pr.EventsProcessed = 0
		s.log.Warn("stock update failed",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
		return pr
	}

	pr.Success = true
	return pr
}

func (s *Service) Stock(ctx context.Context, productID int64) (*stockdomain.CurrentStock, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, stockdomain.ErrInvalidTenant
	}

	var latest stockdomain.StockEvent
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Order("created_at DESC, id DESC").
		First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &stockdomain.CurrentStock{ProductID: productID}, nil
		}
		return nil, err
	}

	createdAt := latest.CreatedAt
	return &stockdomain.CurrentStock{
		ProductID:     productID,
		CurrentStock:  latest.QuantityAfter,
		LastUpdated:   &createdAt,
		LastEventType: latest.EventType,
	}, nil
}

func (s *Service) Events(ctx context.Context, productID int64, filter stockdomain.EventsFilter) ([]stockdomain.EventRecord, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, stockdomain.ErrInvalidTenant
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventsLimit
	}

	tx := s.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID)
	if filter.EventType != "" {
		tx = tx.Where("event_type = ?", filter.EventType)
	}

	var rows []stockdomain.StockEvent
	if err := tx.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]stockdomain.EventRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, stockdomain.EventRecord{
			ID:             row.ID.String(),
			ProductID:      row.ProductID,
			EventType:      row.EventType,
			QuantityChange: row.QuantityChange,
			QuantityAfter:  row.QuantityAfter,
			ReferenceID:    row.ReferenceID,
			CreatedAt:      row.CreatedAt,
		})
	}
	return records, nil
}

func (s *Service) latestStock(tx *gorm.DB, tenantID, productID int64) (int, error) {
	var latest stockdomain.StockEvent
	err := tx.
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Order("created_at DESC, id DESC").
		First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return latest.QuantityAfter, nil
}
