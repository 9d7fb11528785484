package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/orderlens/internal/catalog"
	catalogdomain "github.com/smallbiznis/orderlens/internal/catalog/domain"
	"github.com/smallbiznis/orderlens/internal/config"
	ingestdomain "github.com/smallbiznis/orderlens/internal/ingest/domain"
	obsmetrics "github.com/smallbiznis/orderlens/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/orderlens/internal/order/domain"
	"github.com/smallbiznis/orderlens/pkg/db"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	Resolver   *catalog.Resolver
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	resolver   *catalog.Resolver
	obsMetrics *obsmetrics.Metrics

	chunkSize int
	errorCap  int
}

func NewService(p ServiceParam) ingestdomain.Service {
	chunkSize := p.Config.IngestChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	errorCap := p.Config.IngestErrorCap
	if errorCap <= 0 {
		errorCap = ingestdomain.ErrorDetailCap
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ingest.service"),
		genID:      p.GenID,
		resolver:   p.Resolver,
		obsMetrics: p.ObsMetrics,
		chunkSize:  chunkSize,
		errorCap:   errorCap,
	}
}

func (s *Service) ProcessChunk(ctx context.Context, req ingestdomain.ProcessChunkRequest) (*ingestdomain.ChunkResult, error) {
	started := time.Now()

	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, ingestdomain.ErrInvalidTenant
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, ingestdomain.ErrInvalidIdempotencyKey
	}
	if len(req.Rows) == 0 {
		return nil, ingestdomain.ErrEmptyChunk
	}
	if len(req.Rows) > s.chunkSize {
		return nil, ingestdomain.ErrChunkTooLarge
	}

	job, err := s.ensureJob(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case ingestdomain.JobStatusCompleted:
		// Replay of a finished upload: answer from the ledger, no writes.
		return &ingestdomain.ChunkResult{
			JobID:            job.ID.String(),
			Status:           job.Status,
			RowsReceived:     len(req.Rows),
			RowsInserted:     0,
			RowsFailed:       0,
			AlreadyCompleted: true,
			ProcessingTimeMS: time.Since(started).Milliseconds(),
		}, nil
	case ingestdomain.JobStatusFailed:
		return nil, ingestdomain.ErrJobFailed
	}

	orders, items, rowErrors, err := s.buildRows(ctx, tenantID, req.Rows)
	if err != nil {
		return nil, err
	}

	if len(orders) > 0 {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.CreateInBatches(orders, insertBatchSize).Error; err != nil {
				return err
			}
			if len(items) > 0 {
				return tx.CreateInBatches(items, insertBatchSize).Error
			}
			return nil
		})
		if err != nil {
			obsmetrics.Jobs().IncJobError(obsmetrics.JobIngest, err)
			return nil, err
		}
	}

	inserted := len(orders)
	failed := len(req.Rows) - inserted

	// A chunk that produced nothing marks the whole job failed; partial
	// chunks keep the job alive.
	status := ingestdomain.JobStatusProcessing
	if inserted == 0 {
		status = ingestdomain.JobStatusFailed
	}

	if err := s.recordChunk(ctx, job, len(req.Rows), inserted, failed, rowErrors, status); err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordIngestRows(ctx, int64(inserted), int64(failed))
	}
	obsmetrics.Jobs().IncJobRun(obsmetrics.JobIngest)
	obsmetrics.Jobs().AddRowsProcessed(obsmetrics.JobIngest, inserted)
	obsmetrics.Jobs().ObserveJobDuration(obsmetrics.JobIngest, time.Since(started))

	capped := rowErrors
	if len(capped) > s.errorCap {
		capped = capped[:s.errorCap]
	}

	return &ingestdomain.ChunkResult{
		JobID:            job.ID.String(),
		Status:           status,
		RowsReceived:     len(req.Rows),
		RowsInserted:     inserted,
		RowsFailed:       failed,
		ErrorDetails:     capped,
		ProcessingTimeMS: time.Since(started).Milliseconds(),
	}, nil
}

func (s *Service) Complete(ctx context.Context, idempotencyKey string) (*ingestdomain.JobStatus, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, ingestdomain.ErrInvalidTenant
	}

	job, err := s.findJob(ctx, tenantID, strings.TrimSpace(idempotencyKey))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ingestdomain.ErrJobNotFound
	}
	if job.Status == ingestdomain.JobStatusFailed {
		return nil, ingestdomain.ErrJobFailed
	}

	if job.Status != ingestdomain.JobStatusCompleted {
		now := time.Now().UTC()
		err = s.db.WithContext(ctx).Model(&ingestdomain.IngestionJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]any{
				"status":       ingestdomain.JobStatusCompleted,
				"completed_at": now,
				"updated_at":   now,
			}).Error
		if err != nil {
			return nil, err
		}
		job.Status = ingestdomain.JobStatusCompleted
		job.CompletedAt = &now
	}

	return jobStatus(job), nil
}

func (s *Service) Status(ctx context.Context, idempotencyKey string) (*ingestdomain.JobStatus, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, ingestdomain.ErrInvalidTenant
	}

	job, err := s.findJob(ctx, tenantID, strings.TrimSpace(idempotencyKey))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ingestdomain.ErrJobNotFound
	}
	return jobStatus(job), nil
}

func jobStatus(job *ingestdomain.IngestionJob) *ingestdomain.JobStatus {
	return &ingestdomain.JobStatus{
		JobID:         job.ID.String(),
		Status:        job.Status,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		FailedRows:    job.FailedRows,
		CreatedAt:     job.CreatedAt,
		CompletedAt:   job.CompletedAt,
	}
}

// ensureJob loads the job for the key, creating it on first sight.
// Concurrent first chunks race safely on the unique index.
func (s *Service) ensureJob(ctx context.Context, tenantID int64, key string) (*ingestdomain.IngestionJob, error) {
	existing, err := s.findJob(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	job := &ingestdomain.IngestionJob{
		ID:             s.genID.Generate(),
		TenantID:       tenantID,
		IdempotencyKey: key,
		Status:         ingestdomain.JobStatusProcessing,
		ErrorDetails:   datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(job)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		return job, nil
	}

	existing, err = s.findJob(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ingestdomain.ErrJobNotFound
	}
	return existing, nil
}

func (s *Service) findJob(ctx context.Context, tenantID int64, key string) (*ingestdomain.IngestionJob, error) {
	if key == "" {
		return nil, ingestdomain.ErrInvalidIdempotencyKey
	}
	var job ingestdomain.IngestionJob
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// buildRows validates and resolves every row. Bad rows are collected,
// never aborting the chunk.
func (s *Service) buildRows(
	ctx context.Context,
	tenantID int64,
	rows []ingestdomain.OrderRow,
) ([]*orderdomain.Order, []*orderdomain.OrderItem, []ingestdomain.RowError, error) {

	orders := make([]*orderdomain.Order, 0, len(rows))
	items := make([]*orderdomain.OrderItem, 0, len(rows))
	rowErrors := make([]ingestdomain.RowError, 0)

	now := time.Now().UTC()
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}

		if reason := validateRow(row); reason != "" {
			rowErrors = append(rowErrors, ingestdomain.RowError{Row: i, Reason: reason})
			continue
		}

		var customerID *int64
		if strings.TrimSpace(row.CustomerEmail) != "" {
			customer, err := s.resolver.EnsureCustomer(ctx, tenantID, row.CustomerEmail, row.CustomerName)
			if err != nil {
				rowErrors = append(rowErrors, ingestdomain.RowError{Row: i, Reason: "customer_resolution_failed"})
				continue
			}
			customerID = &customer.ID
		}

		createdAt := row.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		order := &orderdomain.Order{
			ID:          s.genID.Generate().Int64(),
			TenantID:    tenantID,
			CustomerID:  customerID,
			OrderNumber: strings.TrimSpace(row.OrderNumber),
			Status:      row.Status,
			TotalAmount: row.TotalAmount,
			Currency:    normalizeCurrency(row.Currency),
			CreatedAt:   createdAt,
			UpdatedAt:   now,
		}
		orders = append(orders, order)

		for _, item := range row.Items {
			product, err := s.resolver.ProductBySKU(ctx, tenantID, item.SKU)
			if err != nil {
				if errors.Is(err, catalogdomain.ErrProductNotFound) {
					// Unknown SKU drops the line item only.
					s.log.Debug("skipping unknown sku",
						zap.String("sku", item.SKU),
						zap.String("order_number", order.OrderNumber),
					)
					continue
				}
				return nil, nil, nil, err
			}
			quantity := item.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			unitPrice := item.UnitPrice
			if unitPrice.IsZero() {
				unitPrice = product.Price
			}
			items = append(items, &orderdomain.OrderItem{
				ID:         s.genID.Generate().Int64(),
				OrderID:    order.ID,
				ProductID:  product.ID,
				Quantity:   quantity,
				UnitPrice:  unitPrice,
				TotalPrice: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
			})
		}
	}

	return orders, items, rowErrors, nil
}

func (s *Service) recordChunk(
	ctx context.Context,
	job *ingestdomain.IngestionJob,
	received, inserted, failed int,
	rowErrors []ingestdomain.RowError,
	status string,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"total_rows":     gorm.Expr("total_rows + ?", received),
			"processed_rows": gorm.Expr("processed_rows + ?", inserted),
			"failed_rows":    gorm.Expr("failed_rows + ?", failed),
			"status":         status,
			"updated_at":     time.Now().UTC(),
		}

		if len(rowErrors) > 0 {
			// Merge into the committed row, not the snapshot loaded at
			// ensureJob, so concurrent chunks keep each other's details.
			lookup := tx.Where("id = ?", job.ID)
			if !db.IsSQLite(tx) {
				lookup = lookup.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			var current ingestdomain.IngestionJob
			if err := lookup.First(&current).Error; err != nil {
				return err
			}

			details := current.ErrorDetails
			if details == nil {
				details = datatypes.JSONMap{}
			}
			reasons := make([]any, 0, len(rowErrors))
			for _, re := range rowErrors {
				if len(reasons) >= s.errorCap {
					break
				}
				reasons = append(reasons, fmt.Sprintf("row %d: %s", re.Row, re.Reason))
			}
			details["chunk_"+uuid.NewString()] = reasons
			updates["error_details"] = details
		}

		return tx.Model(&ingestdomain.IngestionJob{}).
			Where("id = ?", job.ID).
			Updates(updates).Error
	})
}

func validateRow(row ingestdomain.OrderRow) string {
	if strings.TrimSpace(row.OrderNumber) == "" {
		return "missing order_number"
	}
	if !orderdomain.ValidStatus(row.Status) {
		return "invalid status"
	}
	if row.TotalAmount.IsNegative() {
		return "negative total_amount"
	}
	if row.TotalAmount.IsZero() && len(row.Items) == 0 {
		return "missing total_amount"
	}
	return ""
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}
