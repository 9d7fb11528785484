package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/orderlens/internal/config"
	exportdomain "github.com/smallbiznis/orderlens/internal/export/domain"
	obsmetrics "github.com/smallbiznis/orderlens/internal/observability/metrics"
	"github.com/smallbiznis/orderlens/internal/ratelimit"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	exportBatchSize = 1000

	// runLockTTL bounds how long a crashed instance can hold a job.
	runLockTTL = 5 * time.Minute
)

// runLock serializes Run across instances for a single job. The redis
// locker satisfies it; without redis the job status check is the only
// guard.
type runLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	RunLock    *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
	runLock    runLock
	exportDir  string
}

func NewService(p ServiceParam) exportdomain.Service {
	dir := p.Config.ExportDir
	if dir == "" {
		dir = os.TempDir()
	}
	var lock runLock
	if p.RunLock != nil {
		lock = p.RunLock
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("export.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
		runLock:    lock,
		exportDir:  dir,
	}
}

func (s *Service) CreateJob(ctx context.Context, req exportdomain.CreateRequest) (*exportdomain.JobInfo, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, exportdomain.ErrInvalidTenant
	}
	if _, err := exportdomain.ParseFormat(string(req.Format)); err != nil {
		return nil, err
	}

	filters, err := json.Marshal(req.Filters)
	if err != nil {
		return nil, err
	}

	job := exportdomain.ExportJob{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Format:    string(req.Format),
		Filters:   filters,
		Status:    exportdomain.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return jobInfo(&job), nil
}

func (s *Service) Status(ctx context.Context, jobID int64) (*exportdomain.JobInfo, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return jobInfo(job), nil
}

func (s *Service) Open(ctx context.Context, jobID int64) (io.ReadSeekCloser, *exportdomain.JobInfo, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != exportdomain.JobStatusCompleted || job.FilePath == "" {
		return nil, nil, exportdomain.ErrJobNotReady
	}

	f, err := os.Open(job.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return f, jobInfo(job), nil
}

// Run streams the job's rows to w and the spool file simultaneously.
func (s *Service) Run(ctx context.Context, jobID int64, w io.Writer) error {
	started := time.Now()
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case exportdomain.JobStatusFailed:
		return exportdomain.ErrJobFailed
	case exportdomain.JobStatusCompleted, exportdomain.JobStatusProcessing:
		return exportdomain.ErrJobNotReady
	}

	if s.runLock != nil {
		token, acquired, err := s.runLock.TryLock(ctx, runLockKey(job.ID.Int64()), runLockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			return exportdomain.ErrJobNotReady
		}
		defer func() {
			if err := s.runLock.Release(ctx, runLockKey(job.ID.Int64()), token); err != nil {
				s.log.Warn("release export run lock", zap.Error(err))
			}
		}()
	}

	var filters exportdomain.Filters
	if len(job.Filters) > 0 {
		if err := json.Unmarshal(job.Filters, &filters); err != nil {
			return s.fail(ctx, job, err)
		}
	}

	spoolPath := filepath.Join(s.exportDir, fmt.Sprintf("export_%d.%s", job.ID.Int64(), exportdomain.Format(job.Format).Extension()))
	spool, err := os.Create(spoolPath)
	if err != nil {
		return s.fail(ctx, job, err)
	}
	defer spool.Close()

	if err := s.updateJob(ctx, job.ID.Int64(), map[string]any{
		"status":    exportdomain.JobStatusProcessing,
		"file_path": spoolPath,
		"progress":  0,
	}); err != nil {
		return err
	}

	counting := &countingWriter{w: io.MultiWriter(w, spool)}
	if err := s.stream(ctx, job, filters, counting); err != nil {
		obsmetrics.Jobs().IncJobError(obsmetrics.JobExport, err)
		return s.fail(ctx, job, err)
	}

	if err := spool.Sync(); err != nil {
		return s.fail(ctx, job, err)
	}

	now := time.Now().UTC()
	if err := s.updateJob(ctx, job.ID.Int64(), map[string]any{
		"status":       exportdomain.JobStatusCompleted,
		"progress":     100,
		"file_size":    counting.n,
		"completed_at": now,
	}); err != nil {
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordExportBytes(ctx, job.Format, counting.n)
	}
	obsmetrics.Jobs().IncJobRun(obsmetrics.JobExport)
	obsmetrics.Jobs().ObserveJobDuration(obsmetrics.JobExport, time.Since(started))
	obsmetrics.Jobs().SetExportProgress(job.Format, 100)
	return nil
}

type exportRow struct {
	ID            int64
	OrderNumber   string
	Status        string
	TotalAmount   decimal.Decimal
	Currency      string
	CustomerName  *string
	CustomerEmail *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *Service) stream(ctx context.Context, job *exportdomain.ExportJob, filters exportdomain.Filters, w io.Writer) error {
	var total int64
	if err := s.buildQuery(ctx, job.TenantID, filters).Count(&total).Error; err != nil {
		return err
	}

	rows, err := s.buildQuery(ctx, job.TenantID, filters).
		Select(`orders.id, orders.order_number, orders.status, orders.total_amount,
			orders.currency, customers.name AS customer_name, customers.email AS customer_email,
			orders.created_at, orders.updated_at`).
		Order("orders.created_at DESC").
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	var enc rowEncoder
	if exportdomain.Format(job.Format) == exportdomain.FormatCSV {
		enc = newCSVEncoder(w)
	} else {
		enc = newJSONLinesEncoder(w)
	}
	if err := enc.Begin(); err != nil {
		return err
	}

	processed := int64(0)
	for rows.Next() {
		var row exportRow
		if err := s.db.ScanRows(rows, &row); err != nil {
			return err
		}
		if err := enc.Encode(row); err != nil {
			return err
		}

		processed++
		if processed%exportBatchSize == 0 {
			if err := enc.Flush(); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			s.recordProgress(ctx, job, processed, total)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return enc.Flush()
}

func (s *Service) recordProgress(ctx context.Context, job *exportdomain.ExportJob, processed, total int64) {
	progress := 100
	if total > 0 {
		progress = int(processed * 100 / total)
	}
	if err := s.updateJob(ctx, job.ID.Int64(), map[string]any{"progress": progress}); err != nil {
		s.log.Warn("update export progress", zap.Error(err))
	}
	obsmetrics.Jobs().SetExportProgress(job.Format, float64(progress))
	obsmetrics.Jobs().AddRowsProcessed(obsmetrics.JobExport, exportBatchSize)
}

func (s *Service) buildQuery(ctx context.Context, tenantID int64, filters exportdomain.Filters) *gorm.DB {
	tx := s.db.WithContext(ctx).
		Table("orders").
		Joins("LEFT JOIN customers ON orders.customer_id = customers.id").
		Where("orders.tenant_id = ?", tenantID)
	if filters.StartDate != nil {
		tx = tx.Where("orders.created_at >= ?", *filters.StartDate)
	}
	if filters.EndDate != nil {
		tx = tx.Where("orders.created_at <= ?", *filters.EndDate)
	}
	if len(filters.Statuses) > 0 {
		tx = tx.Where("orders.status IN ?", filters.Statuses)
	}
	return tx
}

func (s *Service) findJob(ctx context.Context, jobID int64) (*exportdomain.ExportJob, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, exportdomain.ErrInvalidTenant
	}

	var job exportdomain.ExportJob
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", jobID, tenantID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, exportdomain.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Service) updateJob(ctx context.Context, jobID int64, updates map[string]any) error {
	return s.db.WithContext(ctx).Model(&exportdomain.ExportJob{}).
		Where("id = ?", jobID).
		Updates(updates).Error
}

func (s *Service) fail(ctx context.Context, job *exportdomain.ExportJob, cause error) error {
	s.log.Error("export failed",
		zap.Int64("job_id", job.ID.Int64()),
		zap.Error(cause),
	)
	if err := s.updateJob(ctx, job.ID.Int64(), map[string]any{
		"status":        exportdomain.JobStatusFailed,
		"error_message": cause.Error(),
	}); err != nil {
		s.log.Error("mark export failed", zap.Error(err))
	}
	return cause
}

func runLockKey(jobID int64) string {
	return fmt.Sprintf("export:run:%d", jobID)
}

func jobInfo(job *exportdomain.ExportJob) *exportdomain.JobInfo {
	return &exportdomain.JobInfo{
		JobID:        job.ID.String(),
		Status:       job.Status,
		Format:       job.Format,
		Progress:     job.Progress,
		FileSize:     job.FileSize,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// rowEncoder writes one export row at a time so output never buffers
// the whole result set.
type rowEncoder interface {
	Begin() error
	Encode(exportRow) error
	Flush() error
}

type csvEncoder struct {
	w *csv.Writer
}

func newCSVEncoder(w io.Writer) *csvEncoder {
	return &csvEncoder{w: csv.NewWriter(w)}
}

func (e *csvEncoder) Begin() error {
	return e.w.Write([]string{
		"order_id", "order_number", "status", "total_amount", "currency",
		"customer_name", "customer_email", "created_at", "updated_at",
	})
}

func (e *csvEncoder) Encode(row exportRow) error {
	return e.w.Write([]string{
		fmt.Sprintf("%d", row.ID),
		row.OrderNumber,
		row.Status,
		row.TotalAmount.String(),
		row.Currency,
		deref(row.CustomerName),
		deref(row.CustomerEmail),
		row.CreatedAt.UTC().Format(time.RFC3339),
		row.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (e *csvEncoder) Flush() error {
	e.w.Flush()
	return e.w.Error()
}

type jsonLinesEncoder struct {
	w io.Writer
}

func newJSONLinesEncoder(w io.Writer) *jsonLinesEncoder {
	return &jsonLinesEncoder{w: w}
}

func (e *jsonLinesEncoder) Begin() error { return nil }

func (e *jsonLinesEncoder) Encode(row exportRow) error {
	payload := map[string]any{
		"order_id":       fmt.Sprintf("%d", row.ID),
		"order_number":   row.OrderNumber,
		"status":         row.Status,
		"total_amount":   row.TotalAmount,
		"currency":       row.Currency,
		"customer_name":  deref(row.CustomerName),
		"customer_email": deref(row.CustomerEmail),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":     row.UpdatedAt.UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = e.w.Write(b)
	return err
}

func (e *jsonLinesEncoder) Flush() error { return nil }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
