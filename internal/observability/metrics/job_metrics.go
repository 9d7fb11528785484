package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonValidation           = "validation"
	JobReasonUnknown              = "unknown"
)

const (
	JobIngest = "ingest"
	JobExport = "export"
)

// JobMetrics captures bulk ingest and export job health signals.
type JobMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobErrors      *prometheus.CounterVec
	rowsProcessed  *prometheus.CounterVec
	exportProgress *prometheus.GaugeVec
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registry.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the singleton job metrics registry using config labels.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// ResetJobMetricsForTest resets the job metrics singleton for tests.
func ResetJobMetricsForTest() {
	jobMetricsOnce = sync.Once{}
	jobMetrics = nil
}

func newJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "orderlens"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderlens_job_runs_total",
		Help:        "Ingest and export job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "orderlens_job_duration_seconds",
		Help:        "Ingest and export job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderlens_job_errors_total",
		Help:        "Ingest and export job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	rowsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orderlens_job_rows_processed_total",
		Help:        "Rows processed per job to gauge pipeline throughput.",
		ConstLabels: constLabels,
	}, []string{"job"})
	exportProgress := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "orderlens_export_progress_percent",
		Help:        "Progress of the most recent export run per format.",
		ConstLabels: constLabels,
	}, []string{"format"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobErrors,
		rowsProcessed,
		exportProgress,
	)

	return &JobMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobErrors:      jobErrors,
		rowsProcessed:  rowsProcessed,
		exportProgress: exportProgress,
	}
}

// IncJobRun increments the run counter for a job.
func (m *JobMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records job latency in seconds.
func (m *JobMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobError increments the job error counter with classification.
func (m *JobMetrics) IncJobError(job string, err error) {
	if m == nil || m.jobErrors == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// AddRowsProcessed increments the processed row counter for a job.
func (m *JobMetrics) AddRowsProcessed(job string, count int) {
	if m == nil || m.rowsProcessed == nil || count <= 0 {
		return
	}
	m.rowsProcessed.WithLabelValues(job).Add(float64(count))
}

// SetExportProgress records export completion percent per format.
func (m *JobMetrics) SetExportProgress(format string, percent float64) {
	if m == nil || m.exportProgress == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	m.exportProgress.WithLabelValues(format).Set(percent)
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// IsJobErrorRetryable reports whether the job error should be retried.
func IsJobErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
}
