package domain

import (
	"context"
	"errors"
	"io"
	"time"
)

type Format string

const (
	FormatCSV       Format = "csv"
	FormatJSONLines Format = "jsonl"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSONLines:
		return Format(s), nil
	default:
		return "", ErrInvalidFormat
	}
}

// Extension returns the spool file extension for the format.
func (f Format) Extension() string { return string(f) }

// ContentType returns the download media type.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

type Filters struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Statuses  []string   `json:"statuses,omitempty"`
}

type CreateRequest struct {
	Format  Format  `json:"format"`
	Filters Filters `json:"filters"`
}

type JobInfo struct {
	JobID        string     `json:"job_id"`
	Status       string     `json:"status"`
	Format       string     `json:"format"`
	Progress     int        `json:"progress"`
	FileSize     int64      `json:"file_size"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type Service interface {
	// CreateJob registers a pending export.
	CreateJob(context.Context, CreateRequest) (*JobInfo, error)
	// Run streams the export to w while spooling it to disk, updating
	// progress per batch. Partial output is kept when the job fails
	// mid-stream; the failed status tells the caller to discard it.
	Run(ctx context.Context, jobID int64, w io.Writer) error
	// Status reports job progress.
	Status(ctx context.Context, jobID int64) (*JobInfo, error)
	// Open returns the completed spool file for ranged downloads.
	Open(ctx context.Context, jobID int64) (io.ReadSeekCloser, *JobInfo, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidFormat = errors.New("invalid_format")
	ErrJobNotFound   = errors.New("export_job_not_found")
	ErrJobNotReady   = errors.New("export_job_not_ready")
	ErrJobFailed     = errors.New("export_job_failed")
)
