// Package domain contains persistence models for bulk order ingestion.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IngestionJob tracks one logical bulk upload across its chunks. The
// idempotency key identifies the upload; replays attach to the same row.
type IngestionJob struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	TenantID       int64             `gorm:"not null;index:ux_ingestion_jobs_tenant_key,unique,priority:1"`
	IdempotencyKey string            `gorm:"type:text;not null;index:ux_ingestion_jobs_tenant_key,unique,priority:2"`
	Status         string            `gorm:"type:text;not null;default:pending"`
	TotalRows      int               `gorm:"not null;default:0"`
	ProcessedRows  int               `gorm:"not null;default:0"`
	FailedRows     int               `gorm:"not null;default:0"`
	ErrorDetails   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CompletedAt    *time.Time
}

// TableName sets the database table name.
func (IngestionJob) TableName() string { return "ingestion_jobs" }
