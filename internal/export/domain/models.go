// Package domain contains the export job model and service contract.
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

// ExportJob tracks one streamed export. The spool file under the export
// directory backs resumable range downloads after completion.
type ExportJob struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	TenantID     int64          `gorm:"not null;index"`
	Format       string         `gorm:"type:text;not null"`
	Filters      datatypes.JSON `gorm:"type:jsonb"`
	Status       string         `gorm:"type:text;not null;default:pending"`
	Progress     int            `gorm:"not null;default:0"`
	FilePath     string         `gorm:"type:text"`
	FileSize     int64          `gorm:"not null;default:0"`
	ErrorMessage string         `gorm:"type:text"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CompletedAt  *time.Time
}

// TableName sets the database table name.
func (ExportJob) TableName() string { return "export_jobs" }
