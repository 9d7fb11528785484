// Package domain contains the materialized view model and the
// aggregation service contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MaterializedView is a point-in-time cache of one exact aggregation
// result. Entries are invalidated wholesale, never updated in place.
type MaterializedView struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	TenantID    int64          `gorm:"not null;index:ux_mviews_key,unique,priority:1"`
	ViewName    string         `gorm:"type:text;not null;index:ux_mviews_key,unique,priority:2"`
	GroupBy     string         `gorm:"type:text;not null;index:ux_mviews_key,unique,priority:3"`
	PeriodStart time.Time      `gorm:"not null;index:ux_mviews_key,unique,priority:4"`
	PeriodEnd   time.Time      `gorm:"not null;index:ux_mviews_key,unique,priority:5"`
	Data        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MaterializedView) TableName() string { return "materialized_views" }
