package models

import (
	"time"

	"github.com/google/uuid"
)

// Metric types tracked for quota enforcement
const (
	MetricActiveUsers = "active_users"
	MetricCourses     = "courses"
	MetricStorageMB   = "storage_mb"
	MetricAPIRequests = "api_requests"
)

// TenantUsageMetric is a daily-bucketed measurement per tenant and metric
// type. (tenant_id, metric_type, recorded_on) is unique; a write either
// overwrites the day's snapshot or accumulates into it, caller's choice.
type TenantUsageMetric struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_tenant_usage_day"`
	MetricType string    `json:"metric_type" gorm:"not null;uniqueIndex:idx_tenant_usage_day"`
	RecordedOn time.Time `json:"recorded_on" gorm:"type:date;not null;uniqueIndex:idx_tenant_usage_day"`
	Value      float64   `json:"value" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the table name for the TenantUsageMetric model
func (TenantUsageMetric) TableName() string {
	return "tenant_usage_metrics"
}

// DayOf truncates a timestamp to its UTC midnight bucket
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
