package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantConfiguration is a per-tenant key-value setting grouped by
// category. (tenant_id, category, key) is unique; writes are upserts.
type TenantConfiguration struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_tenant_config_key"`
	Category  string    `json:"category" gorm:"not null;uniqueIndex:idx_tenant_config_key"`
	Key       string    `json:"key" gorm:"not null;uniqueIndex:idx_tenant_config_key"`
	Value     string    `json:"value" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for the TenantConfiguration model
func (TenantConfiguration) TableName() string {
	return "tenant_configurations"
}
