package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLevel classifies the severity of an audit entry
type AuditLevel string

const (
	AuditLevelInfo     AuditLevel = "info"
	AuditLevelWarning  AuditLevel = "warning"
	AuditLevelCritical AuditLevel = "critical"
)

// Audit actions recorded by the tenancy core
const (
	AuditTenantCreated     = "tenant.created"
	AuditTenantUpdated     = "tenant.updated"
	AuditTenantSuspended   = "tenant.suspended"
	AuditTenantReactivated = "tenant.reactivated"
	AuditUserInvited       = "tenant.user_invited"
	AuditUserJoined        = "tenant.user_joined"
	AuditUserRoleUpdated   = "tenant.user_role_updated"
	AuditUserRemoved       = "tenant.user_removed"
	AuditDomainAdded       = "tenant.domain_added"
	AuditDomainVerified    = "tenant.domain_verified"
	AuditConfigUpdated     = "tenant.config_updated"
)

// AuditChanges captures before/after snapshots for a mutation
type AuditChanges struct {
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// TenantAuditLog is an append-only record of a mutating tenant operation,
// written in the same transaction as the mutation itself.
type TenantAuditLog struct {
	ID         uuid.UUID    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   uuid.UUID    `json:"tenant_id" gorm:"type:uuid;not null;index"`
	UserID     string       `json:"user_id,omitempty" gorm:"type:varchar(255);index"`
	Action     string       `json:"action" gorm:"not null;index"`
	Resource   string       `json:"resource" gorm:"not null"`
	ResourceID string       `json:"resource_id"`
	Changes    AuditChanges `json:"changes" gorm:"serializer:json;type:jsonb"`
	Level      AuditLevel   `json:"level" gorm:"type:varchar(20);not null;default:'info'"`
	CreatedAt  time.Time    `json:"created_at"`
}

// TableName returns the table name for the TenantAuditLog model
func (TenantAuditLog) TableName() string {
	return "tenant_audit_logs"
}
