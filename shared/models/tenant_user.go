package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantRole represents a user's role within a tenant
type TenantRole string

const (
	RoleViewer  TenantRole = "viewer"
	RoleStudent TenantRole = "student"
	RoleTeacher TenantRole = "teacher"
	RoleManager TenantRole = "manager"
	RoleAdmin   TenantRole = "admin"
	RoleOwner   TenantRole = "owner"
)

// RoleHierarchy orders roles from least to most privileged. Access checks
// compare indices: a member's role must rank at or above the required role.
var RoleHierarchy = []TenantRole{
	RoleViewer,
	RoleStudent,
	RoleTeacher,
	RoleManager,
	RoleAdmin,
	RoleOwner,
}

// RoleRank returns the hierarchy index of a role, or -1 for unknown roles
func RoleRank(role TenantRole) int {
	for i, r := range RoleHierarchy {
		if r == role {
			return i
		}
	}
	return -1
}

// DefaultPermissionsForRole returns the permission set granted to a role
// when an invitation does not supply one explicitly.
func DefaultPermissionsForRole(role TenantRole) []string {
	switch role {
	case RoleOwner:
		return []string{"tenant:manage", "users:manage", "courses:manage", "content:manage", "reports:view", "billing:manage"}
	case RoleAdmin:
		return []string{"users:manage", "courses:manage", "content:manage", "reports:view"}
	case RoleManager:
		return []string{"courses:manage", "content:manage", "reports:view"}
	case RoleTeacher:
		return []string{"courses:edit", "content:edit", "students:view"}
	case RoleStudent:
		return []string{"courses:view", "content:view"}
	default: // viewer
		return []string{"courses:view"}
	}
}

// TenantUser links a platform user to a tenant with a role and permissions
type TenantUser struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    uuid.UUID      `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex:idx_tenant_users_member"`
	UserID      string         `json:"user_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_tenant_users_member"`
	Role        TenantRole     `json:"role" gorm:"type:varchar(20);not null;default:'student'"`
	Permissions []string       `json:"permissions" gorm:"serializer:json;type:jsonb"`
	IsActive    bool           `json:"is_active" gorm:"default:true"`
	JoinedAt    time.Time      `json:"joined_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}

// TableName returns the table name for the TenantUser model
func (TenantUser) TableName() string {
	return "tenant_users"
}

// IsOwner reports whether this membership is the tenant owner
func (tu *TenantUser) IsOwner() bool {
	return tu.Role == RoleOwner
}

// HasPermission checks for an exact permission string match
func (tu *TenantUser) HasPermission(permission string) bool {
	for _, p := range tu.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
