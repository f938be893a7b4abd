package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantPlan represents the subscription plan of a tenant
type TenantPlan string

const (
	PlanFree         TenantPlan = "free"
	PlanStarter      TenantPlan = "starter"
	PlanProfessional TenantPlan = "professional"
	PlanEnterprise   TenantPlan = "enterprise"
)

// IsolationLevel controls how strongly a tenant's data is separated
type IsolationLevel string

const (
	IsolationShared   IsolationLevel = "shared"
	IsolationSchema   IsolationLevel = "schema"
	IsolationDatabase IsolationLevel = "database"
)

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// TenantFeatures holds plan-derived limits and capability flags.
// Limit pointers are tri-state: nil means unlimited, zero means
// explicitly nothing allowed, positive is the cap.
type TenantFeatures struct {
	MaxUsers        *int64 `json:"max_users,omitempty"`
	MaxCourses      *int64 `json:"max_courses,omitempty"`
	MaxStorageMB    *int64 `json:"max_storage_mb,omitempty"`
	CustomDomains   bool   `json:"custom_domains"`
	LiveStreaming   bool   `json:"live_streaming"`
	AdvancedReports bool   `json:"advanced_reports"`
	APIAccess       bool   `json:"api_access"`
}

// TenantBranding holds per-tenant theme customization
type TenantBranding struct {
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	LogoURL        string `json:"logo_url,omitempty"`
	FontFamily     string `json:"font_family"`
}

// TenantSettings holds per-tenant operational settings
type TenantSettings struct {
	Locale                string `json:"locale"`
	Timezone              string `json:"timezone"`
	PasswordMinLength     int    `json:"password_min_length"`
	SessionTimeoutMinutes int    `json:"session_timeout_minutes"`
}

// Tenant represents a tenant in the multi-tenant platform
type Tenant struct {
	ID               uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name             string         `json:"name" gorm:"not null"`
	Subdomain        string         `json:"subdomain" gorm:"uniqueIndex;not null"`
	Domain           string         `json:"domain,omitempty" gorm:"uniqueIndex:idx_tenants_domain,where:domain <> ''"`
	OwnerID          string         `json:"owner_id" gorm:"type:varchar(255);not null;index"`
	Plan             TenantPlan     `json:"plan" gorm:"type:varchar(20);not null;default:'free'"`
	IsolationLevel   IsolationLevel `json:"isolation_level" gorm:"type:varchar(20);not null;default:'shared'"`
	Status           TenantStatus   `json:"status" gorm:"type:varchar(20);not null;default:'trial';index"`
	Features         TenantFeatures `json:"features" gorm:"serializer:json;type:jsonb"`
	Branding         TenantBranding `json:"branding" gorm:"serializer:json;type:jsonb"`
	Settings         TenantSettings `json:"settings" gorm:"serializer:json;type:jsonb"`
	DatabaseName     string         `json:"database_name,omitempty"`
	SchemaName       string         `json:"schema_name,omitempty"`
	TrialEndsAt      *time.Time     `json:"trial_ends_at,omitempty"`
	SuspendedAt      *time.Time     `json:"suspended_at,omitempty"`
	SuspensionReason string         `json:"suspension_reason,omitempty"`
	LastAccessAt     *time.Time     `json:"last_access_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	// Relationships
	Users   []TenantUser   `json:"users,omitempty" gorm:"foreignKey:TenantID"`
	Domains []TenantDomain `json:"domains,omitempty" gorm:"foreignKey:TenantID"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// IsActive checks if the tenant is serving traffic
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// Suspend marks the tenant suspended with a reason
func (t *Tenant) Suspend(reason string) {
	now := time.Now()
	t.Status = TenantStatusSuspended
	t.SuspendedAt = &now
	t.SuspensionReason = reason
}

// Reactivate clears suspension state and restores the tenant
func (t *Tenant) Reactivate() {
	t.Status = TenantStatusActive
	t.SuspendedAt = nil
	t.SuspensionReason = ""
}

// DefaultFeaturesForPlan returns the plan-derived feature limits
func DefaultFeaturesForPlan(plan TenantPlan) TenantFeatures {
	limit := func(n int64) *int64 { return &n }

	switch plan {
	case PlanStarter:
		return TenantFeatures{
			MaxUsers:      limit(100),
			MaxCourses:    limit(50),
			MaxStorageMB:  limit(10240),
			CustomDomains: true,
		}
	case PlanProfessional:
		return TenantFeatures{
			MaxUsers:        limit(1000),
			MaxCourses:      limit(500),
			MaxStorageMB:    limit(102400),
			CustomDomains:   true,
			LiveStreaming:   true,
			AdvancedReports: true,
			APIAccess:       true,
		}
	case PlanEnterprise:
		// Enterprise has no hard limits
		return TenantFeatures{
			CustomDomains:   true,
			LiveStreaming:   true,
			AdvancedReports: true,
			APIAccess:       true,
		}
	default: // free
		return TenantFeatures{
			MaxUsers:     limit(10),
			MaxCourses:   limit(5),
			MaxStorageMB: limit(512),
		}
	}
}

// DefaultBranding returns the platform default theme
func DefaultBranding() TenantBranding {
	return TenantBranding{
		PrimaryColor:   "#2563eb",
		SecondaryColor: "#f59e0b",
		FontFamily:     "Inter",
	}
}

// DefaultSettings returns the platform default tenant settings
func DefaultSettings() TenantSettings {
	return TenantSettings{
		Locale:                "en-US",
		Timezone:              "UTC",
		PasswordMinLength:     8,
		SessionTimeoutMinutes: 60,
	}
}
