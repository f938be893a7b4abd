package tenancy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edutech/lms-tenancy/shared/models"
)

// Store is the persistence boundary of the tenancy core. Two
// implementations exist: GormStore (Postgres) and MemoryStore (tests and
// DB-disabled mode). Uniqueness of subdomains, domains and memberships is
// guaranteed by the store, not by callers' pre-checks.
type Store interface {
	// Transaction runs fn against a store bound to a single transaction.
	// All writes inside fn commit together or roll back together.
	Transaction(ctx context.Context, fn func(Store) error) error

	// Tenants
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error)
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
	TouchTenantAccess(ctx context.Context, id uuid.UUID, at time.Time) error
	ListTenants(ctx context.Context, status models.TenantStatus, page, size int) ([]models.Tenant, int64, error)

	// Users / memberships
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateTenantUser(ctx context.Context, member *models.TenantUser) error
	GetTenantUser(ctx context.Context, tenantID uuid.UUID, userID string) (*models.TenantUser, error)
	GetTenantUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.TenantUser, error)
	ListTenantUsers(ctx context.Context, tenantID uuid.UUID) ([]models.TenantUser, error)
	UpdateTenantUser(ctx context.Context, member *models.TenantUser) error
	DeleteTenantUser(ctx context.Context, tenantID uuid.UUID, userID string) error

	// Invitations
	CreateInvitation(ctx context.Context, inv *models.TenantInvitation) error
	GetInvitationByToken(ctx context.Context, token string) (*models.TenantInvitation, error)
	GetPendingInvitation(ctx context.Context, tenantID uuid.UUID, email string) (*models.TenantInvitation, error)
	UpdateInvitation(ctx context.Context, inv *models.TenantInvitation) error
	ListInvitations(ctx context.Context, tenantID uuid.UUID) ([]models.TenantInvitation, error)

	// Custom domains
	CreateDomain(ctx context.Context, domain *models.TenantDomain) error
	GetDomain(ctx context.Context, id uuid.UUID) (*models.TenantDomain, error)
	GetDomainByName(ctx context.Context, domain string) (*models.TenantDomain, error)
	UpdateDomain(ctx context.Context, domain *models.TenantDomain) error
	ListDomains(ctx context.Context, tenantID uuid.UUID) ([]models.TenantDomain, error)

	// Configuration
	UpsertConfiguration(ctx context.Context, cfg *models.TenantConfiguration) error
	ListConfigurations(ctx context.Context, tenantID uuid.UUID) ([]models.TenantConfiguration, error)

	// Usage metrics
	UpsertUsageMetric(ctx context.Context, tenantID uuid.UUID, metricType string, day time.Time, value float64, accumulate bool) error
	GetUsageForDay(ctx context.Context, tenantID uuid.UUID, day time.Time) (map[string]float64, error)

	// Audit
	CreateAuditLog(ctx context.Context, entry *models.TenantAuditLog) error
	ListAuditLogs(ctx context.Context, tenantID uuid.UUID, page, size int) ([]models.TenantAuditLog, int64, error)

	// ProvisionIsolation executes the DDL needed for schema or database
	// isolation and returns the generated object name. DDL is not
	// transactional in Postgres; callers must treat rollback as best-effort.
	ProvisionIsolation(ctx context.Context, tenantID uuid.UUID, level models.IsolationLevel) (string, error)
}
