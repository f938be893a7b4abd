package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edutech/lms-tenancy/shared/models"
)

// GormStore is the Postgres-backed Store. It relies on the unique
// indexes declared on the models as the authoritative guard against
// concurrent duplicate creation; duplicate-key errors are translated to
// ErrDuplicateViolation.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by the given GORM connection.
// The connection must be opened with TranslateError enabled so duplicate
// key violations surface as gorm.ErrDuplicatedKey.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func wrapGormError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateViolation
	}
	return err
}

// Tenants

func (s *GormStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	return wrapGormError(s.db.WithContext(ctx).Create(tenant).Error)
}

func (s *GormStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, wrapGormError(err)
	}
	return &tenant, nil
}

func (s *GormStore) GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where("subdomain = ?", subdomain).First(&tenant).Error; err != nil {
		return nil, wrapGormError(err)
	}
	return &tenant, nil
}

func (s *GormStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.WithContext(ctx).Where("domain = ?", domain).First(&tenant).Error
	if err == nil {
		return &tenant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wrapGormError(err)
	}

	// Fall back to registered custom domains
	var record models.TenantDomain
	if err := s.db.WithContext(ctx).Where("domain = ?", domain).First(&record).Error; err != nil {
		return nil, wrapGormError(err)
	}
	return s.GetTenant(ctx, record.TenantID)
}

func (s *GormStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	return wrapGormError(s.db.WithContext(ctx).Save(tenant).Error)
}

func (s *GormStore) TouchTenantAccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return wrapGormError(s.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", id).
		Update("last_access_at", at).Error)
}

func (s *GormStore) ListTenants(ctx context.Context, status models.TenantStatus, page, size int) ([]models.Tenant, int64, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Tenant{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapGormError(err)
	}

	var tenants []models.Tenant
	err := query.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&tenants).Error
	if err != nil {
		return nil, 0, wrapGormError(err)
	}
	return tenants, total, nil
}

// Users / memberships

func (s *GormStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, wrapGormError(err)
	}
	return &user, nil
}

func (s *GormStore) CreateTenantUser(ctx context.Context, member *models.TenantUser) error {
	return wrapGormError(s.db.WithContext(ctx).Create(member).Error)
}

func (s *GormStore) GetTenantUser(ctx context.Context, tenantID uuid.UUID, userID string) (*models.TenantUser, error) {
	var member models.TenantUser
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		First(&member).Error
	if err != nil {
		return nil, wrapGormError(err)
	}
	return &member, nil
}

func (s *GormStore) GetTenantUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.TenantUser, error) {
	var member models.TenantUser
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = tenant_users.user_id").
		Where("tenant_users.tenant_id = ? AND users.email = ?", tenantID, email).
		First(&member).Error
	if err != nil {
		return nil, wrapGormError(err)
	}
	return &member, nil
}

func (s *GormStore) ListTenantUsers(ctx context.Context, tenantID uuid.UUID) ([]models.TenantUser, error) {
	var members []models.TenantUser
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, wrapGormError(err)
	}
	return members, nil
}

func (s *GormStore) UpdateTenantUser(ctx context.Context, member *models.TenantUser) error {
	return wrapGormError(s.db.WithContext(ctx).Save(member).Error)
}

func (s *GormStore) DeleteTenantUser(ctx context.Context, tenantID uuid.UUID, userID string) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Delete(&models.TenantUser{})
	if result.Error != nil {
		return wrapGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Invitations

func (s *GormStore) CreateInvitation(ctx context.Context, inv *models.TenantInvitation) error {
	return wrapGormError(s.db.WithContext(ctx).Create(inv).Error)
}

func (s *GormStore) GetInvitationByToken(ctx context.Context, token string) (*models.TenantInvitation, error) {
	var inv models.TenantInvitation
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&inv).Error; err != nil {
		return nil, wrapGormError(err)
	}
	return &inv, nil
}

func (s *GormStore) GetPendingInvitation(ctx context.Context, tenantID uuid.UUID, email string) (*models.TenantInvitation, error) {
	var inv models.TenantInvitation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ? AND status = ?", tenantID, email, models.InvitationStatusPending).
		First(&inv).Error
	if err != nil {
		return nil, wrapGormError(err)
	}
	return &inv, nil
}

func (s *GormStore) UpdateInvitation(ctx context.Context, inv *models.TenantInvitation) error {
	return wrapGormError(s.db.WithContext(ctx).Save(inv).Error)
}

func (s *GormStore) ListInvitations(ctx context.Context, tenantID uuid.UUID) ([]models.TenantInvitation, error) {
	var invs []models.TenantInvitation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&invs).Error
	if err != nil {
		return nil, wrapGormError(err)
	}
	return invs, nil
}

// Custom domains

func (s *GormStore) CreateDomain(ctx context.Context, domain *models.TenantDomain) error {
	return wrapGormError(s.db.WithContext(ctx).Create(domain).Error)
}

func (s *GormStore) GetDomain(ctx context.Context, id uuid.UUID) (*models.TenantDomain, error) {
	var domain models.TenantDomain
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&domain).Error; err != nil {
		return nil, wrapGormError(err)
	}
	return &domain, nil
}

func (s *GormStore) GetDomainByName(ctx context.Context, name string) (*models.TenantDomain, error) {
	var domain models.TenantDomain
	if err := s.db.WithContext(ctx).Where("domain = ?", name).First(&domain).Error; err != nil {
		return nil, wrapGormError(err)
	}
	return &domain, nil
}

func (s *GormStore) UpdateDomain(ctx context.Context, domain *models.TenantDomain) error {
	return wrapGormError(s.db.WithContext(ctx).Save(domain).Error)
}

func (s *GormStore) ListDomains(ctx context.Context, tenantID uuid.UUID) ([]models.TenantDomain, error) {
	var domains []models.TenantDomain
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&domains).Error
	if err != nil {
		return nil, wrapGormError(err)
	}
	return domains, nil
}

// Configuration

func (s *GormStore) UpsertConfiguration(ctx context.Context, cfg *models.TenantConfiguration) error {
	return wrapGormError(s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"}, {Name: "category"}, {Name: "key"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(cfg).Error)
}

func (s *GormStore) ListConfigurations(ctx context.Context, tenantID uuid.UUID) ([]models.TenantConfiguration, error) {
	var configs []models.TenantConfiguration
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("category ASC, key ASC").
		Find(&configs).Error
	if err != nil {
		return nil, wrapGormError(err)
	}
	return configs, nil
}

// Usage metrics

func (s *GormStore) UpsertUsageMetric(ctx context.Context, tenantID uuid.UUID, metricType string, day time.Time, value float64, accumulate bool) error {
	metric := models.TenantUsageMetric{
		ID:         uuid.New(),
		TenantID:   tenantID,
		MetricType: metricType,
		RecordedOn: models.DayOf(day),
		Value:      value,
	}

	conflict := clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "metric_type"}, {Name: "recorded_on"},
		},
	}
	if accumulate {
		conflict.DoUpdates = clause.Assignments(map[string]interface{}{
			"value":      gorm.Expr("tenant_usage_metrics.value + excluded.value"),
			"updated_at": time.Now(),
		})
	} else {
		conflict.DoUpdates = clause.AssignmentColumns([]string{"value", "updated_at"})
	}

	return wrapGormError(s.db.WithContext(ctx).Clauses(conflict).Create(&metric).Error)
}

func (s *GormStore) GetUsageForDay(ctx context.Context, tenantID uuid.UUID, day time.Time) (map[string]float64, error) {
	var metrics []models.TenantUsageMetric
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND recorded_on = ?", tenantID, models.DayOf(day)).
		Find(&metrics).Error
	if err != nil {
		return nil, wrapGormError(err)
	}

	usage := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		usage[m.MetricType] = m.Value
	}
	return usage, nil
}

// Audit

func (s *GormStore) CreateAuditLog(ctx context.Context, entry *models.TenantAuditLog) error {
	return wrapGormError(s.db.WithContext(ctx).Create(entry).Error)
}

func (s *GormStore) ListAuditLogs(ctx context.Context, tenantID uuid.UUID, page, size int) ([]models.TenantAuditLog, int64, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}

	query := s.db.WithContext(ctx).Model(&models.TenantAuditLog{}).Where("tenant_id = ?", tenantID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapGormError(err)
	}

	var entries []models.TenantAuditLog
	err := query.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&entries).Error
	if err != nil {
		return nil, 0, wrapGormError(err)
	}
	return entries, total, nil
}

// ProvisionIsolation creates the dedicated schema or database for a
// tenant. CREATE DATABASE cannot run inside a transaction in Postgres, so
// database-level isolation is provisioned on the root connection and a
// failed tenant creation may leave an orphan database behind.
func (s *GormStore) ProvisionIsolation(ctx context.Context, tenantID uuid.UUID, level models.IsolationLevel) (string, error) {
	suffix := strings.ReplaceAll(tenantID.String(), "-", "")

	switch level {
	case models.IsolationSchema:
		name := "tenant_" + suffix
		if err := s.db.WithContext(ctx).Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", name)).Error; err != nil {
			return "", fmt.Errorf("failed to create schema %s: %w", name, err)
		}
		return name, nil
	case models.IsolationDatabase:
		name := "tenant_db_" + suffix
		if err := s.db.WithContext(ctx).Exec(fmt.Sprintf("CREATE DATABASE %q", name)).Error; err != nil {
			return "", fmt.Errorf("failed to create database %s: %w", name, err)
		}
		return name, nil
	default:
		return "", nil
	}
}
