package tenancy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edutech/lms-tenancy/shared/models"
)

// MemoryStore is an in-memory Store used by tests and when the platform
// runs with the database disabled. It enforces the same uniqueness rules
// the Postgres indexes do, so the duplicate-creation behavior matches.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	tenants     map[uuid.UUID]models.Tenant
	users       map[string]models.User
	members     map[uuid.UUID][]models.TenantUser
	invitations map[uuid.UUID]models.TenantInvitation
	domains     map[uuid.UUID]models.TenantDomain
	configs     map[uuid.UUID][]models.TenantConfiguration
	usage       map[uuid.UUID]map[string]map[time.Time]float64
	audit       map[uuid.UUID][]models.TenantAuditLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     map[uuid.UUID]models.Tenant{},
		users:       map[string]models.User{},
		members:     map[uuid.UUID][]models.TenantUser{},
		invitations: map[uuid.UUID]models.TenantInvitation{},
		domains:     map[uuid.UUID]models.TenantDomain{},
		configs:     map[uuid.UUID][]models.TenantConfiguration{},
		usage:       map[uuid.UUID]map[string]map[time.Time]float64{},
		audit:       map[uuid.UUID][]models.TenantAuditLog{},
	}
}

// AddUser seeds a platform user, mirroring what the auth service would
// have written.
func (s *MemoryStore) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *MemoryStore) snapshot() *MemoryStore {
	clone := NewMemoryStore()
	for k, v := range s.tenants {
		clone.tenants[k] = v
	}
	for k, v := range s.users {
		clone.users[k] = v
	}
	for k, v := range s.members {
		clone.members[k] = append([]models.TenantUser(nil), v...)
	}
	for k, v := range s.invitations {
		clone.invitations[k] = v
	}
	for k, v := range s.domains {
		clone.domains[k] = v
	}
	for k, v := range s.configs {
		clone.configs[k] = append([]models.TenantConfiguration(nil), v...)
	}
	for tid, byMetric := range s.usage {
		m := map[string]map[time.Time]float64{}
		for metric, byDay := range byMetric {
			d := map[time.Time]float64{}
			for day, val := range byDay {
				d[day] = val
			}
			m[metric] = d
		}
		clone.usage[tid] = m
	}
	for k, v := range s.audit {
		clone.audit[k] = append([]models.TenantAuditLog(nil), v...)
	}
	return clone
}

func (s *MemoryStore) restore(from *MemoryStore) {
	s.tenants = from.tenants
	s.users = from.users
	s.members = from.members
	s.invitations = from.invitations
	s.domains = from.domains
	s.configs = from.configs
	s.usage = from.usage
	s.audit = from.audit
}

// Transaction serializes transactional units and rolls the whole store
// back to its pre-transaction state when fn fails.
func (s *MemoryStore) Transaction(_ context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	before := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restore(before)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Tenants

func (s *MemoryStore) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tenants {
		if existing.Subdomain == tenant.Subdomain {
			return ErrDuplicateViolation
		}
		if tenant.Domain != "" && existing.Domain == tenant.Domain {
			return ErrDuplicateViolation
		}
	}

	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	s.tenants[tenant.ID] = *tenant
	return nil
}

func (s *MemoryStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tenant, nil
}

func (s *MemoryStore) GetTenantBySubdomain(_ context.Context, subdomain string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenant := range s.tenants {
		if tenant.Subdomain == subdomain {
			t := tenant
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetTenantByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenant := range s.tenants {
		if tenant.Domain != "" && tenant.Domain == domain {
			t := tenant
			return &t, nil
		}
	}
	for _, record := range s.domains {
		if record.Domain == domain {
			if tenant, ok := s.tenants[record.TenantID]; ok {
				t := tenant
				return &t, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateTenant(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenant.ID]; !ok {
		return ErrNotFound
	}
	tenant.UpdatedAt = time.Now()
	s.tenants[tenant.ID] = *tenant
	return nil
}

func (s *MemoryStore) TouchTenantAccess(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}
	tenant.LastAccessAt = &at
	s.tenants[id] = tenant
	return nil
}

func (s *MemoryStore) ListTenants(_ context.Context, status models.TenantStatus, page, size int) ([]models.Tenant, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.Tenant, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		if status != "" && tenant.Status != status {
			continue
		}
		all = append(all, tenant)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// Users / memberships

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (s *MemoryStore) CreateTenantUser(_ context.Context, member *models.TenantUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.members[member.TenantID] {
		if existing.UserID == member.UserID {
			return ErrDuplicateViolation
		}
	}

	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	now := time.Now()
	member.CreatedAt = now
	member.UpdatedAt = now
	s.members[member.TenantID] = append(s.members[member.TenantID], *member)
	return nil
}

func (s *MemoryStore) GetTenantUser(_ context.Context, tenantID uuid.UUID, userID string) (*models.TenantUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, member := range s.members[tenantID] {
		if member.UserID == userID {
			m := member
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetTenantUserByEmail(_ context.Context, tenantID uuid.UUID, email string) (*models.TenantUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, member := range s.members[tenantID] {
		if user, ok := s.users[member.UserID]; ok && strings.EqualFold(user.Email, email) {
			m := member
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListTenantUsers(_ context.Context, tenantID uuid.UUID) ([]models.TenantUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := append([]models.TenantUser(nil), s.members[tenantID]...)
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (s *MemoryStore) UpdateTenantUser(_ context.Context, member *models.TenantUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.members[member.TenantID]
	for i, existing := range list {
		if existing.ID == member.ID {
			member.UpdatedAt = time.Now()
			list[i] = *member
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) DeleteTenantUser(_ context.Context, tenantID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.members[tenantID]
	for i, member := range list {
		if member.UserID == userID {
			s.members[tenantID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Invitations

func (s *MemoryStore) CreateInvitation(_ context.Context, inv *models.TenantInvitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invitations {
		if existing.Token == inv.Token {
			return ErrDuplicateViolation
		}
	}

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	s.invitations[inv.ID] = *inv
	return nil
}

func (s *MemoryStore) GetInvitationByToken(_ context.Context, token string) (*models.TenantInvitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invitations {
		if inv.Token == token {
			i := inv
			return &i, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetPendingInvitation(_ context.Context, tenantID uuid.UUID, email string) (*models.TenantInvitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invitations {
		if inv.TenantID == tenantID && strings.EqualFold(inv.Email, email) && inv.Status == models.InvitationStatusPending {
			i := inv
			return &i, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateInvitation(_ context.Context, inv *models.TenantInvitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invitations[inv.ID]; !ok {
		return ErrNotFound
	}
	inv.UpdatedAt = time.Now()
	s.invitations[inv.ID] = *inv
	return nil
}

func (s *MemoryStore) ListInvitations(_ context.Context, tenantID uuid.UUID) ([]models.TenantInvitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var invs []models.TenantInvitation
	for _, inv := range s.invitations {
		if inv.TenantID == tenantID {
			invs = append(invs, inv)
		}
	}
	sort.Slice(invs, func(i, j int) bool {
		return invs[i].CreatedAt.After(invs[j].CreatedAt)
	})
	return invs, nil
}

// Custom domains

func (s *MemoryStore) CreateDomain(_ context.Context, domain *models.TenantDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.domains {
		if existing.Domain == domain.Domain {
			return ErrDuplicateViolation
		}
	}

	if domain.ID == uuid.Nil {
		domain.ID = uuid.New()
	}
	now := time.Now()
	domain.CreatedAt = now
	domain.UpdatedAt = now
	s.domains[domain.ID] = *domain
	return nil
}

func (s *MemoryStore) GetDomain(_ context.Context, id uuid.UUID) (*models.TenantDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	domain, ok := s.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &domain, nil
}

func (s *MemoryStore) GetDomainByName(_ context.Context, name string) (*models.TenantDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, domain := range s.domains {
		if domain.Domain == name {
			d := domain
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateDomain(_ context.Context, domain *models.TenantDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[domain.ID]; !ok {
		return ErrNotFound
	}
	domain.UpdatedAt = time.Now()
	s.domains[domain.ID] = *domain
	return nil
}

func (s *MemoryStore) ListDomains(_ context.Context, tenantID uuid.UUID) ([]models.TenantDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var domains []models.TenantDomain
	for _, domain := range s.domains {
		if domain.TenantID == tenantID {
			domains = append(domains, domain)
		}
	}
	sort.Slice(domains, func(i, j int) bool {
		return domains[i].CreatedAt.Before(domains[j].CreatedAt)
	})
	return domains, nil
}

// Configuration

func (s *MemoryStore) UpsertConfiguration(_ context.Context, cfg *models.TenantConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.configs[cfg.TenantID]
	for i, existing := range list {
		if existing.Category == cfg.Category && existing.Key == cfg.Key {
			existing.Value = cfg.Value
			existing.UpdatedAt = time.Now()
			list[i] = existing
			return nil
		}
	}

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	s.configs[cfg.TenantID] = append(list, *cfg)
	return nil
}

func (s *MemoryStore) ListConfigurations(_ context.Context, tenantID uuid.UUID) ([]models.TenantConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := append([]models.TenantConfiguration(nil), s.configs[tenantID]...)
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].Category != configs[j].Category {
			return configs[i].Category < configs[j].Category
		}
		return configs[i].Key < configs[j].Key
	})
	return configs, nil
}

// Usage metrics

func (s *MemoryStore) UpsertUsageMetric(_ context.Context, tenantID uuid.UUID, metricType string, day time.Time, value float64, accumulate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := models.DayOf(day)
	byMetric, ok := s.usage[tenantID]
	if !ok {
		byMetric = map[string]map[time.Time]float64{}
		s.usage[tenantID] = byMetric
	}
	byDay, ok := byMetric[metricType]
	if !ok {
		byDay = map[time.Time]float64{}
		byMetric[metricType] = byDay
	}

	if accumulate {
		byDay[bucket] += value
	} else {
		byDay[bucket] = value
	}
	return nil
}

func (s *MemoryStore) GetUsageForDay(_ context.Context, tenantID uuid.UUID, day time.Time) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := models.DayOf(day)
	usage := map[string]float64{}
	for metric, byDay := range s.usage[tenantID] {
		if value, ok := byDay[bucket]; ok {
			usage[metric] = value
		}
	}
	return usage, nil
}

// Audit

func (s *MemoryStore) CreateAuditLog(_ context.Context, entry *models.TenantAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	s.audit[entry.TenantID] = append(s.audit[entry.TenantID], *entry)
	return nil
}

func (s *MemoryStore) ListAuditLogs(_ context.Context, tenantID uuid.UUID, page, size int) ([]models.TenantAuditLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := append([]models.TenantAuditLog(nil), s.audit[tenantID]...)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	total := int64(len(entries))
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	start := (page - 1) * size
	if start > len(entries) {
		start = len(entries)
	}
	end := start + size
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end], total, nil
}

// ProvisionIsolation records a generated name without running DDL
func (s *MemoryStore) ProvisionIsolation(_ context.Context, tenantID uuid.UUID, level models.IsolationLevel) (string, error) {
	suffix := strings.ReplaceAll(tenantID.String(), "-", "")
	switch level {
	case models.IsolationSchema:
		return "tenant_" + suffix, nil
	case models.IsolationDatabase:
		return "tenant_db_" + suffix, nil
	default:
		return "", nil
	}
}
