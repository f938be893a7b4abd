package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edutech/lms-tenancy/shared/models"
	"github.com/edutech/lms-tenancy/shared/utils"
)

// usage warning threshold as a fraction of the limit
const usageWarningRatio = 0.8

// tenantCacheTTL bounds staleness of the resolver's Redis fast path
const tenantCacheTTL = 5 * time.Minute

// TenantContext is the resolved tenant plus the requesting user's
// membership, attached to requests for downstream authorization. Role and
// Permissions are empty when the user is authenticated but not a member;
// rejecting that degraded context is the caller's decision.
type TenantContext struct {
	Tenant      *models.Tenant    `json:"tenant"`
	UserID      string            `json:"user_id,omitempty"`
	Role        models.TenantRole `json:"role,omitempty"`
	Permissions []string          `json:"permissions,omitempty"`
	IsMember    bool              `json:"is_member"`
}

// UsageReport is the outcome of a usage-limit check
type UsageReport struct {
	WithinLimits bool               `json:"within_limits"`
	Limits       map[string]*int64  `json:"limits"`
	Current      map[string]float64 `json:"current"`
	Warnings     []string           `json:"warnings,omitempty"`
	Violations   []string           `json:"violations,omitempty"`
}

// Resolver identifies the tenant behind an inbound request by running a
// fixed-priority chain of resolution strategies, then validates and loads
// the tenant row.
type Resolver struct {
	store      Store
	strategies []ResolutionStrategy
	baseDomain string
	log        *logrus.Entry
}

// NewResolver creates a resolver with the default strategy order:
// header, domain, subdomain, path.
func NewResolver(store Store, baseDomain string) *Resolver {
	return NewResolverWithStrategies(store, baseDomain, []ResolutionStrategy{
		HeaderStrategy{},
		NewDomainStrategy(store),
		NewSubdomainStrategy(store),
		NewPathStrategy(store),
	})
}

// NewResolverWithStrategies creates a resolver with an explicit ordered
// strategy chain.
func NewResolverWithStrategies(store Store, baseDomain string, strategies []ResolutionStrategy) *Resolver {
	return &Resolver{
		store:      store,
		strategies: strategies,
		baseDomain: strings.ToLower(baseDomain),
		log:        logrus.WithField("component", "tenant_resolver"),
	}
}

// ResolveTenant runs the strategy chain and returns the active tenant the
// request belongs to, or nil when the request carries no usable tenant
// identity. Trial and suspended tenants are invisible here: an id that
// resolves to an inactive tenant yields nil, not an error.
func (r *Resolver) ResolveTenant(ctx context.Context, req Request) (*models.Tenant, error) {
	var tenantID string
	for _, strategy := range r.strategies {
		id, err := strategy.Resolve(ctx, req)
		if err != nil {
			r.log.WithError(err).WithField("strategy", strategy.Name()).
				Warn("Tenant resolution strategy failed, trying next")
			continue
		}
		if id != "" {
			r.log.WithFields(logrus.Fields{
				"strategy":  strategy.Name(),
				"tenant_id": id,
			}).Debug("Tenant identified")
			tenantID = id
			break
		}
	}
	if tenantID == "" {
		return nil, nil
	}

	tenant, err := r.loadTenant(ctx, tenantID)
	if err != nil {
		r.log.WithError(err).WithField("tenant_id", tenantID).
			Warn("Failed to load resolved tenant")
		return nil, nil
	}

	if !tenant.IsActive() {
		r.log.WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"status":    tenant.Status,
		}).Info("Resolved tenant is not active, rejecting")
		return nil, nil
	}

	if err := r.store.TouchTenantAccess(ctx, tenant.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to update tenant last access: %w", err)
	}
	return tenant, nil
}

// ResolveTenantContext resolves the tenant and, when an authenticated
// user is present, their membership within it.
func (r *Resolver) ResolveTenantContext(ctx context.Context, req Request) (*TenantContext, error) {
	tenant, err := r.ResolveTenant(ctx, req)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, nil
	}

	tc := &TenantContext{Tenant: tenant}

	userID := req.UserID()
	if userID == "" {
		return tc, nil
	}
	tc.UserID = userID

	members, err := r.store.ListTenantUsers(ctx, tenant.ID)
	if err != nil {
		r.log.WithError(err).WithField("tenant_id", tenant.ID).
			Warn("Failed to load tenant memberships, returning tenant-only context")
		return tc, nil
	}

	for _, member := range members {
		if member.UserID == userID {
			tc.IsMember = true
			tc.Role = member.Role
			tc.Permissions = member.Permissions
			break
		}
	}
	return tc, nil
}

// ValidateTenantAccess checks whether a user holds an active membership
// that satisfies the required role and permissions. Lookup errors deny
// access: this path fails closed.
func (r *Resolver) ValidateTenantAccess(ctx context.Context, tenantID uuid.UUID, userID string, requiredRole models.TenantRole, requiredPermissions []string) bool {
	member, err := r.store.GetTenantUser(ctx, tenantID, userID)
	if err != nil {
		return false
	}
	if !member.IsActive {
		return false
	}

	if requiredRole != "" {
		required := models.RoleRank(requiredRole)
		if required < 0 || models.RoleRank(member.Role) < required {
			return false
		}
	}

	for _, permission := range requiredPermissions {
		if !member.HasPermission(permission) {
			return false
		}
	}
	return true
}

// CheckUsageLimits compares today's usage snapshot against the tenant's
// plan limits. A nil limit is unlimited; a zero limit forbids any usage.
// Lookup errors report "within limits": this path fails open.
func (r *Resolver) CheckUsageLimits(ctx context.Context, tenantID uuid.UUID) UsageReport {
	report := UsageReport{
		WithinLimits: true,
		Limits:       map[string]*int64{},
		Current:      map[string]float64{},
	}

	tenant, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		r.log.WithError(err).WithField("tenant_id", tenantID).
			Warn("Usage limit check failed, assuming within limits")
		return report
	}

	usage, err := r.store.GetUsageForDay(ctx, tenantID, time.Now())
	if err != nil {
		r.log.WithError(err).WithField("tenant_id", tenantID).
			Warn("Usage lookup failed, assuming within limits")
		return report
	}

	dimensions := []struct {
		metric string
		limit  *int64
	}{
		{models.MetricActiveUsers, tenant.Features.MaxUsers},
		{models.MetricCourses, tenant.Features.MaxCourses},
		{models.MetricStorageMB, tenant.Features.MaxStorageMB},
	}

	for _, dim := range dimensions {
		current := usage[dim.metric]
		report.Current[dim.metric] = current
		report.Limits[dim.metric] = dim.limit

		if dim.limit == nil {
			continue
		}
		limit := *dim.limit

		switch {
		case limit == 0:
			if current > 0 {
				report.WithinLimits = false
				report.Violations = append(report.Violations,
					fmt.Sprintf("%s: plan allows none, %g recorded", dim.metric, current))
			}
		case current >= float64(limit):
			report.WithinLimits = false
			report.Violations = append(report.Violations,
				fmt.Sprintf("%s: %g of %d used", dim.metric, current, limit))
		case current >= float64(limit)*usageWarningRatio:
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: %g of %d used (above %d%%)", dim.metric, current, limit, int(usageWarningRatio*100)))
		}
	}
	return report
}

// IsTenantRequest is a permissive heuristic for whether resolution should
// be attempted at all. False positives are fine; it is never an
// authorization gate.
func (r *Resolver) IsTenantRequest(ctx context.Context, req Request) bool {
	if req.Header(TenantIDHeader) != "" {
		return true
	}
	if extractSubdomain(req.Host()) != "" {
		return true
	}
	if host := normalizeHost(req.Host()); host != "" {
		if _, err := r.store.GetTenantByDomain(ctx, host); err == nil {
			return true
		}
	}
	segments := 0
	for _, segment := range strings.Split(req.Path(), "/") {
		if segment != "" {
			segments++
		}
	}
	return segments >= 2
}

// TenantURL builds a tenant-scoped URL. A verified primary custom domain
// wins over the platform subdomain.
func (r *Resolver) TenantURL(ctx context.Context, tenant *models.Tenant, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	domains, err := r.store.ListDomains(ctx, tenant.ID)
	if err == nil {
		for _, domain := range domains {
			if domain.IsVerified && domain.Type == models.DomainTypePrimary {
				return "https://" + domain.Domain + path
			}
		}
	}
	if tenant.Domain != "" {
		return "https://" + tenant.Domain + path
	}
	return "https://" + tenant.Subdomain + "." + r.baseDomain + path
}

// loadTenant fetches a tenant by id, going through the Redis fast path
// when the cache is initialized. Cache failures are ignored.
func (r *Resolver) loadTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", tenantID, err)
	}

	cacheKey := "tenant:id:" + tenantID
	if cached, err := utils.CacheGet(cacheKey); err == nil {
		var tenant models.Tenant
		if json.Unmarshal([]byte(cached), &tenant) == nil {
			return &tenant, nil
		}
	}

	tenant, err := r.store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tenant); err == nil {
		_ = utils.CacheSet(cacheKey, string(data), tenantCacheTTL)
	}
	return tenant, nil
}

// InvalidateTenantCache drops the cached row for a tenant after a status
// or plan change.
func InvalidateTenantCache(tenantID uuid.UUID) {
	_ = utils.CacheDelete("tenant:id:" + tenantID.String())
}
