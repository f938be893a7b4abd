package tenancy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutech/lms-tenancy/shared/models"
)

const testBaseDomain = "edutech.local"

func seedMember(t *testing.T, store *MemoryStore, tenantID uuid.UUID, userID string, role models.TenantRole) *models.TenantUser {
	t.Helper()
	member := &models.TenantUser{
		TenantID:    tenantID,
		UserID:      userID,
		Role:        role,
		Permissions: models.DefaultPermissionsForRole(role),
		IsActive:    true,
		JoinedAt:    time.Now(),
	}
	require.NoError(t, store.CreateTenantUser(context.Background(), member))
	return member
}

func TestResolveTenantHeaderBeatsSubdomain(t *testing.T) {
	store := NewMemoryStore()
	headerTenant := seedTenant(t, store, "alpha", models.TenantStatusActive)
	subdomainTenant := seedTenant(t, store, "beta", models.TenantStatusActive)
	resolver := NewResolver(store, testBaseDomain)

	// The header names alpha while the host names beta; the header wins.
	tenant, err := resolver.ResolveTenant(context.Background(), &fakeRequest{
		headers: map[string]string{TenantIDHeader: headerTenant.ID.String()},
		host:    subdomainTenant.Subdomain + "." + testBaseDomain,
	})

	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, headerTenant.ID, tenant.ID)
}

func TestResolveTenantNoIdentity(t *testing.T) {
	store := NewMemoryStore()
	seedTenant(t, store, "acme", models.TenantStatusActive)
	resolver := NewResolver(store, testBaseDomain)

	tenant, err := resolver.ResolveTenant(context.Background(), &fakeRequest{
		host: testBaseDomain,
		path: "/",
	})

	require.NoError(t, err)
	assert.Nil(t, tenant)
}

func TestResolveTenantInactiveTenantsInvisible(t *testing.T) {
	store := NewMemoryStore()
	suspended := seedTenant(t, store, "frozen", models.TenantStatusSuspended)
	trial := seedTenant(t, store, "newbie", models.TenantStatusTrial)
	resolver := NewResolver(store, testBaseDomain)

	for _, tenant := range []*models.Tenant{suspended, trial} {
		got, err := resolver.ResolveTenant(context.Background(), &fakeRequest{
			headers: map[string]string{TenantIDHeader: tenant.ID.String()},
		})
		require.NoError(t, err)
		assert.Nil(t, got, "tenant with status %s must not resolve", tenant.Status)
	}
}

func TestResolveTenantUpdatesLastAccess(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	resolver := NewResolver(store, testBaseDomain)

	_, err := resolver.ResolveTenant(context.Background(), &fakeRequest{
		headers: map[string]string{TenantIDHeader: tenant.ID.String()},
	})
	require.NoError(t, err)

	stored, err := store.GetTenant(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastAccessAt)
	assert.WithinDuration(t, time.Now(), *stored.LastAccessAt, time.Minute)
}

func TestResolveTenantGarbageIDSwallowed(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(store, testBaseDomain)

	tenant, err := resolver.ResolveTenant(context.Background(), &fakeRequest{
		headers: map[string]string{TenantIDHeader: "not-a-uuid"},
	})

	require.NoError(t, err)
	assert.Nil(t, tenant)
}

func TestResolveTenantContextMember(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	seedMember(t, store, tenant.ID, "u1", models.RoleTeacher)
	resolver := NewResolver(store, testBaseDomain)

	tc, err := resolver.ResolveTenantContext(context.Background(), &fakeRequest{
		headers: map[string]string{TenantIDHeader: tenant.ID.String()},
		userID:  "u1",
	})

	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.True(t, tc.IsMember)
	assert.Equal(t, models.RoleTeacher, tc.Role)
	assert.Contains(t, tc.Permissions, "courses:edit")
}

func TestResolveTenantContextNonMemberIsDegraded(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	resolver := NewResolver(store, testBaseDomain)

	tc, err := resolver.ResolveTenantContext(context.Background(), &fakeRequest{
		headers: map[string]string{TenantIDHeader: tenant.ID.String()},
		userID:  "stranger",
	})

	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.False(t, tc.IsMember)
	assert.Empty(t, tc.Role)
	assert.Empty(t, tc.Permissions)
	assert.Equal(t, "stranger", tc.UserID)
}

func TestResolveTenantContextAnonymous(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	resolver := NewResolver(store, testBaseDomain)

	tc, err := resolver.ResolveTenantContext(context.Background(), &fakeRequest{
		headers: map[string]string{TenantIDHeader: tenant.ID.String()},
	})

	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Empty(t, tc.UserID)
	assert.False(t, tc.IsMember)
}

func TestValidateTenantAccessRoleHierarchy(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	seedMember(t, store, tenant.ID, "teacher", models.RoleTeacher)
	resolver := NewResolver(store, testBaseDomain)
	ctx := context.Background()

	// A teacher satisfies every role at or below teacher and none above.
	for _, role := range models.RoleHierarchy {
		got := resolver.ValidateTenantAccess(ctx, tenant.ID, "teacher", role, nil)
		want := models.RoleRank(role) <= models.RoleRank(models.RoleTeacher)
		assert.Equal(t, want, got, "required role %s", role)
	}
}

func TestValidateTenantAccessFailsClosed(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	resolver := NewResolver(store, testBaseDomain)
	ctx := context.Background()

	// no membership at all
	assert.False(t, resolver.ValidateTenantAccess(ctx, tenant.ID, "nobody", models.RoleViewer, nil))

	// unknown tenant
	assert.False(t, resolver.ValidateTenantAccess(ctx, uuid.New(), "nobody", models.RoleViewer, nil))

	// deactivated membership
	member := seedMember(t, store, tenant.ID, "sleeper", models.RoleAdmin)
	member.IsActive = false
	require.NoError(t, store.UpdateTenantUser(ctx, member))
	assert.False(t, resolver.ValidateTenantAccess(ctx, tenant.ID, "sleeper", models.RoleViewer, nil))
}

func TestValidateTenantAccessPermissions(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	seedMember(t, store, tenant.ID, "u1", models.RoleManager)
	resolver := NewResolver(store, testBaseDomain)
	ctx := context.Background()

	assert.True(t, resolver.ValidateTenantAccess(ctx, tenant.ID, "u1", "", []string{"courses:manage"}))
	assert.True(t, resolver.ValidateTenantAccess(ctx, tenant.ID, "u1", "", []string{"courses:manage", "reports:view"}))
	assert.False(t, resolver.ValidateTenantAccess(ctx, tenant.ID, "u1", "", []string{"courses:manage", "billing:manage"}))
}

func TestCheckUsageLimitsBoundaries(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	ten := int64(10)
	tenant.Features = models.TenantFeatures{MaxUsers: &ten}
	require.NoError(t, store.UpdateTenant(context.Background(), tenant))
	resolver := NewResolver(store, testBaseDomain)
	ctx := context.Background()

	record := func(value float64) {
		require.NoError(t, store.UpsertUsageMetric(ctx, tenant.ID, models.MetricActiveUsers, time.Now(), value, false))
	}

	// below the warning threshold
	record(7)
	report := resolver.CheckUsageLimits(ctx, tenant.ID)
	assert.True(t, report.WithinLimits)
	assert.Empty(t, report.Warnings)
	assert.Empty(t, report.Violations)

	// 8 of 10 hits the 80% warning but stays within limits
	record(8)
	report = resolver.CheckUsageLimits(ctx, tenant.ID)
	assert.True(t, report.WithinLimits)
	assert.Len(t, report.Warnings, 1)
	assert.Empty(t, report.Violations)

	// 10 of 10 violates
	record(10)
	report = resolver.CheckUsageLimits(ctx, tenant.ID)
	assert.False(t, report.WithinLimits)
	assert.Len(t, report.Violations, 1)
	assert.Equal(t, float64(10), report.Current[models.MetricActiveUsers])
}

func TestCheckUsageLimitsNilLimitIsUnlimited(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	tenant.Features = models.TenantFeatures{} // enterprise-style, no caps
	require.NoError(t, store.UpdateTenant(context.Background(), tenant))
	resolver := NewResolver(store, testBaseDomain)
	ctx := context.Background()

	require.NoError(t, store.UpsertUsageMetric(ctx, tenant.ID, models.MetricActiveUsers, time.Now(), 1e6, false))

	report := resolver.CheckUsageLimits(ctx, tenant.ID)
	assert.True(t, report.WithinLimits)
	assert.Empty(t, report.Warnings)
	assert.Empty(t, report.Violations)
}

func TestCheckUsageLimitsZeroLimitForbidsUsage(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	zero := int64(0)
	tenant.Features = models.TenantFeatures{MaxCourses: &zero}
	require.NoError(t, store.UpdateTenant(context.Background(), tenant))
	resolver := NewResolver(store, testBaseDomain)
	ctx := context.Background()

	// zero usage against a zero cap is fine
	report := resolver.CheckUsageLimits(ctx, tenant.ID)
	assert.True(t, report.WithinLimits)

	// any usage is not
	require.NoError(t, store.UpsertUsageMetric(ctx, tenant.ID, models.MetricCourses, time.Now(), 1, false))
	report = resolver.CheckUsageLimits(ctx, tenant.ID)
	assert.False(t, report.WithinLimits)
}

func TestCheckUsageLimitsFailsOpen(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(store, testBaseDomain)

	report := resolver.CheckUsageLimits(context.Background(), uuid.New())
	assert.True(t, report.WithinLimits)
}

func TestIsTenantRequest(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	require.NoError(t, store.CreateDomain(context.Background(), &models.TenantDomain{
		TenantID: tenant.ID,
		Domain:   "learn.acme.com",
	}))
	resolver := NewResolver(store, testBaseDomain)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *fakeRequest
		want bool
	}{
		{"explicit header", &fakeRequest{headers: map[string]string{TenantIDHeader: "x"}}, true},
		{"real subdomain", &fakeRequest{host: "acme.edutech.local"}, true},
		{"custom domain", &fakeRequest{host: "learn.acme.com"}, true},
		{"deep path", &fakeRequest{host: "edutech.local", path: "/acme/courses"}, true},
		{"bare root", &fakeRequest{host: "edutech.local", path: "/"}, false},
		{"single segment", &fakeRequest{host: "edutech.local", path: "/health"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.IsTenantRequest(ctx, tt.req))
		})
	}
}

func TestTenantURL(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	resolver := NewResolver(store, testBaseDomain)
	ctx := context.Background()

	// platform subdomain by default
	assert.Equal(t, "https://acme.edutech.local/courses", resolver.TenantURL(ctx, tenant, "courses"))

	// unverified custom domains don't count
	domain := &models.TenantDomain{TenantID: tenant.ID, Domain: "learn.acme.com", Type: models.DomainTypePrimary}
	require.NoError(t, store.CreateDomain(ctx, domain))
	assert.Equal(t, "https://acme.edutech.local/courses", resolver.TenantURL(ctx, tenant, "/courses"))

	// a verified primary domain wins
	domain.IsVerified = true
	require.NoError(t, store.UpdateDomain(ctx, domain))
	assert.Equal(t, "https://learn.acme.com/courses", resolver.TenantURL(ctx, tenant, "/courses"))
}
