package tenancy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutech/lms-tenancy/shared/models"
)

// fakeRequest implements Request for tests
type fakeRequest struct {
	headers map[string]string
	host    string
	path    string
	userID  string
}

func (r *fakeRequest) Header(name string) string { return r.headers[name] }
func (r *fakeRequest) Host() string              { return r.host }
func (r *fakeRequest) Path() string              { return r.path }
func (r *fakeRequest) UserID() string            { return r.userID }

func seedTenant(t *testing.T, store *MemoryStore, subdomain string, status models.TenantStatus) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{
		ID:        uuid.New(),
		Name:      subdomain,
		Subdomain: subdomain,
		OwnerID:   "owner-" + subdomain,
		Plan:      models.PlanStarter,
		Status:    status,
		Features:  models.DefaultFeaturesForPlan(models.PlanStarter),
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))
	return tenant
}

func TestHeaderStrategyReturnsHeaderVerbatim(t *testing.T) {
	id, err := HeaderStrategy{}.Resolve(context.Background(), &fakeRequest{
		headers: map[string]string{TenantIDHeader: "  some-tenant-id "},
	})

	require.NoError(t, err)
	assert.Equal(t, "some-tenant-id", id)
}

func TestHeaderStrategyNoHeader(t *testing.T) {
	id, err := HeaderStrategy{}.Resolve(context.Background(), &fakeRequest{headers: map[string]string{}})

	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSubdomainStrategy(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	strategy := NewSubdomainStrategy(store)

	tests := []struct {
		name string
		host string
		want string
	}{
		{"matching subdomain", "acme.edutech.local", tenant.ID.String()},
		{"subdomain with port", "acme.edutech.local:8080", tenant.ID.String()},
		{"uppercase host", "ACME.edutech.local", tenant.ID.String()},
		{"bare apex domain", "edutech.local", ""},
		{"reserved www", "www.edutech.local", ""},
		{"reserved api", "api.edutech.local", ""},
		{"reserved admin", "admin.edutech.local", ""},
		{"reserved app", "app.edutech.local", ""},
		{"unknown subdomain", "nobody.edutech.local", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := strategy.Resolve(context.Background(), &fakeRequest{host: tt.host})
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestDomainStrategy(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	require.NoError(t, store.CreateDomain(context.Background(), &models.TenantDomain{
		TenantID: tenant.ID,
		Domain:   "learn.acme.com",
		Type:     models.DomainTypePrimary,
	}))
	strategy := NewDomainStrategy(store)

	id, err := strategy.Resolve(context.Background(), &fakeRequest{host: "learn.acme.com"})
	require.NoError(t, err)
	assert.Equal(t, tenant.ID.String(), id)

	id, err = strategy.Resolve(context.Background(), &fakeRequest{host: "other.example.com"})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestPathStrategySubdomainThenID(t *testing.T) {
	store := NewMemoryStore()
	tenant := seedTenant(t, store, "acme", models.TenantStatusActive)
	strategy := NewPathStrategy(store)

	// first segment as subdomain
	id, err := strategy.Resolve(context.Background(), &fakeRequest{path: "/acme/courses"})
	require.NoError(t, err)
	assert.Equal(t, tenant.ID.String(), id)

	// first segment as tenant id
	id, err = strategy.Resolve(context.Background(), &fakeRequest{path: "/" + tenant.ID.String() + "/courses"})
	require.NoError(t, err)
	assert.Equal(t, tenant.ID.String(), id)

	// neither matches, never an error
	id, err = strategy.Resolve(context.Background(), &fakeRequest{path: "/unknown/courses"})
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = strategy.Resolve(context.Background(), &fakeRequest{path: "/"})
	require.NoError(t, err)
	assert.Empty(t, id)
}
