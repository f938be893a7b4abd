package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutech/lms-tenancy/shared/models"
	"github.com/edutech/lms-tenancy/shared/tenancy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	store  *tenancy.MemoryStore
	tenant *models.Tenant
	tm     *TenantMiddleware
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := tenancy.NewMemoryStore()
	tenant := &models.Tenant{
		ID:        uuid.New(),
		Name:      "Acme",
		Subdomain: "acme",
		OwnerID:   "u1",
		Plan:      models.PlanStarter,
		Status:    models.TenantStatusActive,
		Features:  models.DefaultFeaturesForPlan(models.PlanStarter),
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))
	require.NoError(t, store.CreateTenantUser(context.Background(), &models.TenantUser{
		TenantID:    tenant.ID,
		UserID:      "u1",
		Role:        models.RoleAdmin,
		Permissions: models.DefaultPermissionsForRole(models.RoleAdmin),
		IsActive:    true,
		JoinedAt:    time.Now(),
	}))

	resolver := tenancy.NewResolver(store, "edutech.local")
	return &testEnv{
		store:  store,
		tenant: tenant,
		tm:     NewTenantMiddleware(resolver),
	}
}

// asUser stamps the authenticated user id the way AuthMiddleware would
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}

func performRequest(router *gin.Engine, host string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "http://"+host+"/whoami", nil)
	req.Host = host
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestResolveTenantAttachesContext(t *testing.T) {
	env := newTestEnv(t)

	router := gin.New()
	router.Use(asUser("u1"), env.tm.ResolveTenant())
	router.GET("/whoami", func(c *gin.Context) {
		tc, ok := GetTenantContext(c)
		require.True(t, ok)
		assert.Equal(t, env.tenant.ID, tc.Tenant.ID)
		assert.True(t, tc.IsMember)
		assert.Equal(t, models.RoleAdmin, tc.Role)

		id, ok := GetTenantIDFromContext(c)
		require.True(t, ok)
		assert.Equal(t, env.tenant.ID, id)
		c.Status(http.StatusOK)
	})

	w := performRequest(router, "acme.edutech.local")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResolveTenantPassesThroughNonTenantRequests(t *testing.T) {
	env := newTestEnv(t)

	router := gin.New()
	router.Use(env.tm.ResolveTenant())
	router.GET("/whoami", func(c *gin.Context) {
		_, ok := GetTenantContext(c)
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	w := performRequest(router, "edutech.local")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireTenantRejectsUnresolved(t *testing.T) {
	env := newTestEnv(t)

	router := gin.New()
	router.Use(env.tm.ResolveTenant(), env.tm.RequireTenant())
	router.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })

	// unknown subdomain resolves to nothing
	w := performRequest(router, "ghost.edutech.local")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(router, "acme.edutech.local")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireTenantRoleEnforcesHierarchy(t *testing.T) {
	env := newTestEnv(t)

	build := func(userID string, role models.TenantRole) *gin.Engine {
		router := gin.New()
		router.Use(asUser(userID), env.tm.ResolveTenant(), env.tm.RequireTenantRole(role))
		router.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })
		return router
	}

	// admin clears a manager bar
	w := performRequest(build("u1", models.RoleManager), "acme.edutech.local")
	assert.Equal(t, http.StatusOK, w.Code)

	// but not an owner bar
	w = performRequest(build("u1", models.RoleOwner), "acme.edutech.local")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// non-members are rejected
	w = performRequest(build("stranger", models.RoleViewer), "acme.edutech.local")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// anonymous requests are rejected before the membership check
	w = performRequest(build("", models.RoleViewer), "acme.edutech.local")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireTenantPermissions(t *testing.T) {
	env := newTestEnv(t)

	build := func(permissions ...string) *gin.Engine {
		router := gin.New()
		router.Use(asUser("u1"), env.tm.ResolveTenant(), env.tm.RequireTenantPermissions(permissions...))
		router.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })
		return router
	}

	w := performRequest(build("users:manage"), "acme.edutech.local")
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(build("users:manage", "billing:manage"), "acme.edutech.local")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
