package tenancy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutech/lms-tenancy/shared/models"
)

// captureSink records post-commit audit events for assertions
type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Publish(event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var actions []string
	for _, e := range s.events {
		actions = append(actions, e.Action)
	}
	return actions
}

func newTestService(t *testing.T) (*TenantService, *MemoryStore, *StaticDNSResolver) {
	t.Helper()
	store := NewMemoryStore()
	store.AddUser(models.User{ID: "u1", Email: "owner@example.com", Name: "Owner"})
	store.AddUser(models.User{ID: "u2", Email: "invitee@example.com", Name: "Invitee"})

	dns := &StaticDNSResolver{CNAMEs: map[string]string{}, TXTs: map[string][]string{}}
	svc := NewTenantService(store, NewDomainVerifier(dns), testBaseDomain)
	return svc, store, dns
}

func createTenant(t *testing.T, svc *TenantService, input CreateTenantInput) *models.Tenant {
	t.Helper()
	tenant, err := svc.CreateTenant(context.Background(), input)
	require.NoError(t, err)
	return tenant
}

func TestCreateTenantFreePlanStartsTrial(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name:      "Acme",
		Subdomain: "acme",
		OwnerID:   "u1",
		Plan:      models.PlanFree,
	})

	assert.Equal(t, models.TenantStatusTrial, tenant.Status)
	require.NotNil(t, tenant.TrialEndsAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *tenant.TrialEndsAt, time.Minute)
	require.NotNil(t, tenant.Features.MaxUsers)
	assert.Equal(t, int64(10), *tenant.Features.MaxUsers)
	assert.False(t, tenant.Features.CustomDomains)
	assert.Equal(t, models.IsolationShared, tenant.IsolationLevel)

	// owner membership
	owner, err := store.GetTenantUser(ctx, tenant.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, owner.Role)
	assert.True(t, owner.IsActive)
	assert.Contains(t, owner.Permissions, "tenant:manage")

	// one audit entry
	entries, total, err := store.ListAuditLogs(ctx, tenant.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, models.AuditTenantCreated, entries[0].Action)
}

func TestCreateTenantPaidPlanStartsActive(t *testing.T) {
	svc, _, _ := newTestService(t)

	tenant := createTenant(t, svc, CreateTenantInput{
		Name:      "Acme",
		Subdomain: "acme",
		OwnerID:   "u1",
		Plan:      models.PlanStarter,
	})

	assert.Equal(t, models.TenantStatusActive, tenant.Status)
	assert.Nil(t, tenant.TrialEndsAt)
	assert.True(t, tenant.Features.CustomDomains)
}

func TestCreateTenantValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTenant(ctx, CreateTenantInput{Subdomain: "acme", OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateTenant(ctx, CreateTenantInput{Name: "Acme", OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateTenant(ctx, CreateTenantInput{Name: "Acme", Subdomain: "acme", OwnerID: "ghost"})
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestCreateTenantDuplicateSubdomain(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	createTenant(t, svc, CreateTenantInput{Name: "Acme", Subdomain: "acme", OwnerID: "u1"})

	_, err := svc.CreateTenant(ctx, CreateTenantInput{Name: "Other", Subdomain: "ACME", OwnerID: "u2"})
	assert.ErrorIs(t, err, ErrSubdomainTaken)

	// the failed creation left nothing behind
	tenants, total, err := store.ListTenants(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "u1", tenants[0].OwnerID)
}

func TestCreateTenantConcurrentDuplicates(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	// Racing creations of the same subdomain: the store's uniqueness
	// guarantee, not the pre-check, must let exactly one through.
	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateTenant(ctx, CreateTenantInput{
				Name: "Acme", Subdomain: "acme", OwnerID: "u1",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, conflicted int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSubdomainTaken):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicted)

	_, total, err := store.ListTenants(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestCreateTenantRollbackOnMissingOwner(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTenant(ctx, CreateTenantInput{Name: "Acme", Subdomain: "acme", OwnerID: "ghost"})
	require.ErrorIs(t, err, ErrOwnerNotFound)

	_, err = store.GetTenantBySubdomain(ctx, "acme")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTenantSchemaIsolation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tenant := createTenant(t, svc, CreateTenantInput{
		Name:           "Acme",
		Subdomain:      "acme",
		OwnerID:        "u1",
		Plan:           models.PlanEnterprise,
		IsolationLevel: models.IsolationSchema,
	})

	assert.True(t, strings.HasPrefix(tenant.SchemaName, "tenant_"))
	assert.Empty(t, tenant.DatabaseName)
}

func TestCreateTenantWithDomain(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name:      "Acme",
		Subdomain: "acme",
		Domain:    "Learn.Acme.Com",
		OwnerID:   "u1",
		Plan:      models.PlanStarter,
	})
	assert.Equal(t, "learn.acme.com", tenant.Domain)

	domains, err := store.ListDomains(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, domains, 1)
	domain := domains[0]
	assert.False(t, domain.IsVerified)
	assert.False(t, domain.SSLEnabled)
	require.Len(t, domain.DNSRecords, 2)
	assert.Equal(t, "CNAME", domain.DNSRecords[0].Type)
	assert.Equal(t, "acme."+testBaseDomain, domain.DNSRecords[0].Value)
	assert.Equal(t, "TXT", domain.DNSRecords[1].Type)
	assert.NotEmpty(t, domain.DNSRecords[1].Value)
}

func TestUpdateTenantPlanUpgradeEndsTrial(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{Name: "Acme", Subdomain: "acme", OwnerID: "u1"})
	require.Equal(t, models.TenantStatusTrial, tenant.Status)

	plan := models.PlanProfessional
	updated, err := svc.UpdateTenant(ctx, tenant.ID, "u1", UpdateTenantInput{Plan: &plan})
	require.NoError(t, err)

	assert.Equal(t, models.TenantStatusActive, updated.Status)
	assert.Nil(t, updated.TrialEndsAt)
	require.NotNil(t, updated.Features.MaxUsers)
	assert.Equal(t, int64(1000), *updated.Features.MaxUsers)
	assert.True(t, updated.Features.APIAccess)
}

func TestSuspendAndReactivateTenant(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})

	suspended, err := svc.SuspendTenant(ctx, tenant.ID, "u1", "payment overdue")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSuspended, suspended.Status)
	assert.Equal(t, "payment overdue", suspended.SuspensionReason)
	require.NotNil(t, suspended.SuspendedAt)

	// suspending twice is an invalid transition
	_, err = svc.SuspendTenant(ctx, tenant.ID, "u1", "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	restored, err := svc.ReactivateTenant(ctx, tenant.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, restored.Status)
	assert.Nil(t, restored.SuspendedAt)
	assert.Empty(t, restored.SuspensionReason)

	// reactivating an active tenant is an invalid transition
	_, err = svc.ReactivateTenant(ctx, tenant.ID, "u1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// the suspension audit entry is a warning
	entries, _, err := store.ListAuditLogs(ctx, tenant.ID, 1, 10)
	require.NoError(t, err)
	var found bool
	for _, entry := range entries {
		if entry.Action == models.AuditTenantSuspended {
			found = true
			assert.Equal(t, models.AuditLevelWarning, entry.Level)
		}
	}
	assert.True(t, found)
}

func TestSuspendTrialTenantRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	tenant := createTenant(t, svc, CreateTenantInput{Name: "Acme", Subdomain: "acme", OwnerID: "u1"})

	_, err := svc.SuspendTenant(context.Background(), tenant.ID, "u1", "whatever")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestInviteAndAcceptFlow(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})

	invitation, err := svc.InviteUser(ctx, tenant.ID, "u1", InviteUserInput{
		Email: "Invitee@Example.com",
		Role:  models.RoleTeacher,
	})
	require.NoError(t, err)
	assert.Equal(t, "invitee@example.com", invitation.Email)
	assert.Equal(t, models.InvitationStatusPending, invitation.Status)
	assert.NotEmpty(t, invitation.Token)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), invitation.ExpiresAt, time.Minute)
	assert.Equal(t, models.DefaultPermissionsForRole(models.RoleTeacher), invitation.Permissions)

	member, err := svc.AcceptInvitation(ctx, invitation.Token, "u2")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, member.TenantID)
	assert.Equal(t, models.RoleTeacher, member.Role)
	assert.True(t, member.IsActive)

	// the invitation is single-use
	_, err = svc.AcceptInvitation(ctx, invitation.Token, "u2")
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := store.GetInvitationByToken(ctx, invitation.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationStatusAccepted, stored.Status)
	assert.Equal(t, "u2", stored.AcceptedBy)
	require.NotNil(t, stored.AcceptedAt)
}

func TestInviteUserGuards(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})

	// a tenant has exactly one owner
	_, err := svc.InviteUser(ctx, tenant.ID, "u1", InviteUserInput{Email: "x@example.com", Role: models.RoleOwner})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.InviteUser(ctx, tenant.ID, "u1", InviteUserInput{Email: "x@example.com", Role: "superuser"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	// the owner is already a member
	_, err = svc.InviteUser(ctx, tenant.ID, "u1", InviteUserInput{Email: "owner@example.com", Role: models.RoleAdmin})
	assert.ErrorIs(t, err, ErrAlreadyMember)

	// at most one pending invitation per email
	_, err = svc.InviteUser(ctx, tenant.ID, "u1", InviteUserInput{Email: "invitee@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	_, err = svc.InviteUser(ctx, tenant.ID, "u1", InviteUserInput{Email: "invitee@example.com", Role: models.RoleTeacher})
	assert.ErrorIs(t, err, ErrInvitePending)
}

func TestAcceptExpiredInvitation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})

	expired := &models.TenantInvitation{
		TenantID:  tenant.ID,
		Email:     "invitee@example.com",
		Role:      models.RoleStudent,
		Token:     "expired-token",
		InvitedBy: "u1",
		Status:    models.InvitationStatusPending,
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.CreateInvitation(ctx, expired))

	_, err := svc.AcceptInvitation(ctx, "expired-token", "u2")
	assert.ErrorIs(t, err, ErrInvitationExpired)

	_, err = svc.AcceptInvitation(ctx, "no-such-token", "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateUserRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})
	invitation, err := svc.InviteUser(ctx, tenant.ID, "u1", InviteUserInput{Email: "invitee@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	_, err = svc.AcceptInvitation(ctx, invitation.Token, "u2")
	require.NoError(t, err)

	member, err := svc.UpdateUserRole(ctx, tenant.ID, "u1", "u2", models.RoleManager, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, member.Role)
	assert.Equal(t, models.DefaultPermissionsForRole(models.RoleManager), member.Permissions)

	// the owner's role is immutable
	_, err = svc.UpdateUserRole(ctx, tenant.ID, "u1", "u1", models.RoleAdmin, nil)
	assert.ErrorIs(t, err, ErrOwnerNotRemovable)

	// and nobody can be promoted to owner
	_, err = svc.UpdateUserRole(ctx, tenant.ID, "u1", "u2", models.RoleOwner, nil)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestRemoveUserFromTenant(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})
	invitation, err := svc.InviteUser(ctx, tenant.ID, "u1", InviteUserInput{Email: "invitee@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
	_, err = svc.AcceptInvitation(ctx, invitation.Token, "u2")
	require.NoError(t, err)

	err = svc.RemoveUserFromTenant(ctx, tenant.ID, "u1", "u1")
	assert.ErrorIs(t, err, ErrOwnerNotRemovable)

	require.NoError(t, svc.RemoveUserFromTenant(ctx, tenant.ID, "u1", "u2"))
	_, err = store.GetTenantUser(ctx, tenant.ID, "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddCustomDomainRequiresFeature(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	free := createTenant(t, svc, CreateTenantInput{Name: "Free", Subdomain: "free", OwnerID: "u1"})
	_, err := svc.AddCustomDomain(ctx, free.ID, "u1", "learn.free.com", models.DomainTypePrimary)
	assert.ErrorIs(t, err, ErrFeatureNotEnabled)
}

func TestAddCustomDomainGloballyUnique(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first := createTenant(t, svc, CreateTenantInput{
		Name: "First", Subdomain: "first", OwnerID: "u1", Plan: models.PlanStarter,
	})
	second := createTenant(t, svc, CreateTenantInput{
		Name: "Second", Subdomain: "second", OwnerID: "u2", Plan: models.PlanStarter,
	})

	domain, err := svc.AddCustomDomain(ctx, first.ID, "u1", "Learn.Example.Com", "")
	require.NoError(t, err)
	assert.Equal(t, "learn.example.com", domain.Domain)
	assert.Equal(t, models.DomainTypePrimary, domain.Type)
	assert.False(t, domain.IsVerified)

	_, err = svc.AddCustomDomain(ctx, second.ID, "u2", "learn.example.com", models.DomainTypeAlias)
	assert.ErrorIs(t, err, ErrDomainTaken)
}

func TestVerifyDomainLifecycle(t *testing.T) {
	svc, _, dns := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})
	domain, err := svc.AddCustomDomain(ctx, tenant.ID, "u1", "learn.acme.com", models.DomainTypePrimary)
	require.NoError(t, err)

	// DNS not set up yet: verification fails quietly
	unverified, err := svc.VerifyDomain(ctx, domain.ID, "u1")
	require.NoError(t, err)
	assert.False(t, unverified.IsVerified)
	assert.False(t, unverified.SSLEnabled)

	// point DNS at the expected records
	for _, record := range domain.DNSRecords {
		switch record.Type {
		case "CNAME":
			dns.CNAMEs[record.Name] = record.Value + "."
		case "TXT":
			dns.TXTs[record.Name] = []string{"unrelated", record.Value}
		}
	}

	verified, err := svc.VerifyDomain(ctx, domain.ID, "u1")
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.True(t, verified.SSLEnabled)
	require.NotNil(t, verified.VerifiedAt)
	require.NotNil(t, verified.SSLExpiresAt)
	assert.WithinDuration(t, time.Now().Add(90*24*time.Hour), *verified.SSLExpiresAt, time.Minute)

	// re-verification is idempotent and does not move VerifiedAt
	again, err := svc.VerifyDomain(ctx, domain.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, verified.VerifiedAt, again.VerifiedAt)

	_, err = svc.VerifyDomain(ctx, uuid.New(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantConfiguration(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})

	require.NoError(t, svc.SetTenantConfiguration(ctx, tenant.ID, "u1", "email", "from_address", "noreply@acme.com"))
	require.NoError(t, svc.SetTenantConfiguration(ctx, tenant.ID, "u1", "email", "footer", "Acme Inc."))
	require.NoError(t, svc.SetTenantConfiguration(ctx, tenant.ID, "u1", "grading", "scale", "percentage"))

	// an upsert on the same key overwrites
	require.NoError(t, svc.SetTenantConfiguration(ctx, tenant.ID, "u1", "grading", "scale", "letter"))

	config, err := svc.GetTenantConfiguration(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]string{
		"email":   {"from_address": "noreply@acme.com", "footer": "Acme Inc."},
		"grading": {"scale": "letter"},
	}, config)

	err = svc.SetTenantConfiguration(ctx, uuid.New(), "u1", "email", "x", "y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordUsageMetricSnapshotVsAccumulate(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})

	// snapshots replace
	require.NoError(t, svc.RecordUsageMetric(ctx, tenant.ID, models.MetricActiveUsers, 5, false))
	require.NoError(t, svc.RecordUsageMetric(ctx, tenant.ID, models.MetricActiveUsers, 7, false))

	// accumulations add up
	require.NoError(t, svc.RecordUsageMetric(ctx, tenant.ID, models.MetricAPIRequests, 100, true))
	require.NoError(t, svc.RecordUsageMetric(ctx, tenant.ID, models.MetricAPIRequests, 50, true))

	usage, err := store.GetUsageForDay(ctx, tenant.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, float64(7), usage[models.MetricActiveUsers])
	assert.Equal(t, float64(150), usage[models.MetricAPIRequests])
}

func TestAuditEventsEmittedPostCommit(t *testing.T) {
	svc, _, _ := newTestService(t)
	sink := &captureSink{}
	svc = svc.WithAuditSink(sink)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})
	_, err := svc.SuspendTenant(ctx, tenant.ID, "u1", "test")
	require.NoError(t, err)

	assert.Equal(t, []string{models.AuditTenantCreated, models.AuditTenantSuspended}, sink.actions())

	// failed mutations emit nothing
	before := len(sink.actions())
	_, err = svc.SuspendTenant(ctx, tenant.ID, "u1", "again")
	require.Error(t, err)
	assert.Len(t, sink.actions(), before)
}

func TestListAuditLogsPaging(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tenant := createTenant(t, svc, CreateTenantInput{
		Name: "Acme", Subdomain: "acme", OwnerID: "u1", Plan: models.PlanStarter,
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.SetTenantConfiguration(ctx, tenant.ID, "u1", "misc", "key", "value"))
	}

	page1, total, err := svc.ListAuditLogs(ctx, tenant.ID, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total) // tenant.created + 5 config updates
	assert.Len(t, page1, 4)

	page2, _, err := svc.ListAuditLogs(ctx, tenant.ID, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
}
