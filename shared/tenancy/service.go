package tenancy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edutech/lms-tenancy/shared/models"
)

const (
	trialDuration           = 30 * 24 * time.Hour
	defaultInviteExpiryDays = 7
	sslCertificateLifetime  = 90 * 24 * time.Hour
	verificationTokenBytes  = 32
	verificationTXTPrefix   = "_edutech-verify."
)

// InvitationMailer delivers invitation emails. Delivery is best-effort;
// a send failure never fails the invitation itself.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, email, tenantName, role, token string) error
}

// TenantService owns the tenant lifecycle: creation with isolation
// provisioning, suspension, invitations and membership, custom domains,
// configuration, usage metrics, and audit logging. Every multi-step
// mutation runs inside a single store transaction; the audit row commits
// or rolls back with the mutation it describes.
type TenantService struct {
	store      Store
	verifier   *DomainVerifier
	events     AuditSink
	mailer     InvitationMailer
	baseDomain string
	log        *logrus.Entry
}

// NewTenantService wires a tenant service. events and mailer may be nil.
func NewTenantService(store Store, verifier *DomainVerifier, baseDomain string) *TenantService {
	return &TenantService{
		store:      store,
		verifier:   verifier,
		events:     NopAuditSink{},
		baseDomain: strings.ToLower(baseDomain),
		log:        logrus.WithField("component", "tenant_service"),
	}
}

// WithAuditSink sets the post-commit audit event sink
func (s *TenantService) WithAuditSink(sink AuditSink) *TenantService {
	if sink != nil {
		s.events = sink
	}
	return s
}

// WithMailer sets the invitation mailer
func (s *TenantService) WithMailer(mailer InvitationMailer) *TenantService {
	s.mailer = mailer
	return s
}

// CreateTenantInput is the payload for tenant creation
type CreateTenantInput struct {
	Name           string                `json:"name"`
	Subdomain      string                `json:"subdomain"`
	Domain         string                `json:"domain,omitempty"`
	OwnerID        string                `json:"owner_id"`
	Plan           models.TenantPlan     `json:"plan"`
	IsolationLevel models.IsolationLevel `json:"isolation_level,omitempty"`
}

// CreateTenant provisions a tenant and its owner membership in one
// transaction. Free-plan tenants start in trial with a 30-day window;
// paid plans start active. The subdomain pre-check only produces the
// friendly error; the unique index is what actually prevents duplicates
// under concurrency.
func (s *TenantService) CreateTenant(ctx context.Context, input CreateTenantInput) (*models.Tenant, error) {
	subdomain := strings.ToLower(strings.TrimSpace(input.Subdomain))
	if subdomain == "" || input.Name == "" || input.OwnerID == "" {
		return nil, fmt.Errorf("%w: name, subdomain and owner_id are required", ErrInvalidInput)
	}
	plan := input.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	isolation := input.IsolationLevel
	if isolation == "" {
		isolation = models.IsolationShared
	}

	var tenant *models.Tenant
	err := s.store.Transaction(ctx, func(tx Store) error {
		if _, err := tx.GetTenantBySubdomain(ctx, subdomain); err == nil {
			return ErrSubdomainTaken
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if _, err := tx.GetUser(ctx, input.OwnerID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrOwnerNotFound
			}
			return err
		}

		now := time.Now()
		tenant = &models.Tenant{
			ID:             uuid.New(),
			Name:           input.Name,
			Subdomain:      subdomain,
			Domain:         strings.ToLower(input.Domain),
			OwnerID:        input.OwnerID,
			Plan:           plan,
			IsolationLevel: isolation,
			Status:         models.TenantStatusActive,
			Features:       models.DefaultFeaturesForPlan(plan),
			Branding:       models.DefaultBranding(),
			Settings:       models.DefaultSettings(),
		}
		if plan == models.PlanFree {
			trialEnd := now.Add(trialDuration)
			tenant.Status = models.TenantStatusTrial
			tenant.TrialEndsAt = &trialEnd
		}

		if err := tx.CreateTenant(ctx, tenant); err != nil {
			if errors.Is(err, ErrDuplicateViolation) {
				return ErrSubdomainTaken
			}
			return err
		}

		if isolation != models.IsolationShared {
			name, err := tx.ProvisionIsolation(ctx, tenant.ID, isolation)
			if err != nil {
				return fmt.Errorf("isolation provisioning failed: %w", err)
			}
			if isolation == models.IsolationSchema {
				tenant.SchemaName = name
			} else {
				tenant.DatabaseName = name
			}
			if err := tx.UpdateTenant(ctx, tenant); err != nil {
				return err
			}
		}

		owner := &models.TenantUser{
			ID:          uuid.New(),
			TenantID:    tenant.ID,
			UserID:      input.OwnerID,
			Role:        models.RoleOwner,
			Permissions: models.DefaultPermissionsForRole(models.RoleOwner),
			IsActive:    true,
			JoinedAt:    now,
		}
		if err := tx.CreateTenantUser(ctx, owner); err != nil {
			return err
		}

		if tenant.Domain != "" {
			domain, err := s.buildDomainRecord(tenant, tenant.Domain, models.DomainTypePrimary)
			if err != nil {
				return err
			}
			if err := tx.CreateDomain(ctx, domain); err != nil {
				if errors.Is(err, ErrDuplicateViolation) {
					return ErrDomainTaken
				}
				return err
			}
		}

		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenant.ID,
			UserID:     input.OwnerID,
			Action:     models.AuditTenantCreated,
			Resource:   "tenant",
			ResourceID: tenant.ID.String(),
			Changes:    models.AuditChanges{After: tenant},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(tenant.ID, input.OwnerID, models.AuditTenantCreated, "tenant", tenant.ID.String(), models.AuditLevelInfo)
	s.log.WithFields(logrus.Fields{
		"tenant_id": tenant.ID,
		"subdomain": tenant.Subdomain,
		"plan":      tenant.Plan,
	}).Info("Tenant created")
	return tenant, nil
}

// GetTenant loads a tenant by id
func (s *TenantService) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return s.store.GetTenant(ctx, id)
}

// GetTenantBySubdomain loads a tenant by its subdomain
func (s *TenantService) GetTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	return s.store.GetTenantBySubdomain(ctx, strings.ToLower(subdomain))
}

// ListTenants pages over tenants, optionally filtered by status
func (s *TenantService) ListTenants(ctx context.Context, status models.TenantStatus, page, size int) ([]models.Tenant, int64, error) {
	return s.store.ListTenants(ctx, status, page, size)
}

// UpdateTenantInput carries the mutable tenant attributes
type UpdateTenantInput struct {
	Name     *string                `json:"name,omitempty"`
	Plan     *models.TenantPlan     `json:"plan,omitempty"`
	Branding *models.TenantBranding `json:"branding,omitempty"`
	Settings *models.TenantSettings `json:"settings,omitempty"`
}

// UpdateTenant applies name/plan/branding/settings changes. A plan
// upgrade off the free plan ends the trial and re-derives feature limits.
func (s *TenantService) UpdateTenant(ctx context.Context, tenantID uuid.UUID, actorID string, input UpdateTenantInput) (*models.Tenant, error) {
	var tenant *models.Tenant
	err := s.store.Transaction(ctx, func(tx Store) error {
		var err error
		tenant, err = tx.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		before := *tenant

		if input.Name != nil {
			tenant.Name = *input.Name
		}
		if input.Plan != nil {
			tenant.Plan = *input.Plan
			tenant.Features = models.DefaultFeaturesForPlan(*input.Plan)
			if tenant.Status == models.TenantStatusTrial && *input.Plan != models.PlanFree {
				tenant.Status = models.TenantStatusActive
				tenant.TrialEndsAt = nil
			}
		}
		if input.Branding != nil {
			tenant.Branding = *input.Branding
		}
		if input.Settings != nil {
			tenant.Settings = *input.Settings
		}

		if err := tx.UpdateTenant(ctx, tenant); err != nil {
			return err
		}
		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenant.ID,
			UserID:     actorID,
			Action:     models.AuditTenantUpdated,
			Resource:   "tenant",
			ResourceID: tenant.ID.String(),
			Changes:    models.AuditChanges{Before: before, After: tenant},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	InvalidateTenantCache(tenantID)
	s.emit(tenantID, actorID, models.AuditTenantUpdated, "tenant", tenantID.String(), models.AuditLevelInfo)
	return tenant, nil
}

// SuspendTenant flips an active tenant to suspended with a reason
func (s *TenantService) SuspendTenant(ctx context.Context, tenantID uuid.UUID, actorID, reason string) (*models.Tenant, error) {
	var tenant *models.Tenant
	err := s.store.Transaction(ctx, func(tx Store) error {
		var err error
		tenant, err = tx.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if tenant.Status != models.TenantStatusActive {
			return fmt.Errorf("%w: cannot suspend a %s tenant", ErrInvalidTransition, tenant.Status)
		}
		before := tenant.Status

		tenant.Suspend(reason)
		if err := tx.UpdateTenant(ctx, tenant); err != nil {
			return err
		}
		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenant.ID,
			UserID:     actorID,
			Action:     models.AuditTenantSuspended,
			Resource:   "tenant",
			ResourceID: tenant.ID.String(),
			Changes:    models.AuditChanges{Before: before, After: tenant.Status},
			Level:      models.AuditLevelWarning,
		})
	})
	if err != nil {
		return nil, err
	}

	InvalidateTenantCache(tenantID)
	s.emit(tenantID, actorID, models.AuditTenantSuspended, "tenant", tenantID.String(), models.AuditLevelWarning)
	s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "reason": reason}).Warn("Tenant suspended")
	return tenant, nil
}

// ReactivateTenant restores a suspended tenant, clearing the suspension
// timestamp and reason together.
func (s *TenantService) ReactivateTenant(ctx context.Context, tenantID uuid.UUID, actorID string) (*models.Tenant, error) {
	var tenant *models.Tenant
	err := s.store.Transaction(ctx, func(tx Store) error {
		var err error
		tenant, err = tx.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if tenant.Status != models.TenantStatusSuspended {
			return fmt.Errorf("%w: cannot reactivate a %s tenant", ErrInvalidTransition, tenant.Status)
		}
		before := tenant.Status

		tenant.Reactivate()
		if err := tx.UpdateTenant(ctx, tenant); err != nil {
			return err
		}
		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenant.ID,
			UserID:     actorID,
			Action:     models.AuditTenantReactivated,
			Resource:   "tenant",
			ResourceID: tenant.ID.String(),
			Changes:    models.AuditChanges{Before: before, After: tenant.Status},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	InvalidateTenantCache(tenantID)
	s.emit(tenantID, actorID, models.AuditTenantReactivated, "tenant", tenantID.String(), models.AuditLevelInfo)
	return tenant, nil
}

// InviteUserInput is the payload for inviting a user to a tenant
type InviteUserInput struct {
	Email         string            `json:"email"`
	Role          models.TenantRole `json:"role"`
	Permissions   []string          `json:"permissions,omitempty"`
	ExpiresInDays int               `json:"expires_in_days,omitempty"`
}

// InviteUser creates a pending invitation. At most one pending invitation
// may exist per (tenant, email), and existing members cannot be invited
// again. Inviting as owner is rejected: a tenant has exactly one owner.
func (s *TenantService) InviteUser(ctx context.Context, tenantID uuid.UUID, inviterID string, input InviteUserInput) (*models.TenantInvitation, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if models.RoleRank(input.Role) < 0 || input.Role == models.RoleOwner {
		return nil, ErrInvalidRole
	}

	expiresIn := input.ExpiresInDays
	if expiresIn <= 0 {
		expiresIn = defaultInviteExpiryDays
	}
	permissions := input.Permissions
	if len(permissions) == 0 {
		permissions = models.DefaultPermissionsForRole(input.Role)
	}

	var tenant *models.Tenant
	var invitation *models.TenantInvitation
	err := s.store.Transaction(ctx, func(tx Store) error {
		var err error
		tenant, err = tx.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}

		if _, err := tx.GetTenantUserByEmail(ctx, tenantID, email); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if _, err := tx.GetPendingInvitation(ctx, tenantID, email); err == nil {
			return ErrInvitePending
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		token, err := newToken()
		if err != nil {
			return err
		}
		invitation = &models.TenantInvitation{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Email:       email,
			Role:        input.Role,
			Permissions: permissions,
			Token:       token,
			InvitedBy:   inviterID,
			Status:      models.InvitationStatusPending,
			ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * 24 * time.Hour),
		}
		if err := tx.CreateInvitation(ctx, invitation); err != nil {
			return err
		}

		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenantID,
			UserID:     inviterID,
			Action:     models.AuditUserInvited,
			Resource:   "invitation",
			ResourceID: invitation.ID.String(),
			Changes:    models.AuditChanges{After: map[string]interface{}{"email": email, "role": input.Role}},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.mailer != nil {
		if err := s.mailer.SendInvitation(ctx, email, tenant.Name, string(input.Role), invitation.Token); err != nil {
			s.log.WithError(err).WithField("email", email).Warn("Failed to send invitation email")
		}
	}
	s.emit(tenantID, inviterID, models.AuditUserInvited, "invitation", invitation.ID.String(), models.AuditLevelInfo)
	return invitation, nil
}

// AcceptInvitation redeems a pending invitation, creating the membership
// and terminally marking the invitation accepted in one transaction. An
// accepted or unknown token fails with ErrNotFound; an expired one with
// ErrInvitationExpired.
func (s *TenantService) AcceptInvitation(ctx context.Context, token, userID string) (*models.TenantUser, error) {
	var member *models.TenantUser
	err := s.store.Transaction(ctx, func(tx Store) error {
		invitation, err := tx.GetInvitationByToken(ctx, token)
		if err != nil {
			return err
		}
		if invitation.Status != models.InvitationStatusPending {
			return ErrNotFound
		}
		if invitation.IsExpired() {
			return ErrInvitationExpired
		}

		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}

		member = &models.TenantUser{
			ID:          uuid.New(),
			TenantID:    invitation.TenantID,
			UserID:      userID,
			Role:        invitation.Role,
			Permissions: invitation.Permissions,
			IsActive:    true,
			JoinedAt:    time.Now(),
		}
		if err := tx.CreateTenantUser(ctx, member); err != nil {
			if errors.Is(err, ErrDuplicateViolation) {
				return ErrAlreadyMember
			}
			return err
		}

		invitation.Accept(userID)
		if err := tx.UpdateInvitation(ctx, invitation); err != nil {
			return err
		}

		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   invitation.TenantID,
			UserID:     userID,
			Action:     models.AuditUserJoined,
			Resource:   "tenant_user",
			ResourceID: member.ID.String(),
			Changes:    models.AuditChanges{After: map[string]interface{}{"role": member.Role}},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(member.TenantID, userID, models.AuditUserJoined, "tenant_user", member.ID.String(), models.AuditLevelInfo)
	return member, nil
}

// ListInvitations returns a tenant's invitations, newest first
func (s *TenantService) ListInvitations(ctx context.Context, tenantID uuid.UUID) ([]models.TenantInvitation, error) {
	return s.store.ListInvitations(ctx, tenantID)
}

// ListTenantUsers returns a tenant's memberships
func (s *TenantService) ListTenantUsers(ctx context.Context, tenantID uuid.UUID) ([]models.TenantUser, error) {
	return s.store.ListTenantUsers(ctx, tenantID)
}

// UpdateUserRole changes a member's role and permission set. The owner's
// role is immutable, and nobody can be promoted to owner through this
// path.
func (s *TenantService) UpdateUserRole(ctx context.Context, tenantID uuid.UUID, actorID, userID string, role models.TenantRole, permissions []string) (*models.TenantUser, error) {
	if models.RoleRank(role) < 0 {
		return nil, ErrInvalidRole
	}
	if role == models.RoleOwner {
		return nil, ErrInvalidRole
	}

	var member *models.TenantUser
	err := s.store.Transaction(ctx, func(tx Store) error {
		var err error
		member, err = tx.GetTenantUser(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if member.IsOwner() {
			return ErrOwnerNotRemovable
		}
		before := member.Role

		member.Role = role
		if len(permissions) > 0 {
			member.Permissions = permissions
		} else {
			member.Permissions = models.DefaultPermissionsForRole(role)
		}
		if err := tx.UpdateTenantUser(ctx, member); err != nil {
			return err
		}

		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenantID,
			UserID:     actorID,
			Action:     models.AuditUserRoleUpdated,
			Resource:   "tenant_user",
			ResourceID: member.ID.String(),
			Changes:    models.AuditChanges{Before: before, After: role},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(tenantID, actorID, models.AuditUserRoleUpdated, "tenant_user", member.ID.String(), models.AuditLevelInfo)
	return member, nil
}

// RemoveUserFromTenant deletes a membership. Removing the owner is always
// rejected, regardless of who asks.
func (s *TenantService) RemoveUserFromTenant(ctx context.Context, tenantID uuid.UUID, actorID, userID string) error {
	err := s.store.Transaction(ctx, func(tx Store) error {
		member, err := tx.GetTenantUser(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if member.IsOwner() {
			return ErrOwnerNotRemovable
		}

		if err := tx.DeleteTenantUser(ctx, tenantID, userID); err != nil {
			return err
		}
		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenantID,
			UserID:     actorID,
			Action:     models.AuditUserRemoved,
			Resource:   "tenant_user",
			ResourceID: member.ID.String(),
			Changes:    models.AuditChanges{Before: map[string]interface{}{"user_id": userID, "role": member.Role}},
			Level:      models.AuditLevelWarning,
		})
	})
	if err != nil {
		return err
	}

	s.emit(tenantID, actorID, models.AuditUserRemoved, "tenant_user", userID, models.AuditLevelWarning)
	return nil
}

// AddCustomDomain registers a custom domain for a tenant. Domains are
// globally unique across tenants and start unverified with a generated
// DNS verification record set.
func (s *TenantService) AddCustomDomain(ctx context.Context, tenantID uuid.UUID, actorID, domainName string, domainType models.DomainType) (*models.TenantDomain, error) {
	domainName = strings.ToLower(strings.TrimSpace(domainName))
	if domainType == "" {
		domainType = models.DomainTypePrimary
	}

	var domain *models.TenantDomain
	err := s.store.Transaction(ctx, func(tx Store) error {
		tenant, err := tx.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if !tenant.Features.CustomDomains {
			return ErrFeatureNotEnabled
		}

		if _, err := tx.GetDomainByName(ctx, domainName); err == nil {
			return ErrDomainTaken
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := tx.GetTenantByDomain(ctx, domainName); err == nil {
			return ErrDomainTaken
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		domain, err = s.buildDomainRecord(tenant, domainName, domainType)
		if err != nil {
			return err
		}
		if err := tx.CreateDomain(ctx, domain); err != nil {
			if errors.Is(err, ErrDuplicateViolation) {
				return ErrDomainTaken
			}
			return err
		}

		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenantID,
			UserID:     actorID,
			Action:     models.AuditDomainAdded,
			Resource:   "tenant_domain",
			ResourceID: domain.ID.String(),
			Changes:    models.AuditChanges{After: map[string]interface{}{"domain": domainName, "type": domainType}},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(tenantID, actorID, models.AuditDomainAdded, "tenant_domain", domain.ID.String(), models.AuditLevelInfo)
	return domain, nil
}

// VerifyDomain checks the domain's DNS record set against live DNS. On
// success the domain is marked verified with SSL enabled for 90 days. A
// failed verification leaves the record untouched and surfaces no error;
// the call is idempotent and safe to retry, and re-verifying an already
// verified domain does not move VerifiedAt.
func (s *TenantService) VerifyDomain(ctx context.Context, domainID uuid.UUID, actorID string) (*models.TenantDomain, error) {
	domain, err := s.store.GetDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}
	if domain.IsVerified {
		return domain, nil
	}

	if s.verifier == nil || !s.verifier.Verify(ctx, domain) {
		return domain, nil
	}

	err = s.store.Transaction(ctx, func(tx Store) error {
		now := time.Now()
		sslExpiry := now.Add(sslCertificateLifetime)
		domain.IsVerified = true
		domain.VerifiedAt = &now
		domain.SSLEnabled = true
		domain.SSLExpiresAt = &sslExpiry

		if err := tx.UpdateDomain(ctx, domain); err != nil {
			return err
		}
		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   domain.TenantID,
			UserID:     actorID,
			Action:     models.AuditDomainVerified,
			Resource:   "tenant_domain",
			ResourceID: domain.ID.String(),
			Changes:    models.AuditChanges{After: map[string]interface{}{"domain": domain.Domain, "verified": true}},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(domain.TenantID, actorID, models.AuditDomainVerified, "tenant_domain", domain.ID.String(), models.AuditLevelInfo)
	return domain, nil
}

// ListDomains returns a tenant's custom domains
func (s *TenantService) ListDomains(ctx context.Context, tenantID uuid.UUID) ([]models.TenantDomain, error) {
	return s.store.ListDomains(ctx, tenantID)
}

// SetTenantConfiguration upserts one configuration value
func (s *TenantService) SetTenantConfiguration(ctx context.Context, tenantID uuid.UUID, actorID, category, key, value string) error {
	err := s.store.Transaction(ctx, func(tx Store) error {
		if _, err := tx.GetTenant(ctx, tenantID); err != nil {
			return err
		}

		cfg := &models.TenantConfiguration{
			TenantID: tenantID,
			Category: category,
			Key:      key,
			Value:    value,
		}
		if err := tx.UpsertConfiguration(ctx, cfg); err != nil {
			return err
		}
		return s.audit(ctx, tx, &models.TenantAuditLog{
			TenantID:   tenantID,
			UserID:     actorID,
			Action:     models.AuditConfigUpdated,
			Resource:   "tenant_configuration",
			ResourceID: category + "." + key,
			Changes:    models.AuditChanges{After: map[string]interface{}{"category": category, "key": key}},
			Level:      models.AuditLevelInfo,
		})
	})
	if err != nil {
		return err
	}

	s.emit(tenantID, actorID, models.AuditConfigUpdated, "tenant_configuration", category+"."+key, models.AuditLevelInfo)
	return nil
}

// GetTenantConfiguration reads all configuration rows for a tenant,
// grouped as category -> key -> value.
func (s *TenantService) GetTenantConfiguration(ctx context.Context, tenantID uuid.UUID) (map[string]map[string]string, error) {
	configs, err := s.store.ListConfigurations(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	grouped := map[string]map[string]string{}
	for _, cfg := range configs {
		if grouped[cfg.Category] == nil {
			grouped[cfg.Category] = map[string]string{}
		}
		grouped[cfg.Category][cfg.Key] = cfg.Value
	}
	return grouped, nil
}

// RecordUsageMetric writes today's value for a metric. With accumulate
// false the value is a point-in-time snapshot replacing the day's row;
// with accumulate true it is added to the day's running total.
func (s *TenantService) RecordUsageMetric(ctx context.Context, tenantID uuid.UUID, metricType string, value float64, accumulate bool) error {
	return s.store.UpsertUsageMetric(ctx, tenantID, metricType, time.Now(), value, accumulate)
}

// ListAuditLogs pages over a tenant's audit trail, newest first
func (s *TenantService) ListAuditLogs(ctx context.Context, tenantID uuid.UUID, page, size int) ([]models.TenantAuditLog, int64, error) {
	return s.store.ListAuditLogs(ctx, tenantID, page, size)
}

// buildDomainRecord assembles an unverified TenantDomain with its
// CNAME + TXT verification records.
func (s *TenantService) buildDomainRecord(tenant *models.Tenant, domainName string, domainType models.DomainType) (*models.TenantDomain, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	return &models.TenantDomain{
		ID:       uuid.New(),
		TenantID: tenant.ID,
		Domain:   domainName,
		Type:     domainType,
		DNSRecords: []models.DNSRecord{
			{Type: "CNAME", Name: domainName, Value: tenant.Subdomain + "." + s.baseDomain},
			{Type: "TXT", Name: verificationTXTPrefix + domainName, Value: token},
		},
	}, nil
}

// audit writes an audit row inside the caller's transaction, so a failed
// audit write aborts the mutation it describes.
func (s *TenantService) audit(ctx context.Context, tx Store, entry *models.TenantAuditLog) error {
	entry.ID = uuid.New()
	return tx.CreateAuditLog(ctx, entry)
}

// emit fans the audit event out post-commit, fire-and-forget
func (s *TenantService) emit(tenantID uuid.UUID, userID, action, resource, resourceID string, level models.AuditLevel) {
	s.events.Publish(AuditEvent{
		TenantID:   tenantID.String(),
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Level:      string(level),
		OccurredAt: time.Now(),
	})
}

// newToken returns a cryptographically random 32-byte hex token
func newToken() (string, error) {
	buf := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
