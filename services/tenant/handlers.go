package main

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edutech/lms-tenancy/shared/middleware"
	"github.com/edutech/lms-tenancy/shared/models"
	"github.com/edutech/lms-tenancy/shared/tenancy"
	"github.com/edutech/lms-tenancy/shared/utils"
)

// CreateTenantRequest represents the create tenant request
type CreateTenantRequest struct {
	Name           string `json:"name" binding:"required"`
	Subdomain      string `json:"subdomain" binding:"required"`
	Domain         string `json:"domain"`
	Plan           string `json:"plan" binding:"omitempty,oneof=free starter professional enterprise"`
	IsolationLevel string `json:"isolation_level" binding:"omitempty,oneof=shared schema database"`
}

// UpdateTenantRequest represents the update tenant request
type UpdateTenantRequest struct {
	Name     *string                `json:"name"`
	Plan     *string                `json:"plan" binding:"omitempty,oneof=free starter professional enterprise"`
	Branding *models.TenantBranding `json:"branding"`
	Settings *models.TenantSettings `json:"settings"`
}

// InviteUserRequest represents the invite user request
type InviteUserRequest struct {
	Email         string   `json:"email" binding:"required,email"`
	Role          string   `json:"role" binding:"required,oneof=viewer student teacher manager admin"`
	Permissions   []string `json:"permissions"`
	ExpiresInDays int      `json:"expires_in_days"`
}

// respondServiceError maps tenancy errors to HTTP responses
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tenancy.ErrNotFound):
		utils.NotFoundResponse(c, "Resource not found")
	case tenancy.IsConflict(err):
		utils.ConflictResponse(c, err.Error())
	case errors.Is(err, tenancy.ErrOwnerNotRemovable), errors.Is(err, tenancy.ErrFeatureNotEnabled):
		utils.ForbiddenResponse(c, err.Error())
	case errors.Is(err, tenancy.ErrInvitationExpired),
		errors.Is(err, tenancy.ErrInvalidRole),
		errors.Is(err, tenancy.ErrInvalidInput),
		errors.Is(err, tenancy.ErrInvalidTransition),
		errors.Is(err, tenancy.ErrOwnerNotFound):
		utils.BadRequestResponse(c, err.Error())
	default:
		utils.InternalServerErrorResponse(c, "Internal error")
	}
}

// parseTenantID reads the :id path parameter as a tenant UUID
func parseTenantID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid tenant id")
		return uuid.Nil, false
	}
	return id, true
}

// requireTenantRole guards a :id route behind a minimum tenant role
func requireTenantRole(resolver *tenancy.Resolver, role models.TenantRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			c.Abort()
			return
		}
		userID := c.GetString("user_id")
		if !resolver.ValidateTenantAccess(c.Request.Context(), tenantID, userID, role, nil) {
			utils.ForbiddenResponse(c, "Insufficient role for this tenant")
			c.Abort()
			return
		}
		c.Next()
	}
}

// handleCreateTenant creates a tenant owned by the calling user
func handleCreateTenant(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		tenant, err := svc.CreateTenant(c.Request.Context(), tenancy.CreateTenantInput{
			Name:           req.Name,
			Subdomain:      req.Subdomain,
			Domain:         req.Domain,
			OwnerID:        c.GetString("user_id"),
			Plan:           models.TenantPlan(req.Plan),
			IsolationLevel: models.IsolationLevel(req.IsolationLevel),
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.CreatedResponse(c, "Tenant created successfully", tenant)
	}
}

// handleGetTenant returns a single tenant
func handleGetTenant(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		tenant, err := svc.GetTenant(c.Request.Context(), tenantID)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Tenant retrieved successfully", tenant)
	}
}

// handleListTenants pages over tenants, optionally filtered by status
func handleListTenants(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := pagination(c)
		tenants, total, err := svc.ListTenants(c.Request.Context(), models.TenantStatus(c.Query("status")), page, size)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Tenants retrieved successfully", gin.H{
			"tenants": tenants,
			"total":   total,
			"page":    page,
		})
	}
}

// handleUpdateTenant updates mutable tenant attributes
func handleUpdateTenant(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		var req UpdateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		input := tenancy.UpdateTenantInput{
			Name:     req.Name,
			Branding: req.Branding,
			Settings: req.Settings,
		}
		if req.Plan != nil {
			plan := models.TenantPlan(*req.Plan)
			input.Plan = &plan
		}

		tenant, err := svc.UpdateTenant(c.Request.Context(), tenantID, c.GetString("user_id"), input)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Tenant updated successfully", tenant)
	}
}

// handleSuspendTenant suspends an active tenant
func handleSuspendTenant(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		var req struct {
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Suspension reason is required")
			return
		}

		tenant, err := svc.SuspendTenant(c.Request.Context(), tenantID, c.GetString("user_id"), req.Reason)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Tenant suspended", tenant)
	}
}

// handleReactivateTenant restores a suspended tenant
func handleReactivateTenant(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		tenant, err := svc.ReactivateTenant(c.Request.Context(), tenantID, c.GetString("user_id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Tenant reactivated", tenant)
	}
}

// handleGetTenantUsers lists a tenant's memberships
func handleGetTenantUsers(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		users, err := svc.ListTenantUsers(c.Request.Context(), tenantID)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Tenant users retrieved successfully", users)
	}
}

// handleInviteUser invites a user to the tenant by email
func handleInviteUser(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		var req InviteUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		invitation, err := svc.InviteUser(c.Request.Context(), tenantID, c.GetString("user_id"), tenancy.InviteUserInput{
			Email:         req.Email,
			Role:          models.TenantRole(req.Role),
			Permissions:   req.Permissions,
			ExpiresInDays: req.ExpiresInDays,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.CreatedResponse(c, "Invitation created", invitation)
	}
}

// handleListInvitations lists a tenant's invitations
func handleListInvitations(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		invitations, err := svc.ListInvitations(c.Request.Context(), tenantID)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Invitations retrieved successfully", invitations)
	}
}

// handleAcceptInvitation redeems an invitation token for the caller
func handleAcceptInvitation(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invitation token is required")
			return
		}

		member, err := svc.AcceptInvitation(c.Request.Context(), req.Token, c.GetString("user_id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Invitation accepted", member)
	}
}

// handleUpdateUserRole changes a member's role within the tenant
func handleUpdateUserRole(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		var req struct {
			Role        string   `json:"role" binding:"required,oneof=viewer student teacher manager admin"`
			Permissions []string `json:"permissions"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		member, err := svc.UpdateUserRole(c.Request.Context(), tenantID, c.GetString("user_id"),
			c.Param("user_id"), models.TenantRole(req.Role), req.Permissions)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "User role updated", member)
	}
}

// handleRemoveTenantUser removes a member from the tenant
func handleRemoveTenantUser(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		err := svc.RemoveUserFromTenant(c.Request.Context(), tenantID, c.GetString("user_id"), c.Param("user_id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "User removed from tenant", nil)
	}
}

// handleAddDomain registers a custom domain for the tenant
func handleAddDomain(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		var req struct {
			Domain string `json:"domain" binding:"required,fqdn"`
			Type   string `json:"type" binding:"omitempty,oneof=primary alias redirect"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		domain, err := svc.AddCustomDomain(c.Request.Context(), tenantID, c.GetString("user_id"),
			req.Domain, models.DomainType(req.Type))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.CreatedResponse(c, "Domain added, verification pending", domain)
	}
}

// handleListDomains lists a tenant's custom domains
func handleListDomains(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		domains, err := svc.ListDomains(c.Request.Context(), tenantID)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Domains retrieved successfully", domains)
	}
}

// handleVerifyDomain runs DNS verification for a domain
func handleVerifyDomain(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		domainID, err := uuid.Parse(c.Param("domain_id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid domain id")
			return
		}

		domain, err := svc.VerifyDomain(c.Request.Context(), domainID, c.GetString("user_id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		message := "Domain verification pending"
		if domain.IsVerified {
			message = "Domain verified"
		}
		utils.OKResponse(c, message, domain)
	}
}

// handleGetConfiguration reads the tenant's configuration grouped by category
func handleGetConfiguration(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		config, err := svc.GetTenantConfiguration(c.Request.Context(), tenantID)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Configuration retrieved successfully", config)
	}
}

// handleSetConfiguration upserts one configuration value
func handleSetConfiguration(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		var req struct {
			Category string `json:"category" binding:"required"`
			Key      string `json:"key" binding:"required"`
			Value    string `json:"value"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		err := svc.SetTenantConfiguration(c.Request.Context(), tenantID, c.GetString("user_id"),
			req.Category, req.Key, req.Value)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Configuration updated", nil)
	}
}

// handleRecordUsage writes a usage metric for today
func handleRecordUsage(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		var req struct {
			MetricType string  `json:"metric_type" binding:"required"`
			Value      float64 `json:"value"`
			Accumulate bool    `json:"accumulate"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		if err := svc.RecordUsageMetric(c.Request.Context(), tenantID, req.MetricType, req.Value, req.Accumulate); err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Usage recorded", nil)
	}
}

// handleCheckUsage reports today's usage against the tenant's plan limits
func handleCheckUsage(resolver *tenancy.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		report := resolver.CheckUsageLimits(c.Request.Context(), tenantID)
		utils.OKResponse(c, "Usage report", report)
	}
}

// handleListAuditLogs pages over the tenant's audit trail
func handleListAuditLogs(svc *tenancy.TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := parseTenantID(c)
		if !ok {
			return
		}

		page, size := pagination(c)
		entries, total, err := svc.ListAuditLogs(c.Request.Context(), tenantID, page, size)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		utils.OKResponse(c, "Audit log retrieved successfully", gin.H{
			"entries": entries,
			"total":   total,
			"page":    page,
		})
	}
}

// handleResolveContext echoes the tenant context resolved from the
// request's host/headers/path. Used by the gateway and for debugging
// custom domain setups.
func handleResolveContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := middleware.GetTenantContext(c)
		if !ok {
			utils.NotFoundResponse(c, "No tenant resolved for this request")
			return
		}
		utils.OKResponse(c, "Tenant context", tc)
	}
}

// pagination reads page/size query parameters with defaults
func pagination(c *gin.Context) (int, int) {
	page := 1
	size := 50
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("size")); err == nil && v > 0 && v <= 200 {
		size = v
	}
	return page, size
}
