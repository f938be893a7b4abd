package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/edutech/lms-tenancy/shared/config"
	"github.com/edutech/lms-tenancy/shared/middleware"
	"github.com/edutech/lms-tenancy/shared/models"
	"github.com/edutech/lms-tenancy/shared/tenancy"
	"github.com/edutech/lms-tenancy/shared/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	// Redis backs the tenant and auth-claims caches; the service runs
	// without it, just slower.
	if err := utils.InitRedis(); err != nil {
		logrus.WithError(err).Warn("Redis unavailable, caching disabled")
	}
	defer utils.CloseRedis()

	baseDomain := config.GetBaseDomain()

	// Initialize the tenancy store
	var store tenancy.Store
	if os.Getenv("DB_DISABLED") == "true" {
		logrus.Warn("DB_DISABLED set, using in-memory store")
		store = tenancy.NewMemoryStore()
	} else {
		db, err := config.ConnectDatabase()
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		if err := config.MigrateDatabase(db); err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		store = tenancy.NewGormStore(db)
	}

	// Build the tenancy core
	verifier := tenancy.NewDomainVerifier(tenancy.NewNetDNSResolver())
	resolver := tenancy.NewResolver(store, baseDomain)
	service := tenancy.NewTenantService(store, verifier, baseDomain)

	// Optional Kafka audit fan-out
	if broker := os.Getenv("KAFKA_BROKER"); broker != "" {
		topic := os.Getenv("KAFKA_AUDIT_TOPIC")
		if topic == "" {
			topic = "tenant-audit-events"
		}
		publisher := tenancy.NewKafkaAuditPublisher(broker, topic)
		defer publisher.Close()
		service = service.WithAuditSink(publisher)
		logrus.WithField("topic", topic).Info("Kafka audit publisher enabled")
	}

	// Optional SES invitation mail
	if sender := os.Getenv("SES_SENDER"); sender != "" {
		mailer, err := utils.NewSESMailer(os.Getenv("AWS_REGION"), sender, baseDomain)
		if err != nil {
			log.Fatal("Failed to initialize SES mailer:", err)
		}
		service = service.WithMailer(mailer)
	}

	// Initialize authentication middleware
	authMiddleware := middleware.NewAuthMiddleware(
		os.Getenv("JWKS_URL"),
		os.Getenv("TRUST_UPSTREAM_AUTH") == "true",
	)
	tenantMiddleware := middleware.NewTenantMiddleware(resolver)

	// Initialize Gin router
	router := gin.Default()
	router.Use(authMiddleware.OptionalAuth())
	router.Use(tenantMiddleware.ResolveTenant())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Tenant service is healthy", nil)
	})

	// Host-based tenant context, for the gateway and custom domain debugging
	router.GET("/context", tenantMiddleware.RequireTenant(), handleResolveContext())

	// Tenant management routes
	tenants := router.Group("/tenants")
	tenants.Use(authMiddleware.RequireAuth())
	{
		tenants.POST("", handleCreateTenant(service))
		tenants.GET("", handleListTenants(service))

		tenants.GET("/:id", requireTenantRole(resolver, models.RoleViewer), handleGetTenant(service))
		tenants.PUT("/:id", requireTenantRole(resolver, models.RoleAdmin), handleUpdateTenant(service))
		tenants.POST("/:id/suspend", requireTenantRole(resolver, models.RoleOwner), handleSuspendTenant(service))
		tenants.POST("/:id/reactivate", requireTenantRole(resolver, models.RoleOwner), handleReactivateTenant(service))

		// Membership management
		tenants.GET("/:id/users", requireTenantRole(resolver, models.RoleManager), handleGetTenantUsers(service))
		tenants.PUT("/:id/users/:user_id", requireTenantRole(resolver, models.RoleAdmin), handleUpdateUserRole(service))
		tenants.DELETE("/:id/users/:user_id", requireTenantRole(resolver, models.RoleAdmin), handleRemoveTenantUser(service))
		tenants.POST("/:id/invitations", requireTenantRole(resolver, models.RoleManager), handleInviteUser(service))
		tenants.GET("/:id/invitations", requireTenantRole(resolver, models.RoleManager), handleListInvitations(service))

		// Custom domains
		tenants.POST("/:id/domains", requireTenantRole(resolver, models.RoleAdmin), handleAddDomain(service))
		tenants.GET("/:id/domains", requireTenantRole(resolver, models.RoleAdmin), handleListDomains(service))
		tenants.POST("/:id/domains/:domain_id/verify", requireTenantRole(resolver, models.RoleAdmin), handleVerifyDomain(service))

		// Configuration
		tenants.GET("/:id/config", requireTenantRole(resolver, models.RoleAdmin), handleGetConfiguration(service))
		tenants.PUT("/:id/config", requireTenantRole(resolver, models.RoleAdmin), handleSetConfiguration(service))

		// Usage and audit
		tenants.POST("/:id/usage", requireTenantRole(resolver, models.RoleAdmin), handleRecordUsage(service))
		tenants.GET("/:id/usage", requireTenantRole(resolver, models.RoleViewer), handleCheckUsage(resolver))
		tenants.GET("/:id/audit", requireTenantRole(resolver, models.RoleAdmin), handleListAuditLogs(service))
	}

	// Invitation acceptance is keyed by token, not tenant
	invitations := router.Group("/invitations")
	invitations.Use(authMiddleware.RequireAuth())
	{
		invitations.POST("/accept", handleAcceptInvitation(service))
	}

	// Start server
	port := os.Getenv("TENANT_SERVICE_PORT")
	if port == "" {
		port = "8002"
	}

	logrus.Infof("Tenant service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start tenant service:", err)
	}
}
