package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-school-tenancy/shared/auth"
	"github.com/pavitra93/go-school-tenancy/shared/config"
	"github.com/pavitra93/go-school-tenancy/shared/middleware"
	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/notify"
	"github.com/pavitra93/go-school-tenancy/shared/provisioning"
	"github.com/pavitra93/go-school-tenancy/shared/store"
	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	cfg := config.Load()
	logger := config.SetupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	st, closeStore, err := config.OpenStore(cfg)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counter := store.AccountCounter(store.NopCounter{})
	if cfg.RedisHost != "" {
		client, err := utils.NewRedisClient(ctx, utils.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warnf("Failed to connect to Redis, account counts not cached: %v", err)
		} else {
			defer client.Close()
			counter = utils.NewRedisCounter(client, cfg.CountTTL)
		}
	}

	notifier, closeNotifier := welcomeNotifier(cfg, logger)
	defer closeNotifier()

	dispatcher := notify.NewDispatcher(notifier, notify.DispatcherConfig{
		Workers:   cfg.NotifyWorkers,
		QueueSize: 256,
		Timeout:   cfg.NotifyTimeout,
		Log:       logger,
	})
	defer dispatcher.Close()

	svc := provisioning.NewService(st, dispatcher,
		provisioning.WithCounter(counter),
		provisioning.WithLogger(logger),
		provisioning.WithBcryptCost(cfg.BcryptCost),
		provisioning.WithMaxCodeAttempts(cfg.MaxCodeAttempts),
	)
	svc.StartOrphanReconciler(ctx, cfg.OrphanSweepInterval, cfg.OrphanGrace)

	tokens := auth.NewTokenIssuer(cfg.SessionSecret, cfg.SessionIssuer, cfg.SessionTTL)
	router := newRouter(svc, middleware.NewAuthMiddleware(tokens))

	srv := &http.Server{
		Addr:         ":" + cfg.TenantPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("Tenant service starting on port %s", cfg.TenantPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start tenant service: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down tenant service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Tenant service forced to shut down: %v", err)
	}
}

// welcomeNotifier picks where welcome notices go: Kafka for the notifier
// service, SES directly, or the log for local runs
func welcomeNotifier(cfg *config.Config, logger *logrus.Logger) (notify.Notifier, func()) {
	if cfg.KafkaBroker != "" {
		kn := notify.NewKafkaNotifier(cfg.KafkaBroker)
		logger.Infof("Publishing welcome notices to %s on %s", notify.WelcomeTopic, cfg.KafkaBroker)
		return kn, func() { _ = kn.Close() }
	}
	if cfg.SESSender != "" {
		breaker := utils.NewCircuitBreakerWithConfig(utils.BreakerConfig{
			Name:         "ses",
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			Log:          logger,
		})
		sn, err := notify.NewSESNotifier(cfg.AWSRegion, cfg.SESSender, breaker)
		if err == nil {
			return sn, func() {}
		}
		logger.Warnf("Failed to create SES client, logging welcome notices: %v", err)
	}
	return notify.LogNotifier{Log: logger}, func() {}
}

// newRouter wires the tenant routes
func newRouter(svc *provisioning.Service, authMiddleware *middleware.AuthMiddleware) *gin.Engine {
	router := gin.Default()

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Tenant service is healthy", nil)
	})

	tenants := router.Group("/tenants")
	tenants.Use(authMiddleware.RequireAuth())
	{
		// Platform management
		tenants.POST("", middleware.RequireRole(models.RoleSuperAdmin), handleCreateTenant(svc))
		tenants.GET("", middleware.RequireRole(models.RoleSuperAdmin), handleGetTenants(svc))

		tenant := tenants.Group("/:id", middleware.RequireTenantAccess())
		tenant.GET("", handleGetTenant(svc))
		tenant.PUT("", handleUpdateTenant(svc))
		tenant.DELETE("", middleware.RequireRole(models.RoleSuperAdmin), handleDeleteTenant(svc))
		tenant.PUT("/status", middleware.RequireRole(models.RoleSuperAdmin), handleSetTenantStatus(svc))
		tenant.GET("/stats", handleGetTenantStats(svc))

		// Accounts within the school
		tenant.GET("/accounts", handleGetAccounts(svc))
		tenant.POST("/accounts", middleware.RequireRole(models.RoleTenantAdmin), handleCreateAccount(svc))
		tenant.GET("/accounts/:account_id", handleGetAccount(svc))
		tenant.PUT("/accounts/:account_id", handleUpdateAccount(svc))
		tenant.DELETE("/accounts/:account_id", handleDeleteAccount(svc))
		tenant.GET("/accounts/:account_id/parent", handleGetParent(svc))
	}

	return router
}
