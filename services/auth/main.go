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
	"github.com/pavitra93/go-school-tenancy/shared/gate"
	"github.com/pavitra93/go-school-tenancy/shared/middleware"
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

	policy, err := loadPolicy(cfg)
	if err != nil {
		logger.Fatalf("Failed to load route policy: %v", err)
	}

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

	tokens := auth.NewTokenIssuer(cfg.SessionSecret, cfg.SessionIssuer, cfg.SessionTTL)
	svc := auth.NewService(st, tokens,
		auth.WithBcryptCost(cfg.BcryptCost),
		auth.WithCounter(counter),
		auth.WithLogger(logger),
	)

	if err := svc.SeedSuperAdmin(ctx, cfg.SuperAdminEmail, cfg.SuperAdminPassword); err != nil {
		logger.Fatalf("Failed to seed super admin: %v", err)
	}

	router := newRouter(svc, sessionWriter{policy: policy, secure: cfg.SecureCookies})

	srv := &http.Server{
		Addr:         ":" + cfg.AuthPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("Auth service starting on port %s", cfg.AuthPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start auth service: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down auth service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Auth service forced to shut down: %v", err)
	}
}

// newRouter wires the auth routes
func newRouter(svc *auth.Service, sw sessionWriter) *gin.Engine {
	router := gin.Default()
	authMiddleware := middleware.NewAuthMiddleware(svc.Tokens())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Auth service is healthy", nil)
	})

	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/login", handleLogin(svc, sw))
		authRoutes.POST("/signup", handleSignup(svc, sw))
		authRoutes.POST("/logout", handleLogout(svc))
		authRoutes.POST("/password", authMiddleware.RequireAuth(), handleChangePassword(svc, sw))
		authRoutes.GET("/me", authMiddleware.RequireAuth(), handleMe())
	}

	return router
}

func loadPolicy(cfg *config.Config) (*gate.Policy, error) {
	if cfg.RoutePolicyFile != "" {
		return gate.LoadPolicy(cfg.RoutePolicyFile)
	}
	return gate.DefaultPolicy()
}
