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

	policy, err := loadPolicy(cfg)
	if err != nil {
		logger.Fatalf("Failed to load route policy: %v", err)
	}
	tokens := auth.NewTokenIssuer(cfg.SessionSecret, cfg.SessionIssuer, cfg.SessionTTL)

	// Initialize service clients
	clients := &ServiceClients{
		AuthService:   NewServiceClient("auth_service", cfg.AuthServiceURL, "/api", logger),
		TenantService: NewServiceClient("tenant_service", cfg.TenantServiceURL, "/api", logger),
	}
	if cfg.FrontendURL != "" {
		clients.FrontendService = NewServiceClient("frontend", cfg.FrontendURL, "", logger)
	}

	router := newRouter(clients, gate.New(policy, tokens), logger)

	srv := &http.Server{
		Addr:         ":" + cfg.GatewayPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("API Gateway starting on port %s", cfg.GatewayPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start API Gateway: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API Gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API Gateway forced to shut down: %v", err)
	}
}

func loadPolicy(cfg *config.Config) (*gate.Policy, error) {
	if cfg.RoutePolicyFile != "" {
		return gate.LoadPolicy(cfg.RoutePolicyFile)
	}
	return gate.DefaultPolicy()
}

// newRouter puts the gate in front of every route and leaves the rest to
// ServiceClients.Route
func newRouter(clients *ServiceClients, g *gate.Gate, log logrus.FieldLogger) *gin.Engine {
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
	router.Use(middleware.Gate(g, log))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "API Gateway is healthy", nil)
	})
	router.GET("/api/status", func(c *gin.Context) {
		utils.OKResponse(c, "Service status", clients.GetServiceStatus())
	})

	router.NoRoute(clients.Route)

	return router
}
