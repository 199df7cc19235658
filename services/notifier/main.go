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

	"github.com/pavitra93/go-school-tenancy/shared/config"
	"github.com/pavitra93/go-school-tenancy/shared/notify"
	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

// The notifier service turns welcome notices published by the tenant service
// into emails
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	cfg := config.Load()
	logger := config.SetupLogger(cfg)
	if cfg.KafkaBroker == "" {
		logger.Fatal("KAFKA_BROKER must be set")
	}

	delivery := deliveryNotifier(cfg, logger)
	consumer := notify.NewConsumer(cfg.KafkaBroker, cfg.KafkaGroupID, delivery, logger)
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Warnf("Failed to close consumer: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    ":" + cfg.NotifierPort,
		Handler: newRouter(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Health endpoint stopped: %v", err)
		}
	}()

	logger.Infof("Notifier consuming %s from %s", notify.WelcomeTopic, cfg.KafkaBroker)
	if err := consumer.Run(ctx); err != nil {
		logger.Errorf("Consumer stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("Notifier stopped")
}

// deliveryNotifier sends through SES when a sender is configured and logs
// otherwise
func deliveryNotifier(cfg *config.Config, logger *logrus.Logger) notify.Notifier {
	if cfg.SESSender == "" {
		logger.Warn("SES_SENDER not set, welcome notices will only be logged")
		return notify.LogNotifier{Log: logger}
	}
	breaker := utils.NewCircuitBreakerWithConfig(utils.BreakerConfig{
		Name:         "ses",
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		Log:          logger,
	})
	sn, err := notify.NewSESNotifier(cfg.AWSRegion, cfg.SESSender, breaker)
	if err != nil {
		logger.Fatalf("Failed to create SES client: %v", err)
	}
	return sn
}

func newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Notifier service is healthy", nil)
	})
	return router
}
