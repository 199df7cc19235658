package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the settings shared by every service
type Config struct {
	AuthPort     string
	TenantPort   string
	NotifierPort string
	GatewayPort  string

	Database    DatabaseConfig
	StoreDriver string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CountTTL      time.Duration

	KafkaBroker   string
	KafkaGroupID  string
	AWSRegion     string
	SESSender     string
	NotifyTimeout time.Duration
	NotifyWorkers int

	SessionSecret string
	SessionTTL    time.Duration
	SessionIssuer string
	SecureCookies bool
	BcryptCost    int

	MaxCodeAttempts     int
	OrphanGrace         time.Duration
	OrphanSweepInterval time.Duration
	RoutePolicyFile     string

	SuperAdminEmail    string
	SuperAdminPassword string

	AuthServiceURL   string
	TenantServiceURL string
	FrontendURL      string

	LogLevel  string
	LogFormat string
}

// MinSecretLength is the shortest session secret accepted
const MinSecretLength = 32

// Load reads the configuration from environment variables
func Load() *Config {
	return &Config{
		AuthPort:     getEnv("AUTH_SERVICE_PORT", "8001"),
		TenantPort:   getEnv("TENANT_SERVICE_PORT", "8002"),
		NotifierPort: getEnv("NOTIFIER_SERVICE_PORT", "8003"),
		GatewayPort:  getEnv("API_GATEWAY_PORT", "8080"),

		Database:    *GetDatabaseConfig(),
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CountTTL:      getEnvDuration("ACCOUNT_COUNT_TTL", time.Hour),

		KafkaBroker:   getEnv("KAFKA_BROKER", ""),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "welcome-notifier"),
		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
		SESSender:     getEnv("SES_SENDER", ""),
		NotifyTimeout: getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		NotifyWorkers: getEnvInt("NOTIFY_WORKERS", 4),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionIssuer: getEnv("SESSION_ISSUER", "school-tenancy"),
		SecureCookies: getEnvBool("SECURE_COOKIES", true),
		BcryptCost:    getEnvInt("BCRYPT_COST", 12),

		MaxCodeAttempts:     getEnvInt("MAX_CODE_ATTEMPTS", 5),
		OrphanGrace:         getEnvDuration("ORPHAN_GRACE", time.Hour),
		OrphanSweepInterval: getEnvDuration("ORPHAN_SWEEP_INTERVAL", 15*time.Minute),
		RoutePolicyFile:     getEnv("ROUTE_POLICY_FILE", ""),

		SuperAdminEmail:    getEnv("SUPER_ADMIN_EMAIL", ""),
		SuperAdminPassword: getEnv("SUPER_ADMIN_PASSWORD", ""),

		AuthServiceURL:   getEnv("AUTH_SERVICE_URL", "http://localhost:8001"),
		TenantServiceURL: getEnv("TENANT_SERVICE_URL", "http://localhost:8002"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate fails fast on settings no service can run without
func (c *Config) Validate() error {
	var errs []error
	if len(c.SessionSecret) < MinSecretLength {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 characters"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		errs = append(errs, errors.New("STORE_DRIVER must be postgres or memory"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 4 and 31"))
	}
	if c.MaxCodeAttempts < 1 {
		errs = append(errs, errors.New("MAX_CODE_ATTEMPTS must be at least 1"))
	}
	if c.OrphanSweepInterval <= 0 {
		errs = append(errs, errors.New("ORPHAN_SWEEP_INTERVAL must be positive"))
	}
	if c.OrphanGrace < 0 {
		errs = append(errs, errors.New("ORPHAN_GRACE must not be negative"))
	}
	return errors.Join(errs...)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		logrus.Warnf("Invalid %s=%q, using %t", key, value, defaultValue)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.Warnf("Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
