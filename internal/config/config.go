package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Storage backend selectors.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Payments PaymentsConfig
	Admin    AdminConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
	// RateLimit is requests per second per client on the public surface
	RateLimit float64
	RateBurst int
}

// DatabaseConfig holds PostgreSQL configuration. Storage selects the backend:
// "postgres" for production, "memory" for local development and tests.
type DatabaseConfig struct {
	Storage  string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// GatewayConfig holds payment gateway configuration
type GatewayConfig struct {
	Environment string // sandbox or production
	BaseURL     string // overrides the environment default when set
	APIKey      string
	SecretKey   string // secret for request signing and callback verification
	Timeout     time.Duration
	CallbackURL string // publicly reachable callback endpoint handed to the gateway
}

// PaymentsConfig holds orchestration tuning knobs
type PaymentsConfig struct {
	// ChallengeTTL is how long a shopper has to answer a 3DS challenge
	ChallengeTTL time.Duration
	// SessionSweepInterval is how often expired 3DS sessions are reaped
	SessionSweepInterval time.Duration
	// StaleAfter is how long a pending transaction sits untouched before a
	// status read may requery the gateway
	StaleAfter time.Duration
	// RequeryInterval is the minimum spacing between requeries per transaction
	RequeryInterval time.Duration
	// AuditRingSize is the in-memory debug event buffer capacity
	AuditRingSize int
}

// AdminConfig holds the operator surface configuration
type AdminConfig struct {
	Secret string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
			RateLimit:   getEnvAsFloat("RATE_LIMIT_RPS", 50),
			RateBurst:   getEnvAsInt("RATE_LIMIT_BURST", 100),
		},
		Database: DatabaseConfig{
			Storage:  getEnv("STORAGE", StoragePostgres),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "payment_orchestrator"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		},
		Gateway: GatewayConfig{
			Environment: getEnv("GATEWAY_ENV", "sandbox"),
			BaseURL:     getEnv("GATEWAY_BASE_URL", ""),
			APIKey:      getEnv("GATEWAY_API_KEY", ""),
			SecretKey:   getEnv("GATEWAY_SECRET_KEY", ""),
			Timeout:     getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
			CallbackURL: getEnv("GATEWAY_CALLBACK_URL", ""),
		},
		Payments: PaymentsConfig{
			ChallengeTTL:         getEnvAsDuration("THREEDS_CHALLENGE_TTL", 5*time.Minute),
			SessionSweepInterval: getEnvAsDuration("THREEDS_SWEEP_INTERVAL", 30*time.Second),
			StaleAfter:           getEnvAsDuration("STATUS_STALE_AFTER", 60*time.Second),
			RequeryInterval:      getEnvAsDuration("STATUS_REQUERY_INTERVAL", 30*time.Second),
			AuditRingSize:        getEnvAsInt("AUDIT_RING_SIZE", 1024),
		},
		Admin: AdminConfig{
			Secret: getEnv("ADMIN_SECRET", ""),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Storage != StoragePostgres && cfg.Database.Storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q", StoragePostgres, StorageMemory)
	}
	if cfg.Database.Storage == StoragePostgres && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Gateway.APIKey == "" {
		return nil, fmt.Errorf("GATEWAY_API_KEY is required")
	}
	if cfg.Gateway.SecretKey == "" {
		return nil, fmt.Errorf("GATEWAY_SECRET_KEY is required")
	}
	if cfg.Gateway.CallbackURL == "" {
		return nil, fmt.Errorf("GATEWAY_CALLBACK_URL is required")
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
