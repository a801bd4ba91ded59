package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fitstack/fitstack/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ListenAddr returns the host:port the API server binds to
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// HealthAddr returns the host:port the health/metrics server binds to
func (s ServerConfig) HealthAddr() string {
	return net.JoinHostPort(s.Host, s.HealthPort)
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis configuration for the session store
type RedisConfig struct {
	URL        string
	SessionTTL time.Duration
}

// AuthConfig holds authentication/authorization settings
type AuthConfig struct {
	// SignatureLinkSecret signs public signature-link tokens (HMAC)
	SignatureLinkSecret string
	SignatureLinkTTL    time.Duration

	// LoginRateLimit caps login attempts per client IP per minute
	LoginRateLimit int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("FITSTACK_HOST", "0.0.0.0"),
			Port:            getEnv("FITSTACK_PORT", "8080"),
			ReadTimeout:     getEnvDuration("FITSTACK_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("FITSTACK_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("FITSTACK_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("FITSTACK_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("FITSTACK_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("FITSTACK_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("FITSTACK_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("FITSTACK_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("FITSTACK_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:        getEnv("FITSTACK_REDIS_URL", "redis://localhost:6379/0"),
			SessionTTL: getEnvDuration("FITSTACK_SESSION_TTL", 12*time.Hour),
		},
		Auth: AuthConfig{
			SignatureLinkSecret: getEnv("FITSTACK_SIGNATURE_SECRET", ""),
			SignatureLinkTTL:    getEnvDuration("FITSTACK_SIGNATURE_TTL", 72*time.Hour),
			LoginRateLimit:      getEnvInt("FITSTACK_LOGIN_RATE_LIMIT", 10),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("FITSTACK_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("FITSTACK_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for missing or inconsistent values
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("FITSTACK_POSTGRES_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("FITSTACK_REDIS_URL is required")
	}
	if c.Auth.SignatureLinkSecret == "" {
		return fmt.Errorf("FITSTACK_SIGNATURE_SECRET is required")
	}
	if c.Redis.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.LoginRateLimit <= 0 {
		return fmt.Errorf("login rate limit must be positive")
	}
	return nil
}

// getEnv returns an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
