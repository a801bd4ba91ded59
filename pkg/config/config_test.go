package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("FITSTACK_POSTGRES_URL", "postgres://localhost/fitstack_test")
	t.Setenv("FITSTACK_SIGNATURE_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.ListenAddr())
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HealthAddr())
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 12*time.Hour, cfg.Redis.SessionTTL)
	assert.Equal(t, 72*time.Hour, cfg.Auth.SignatureLinkTTL)
	assert.Equal(t, 10, cfg.Auth.LoginRateLimit)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("FITSTACK_POSTGRES_URL", "postgres://localhost/fitstack_test")
	t.Setenv("FITSTACK_SIGNATURE_SECRET", "test-secret")
	t.Setenv("FITSTACK_PORT", "9000")
	t.Setenv("FITSTACK_SESSION_TTL", "1h")
	t.Setenv("FITSTACK_LOGIN_RATE_LIMIT", "3")
	t.Setenv("FITSTACK_METRICS_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Redis.SessionTTL)
	assert.Equal(t, 3, cfg.Auth.LoginRateLimit)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{URL: "postgres://localhost/fitstack"},
			Redis:    RedisConfig{URL: "redis://localhost:6379/0", SessionTTL: time.Hour},
			Auth:     AuthConfig{SignatureLinkSecret: "secret", LoginRateLimit: 10},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing postgres url", func(c *Config) { c.Database.URL = "" }, "FITSTACK_POSTGRES_URL"},
		{"missing redis url", func(c *Config) { c.Redis.URL = "" }, "FITSTACK_REDIS_URL"},
		{"missing signature secret", func(c *Config) { c.Auth.SignatureLinkSecret = "" }, "FITSTACK_SIGNATURE_SECRET"},
		{"zero session ttl", func(c *Config) { c.Redis.SessionTTL = 0 }, "session TTL"},
		{"zero rate limit", func(c *Config) { c.Auth.LoginRateLimit = 0 }, "rate limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, valid().Validate())
}
