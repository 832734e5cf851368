package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func requiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("UPSTREAM_TARGETS", "http://a:9000, http://b:9000,")
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	requiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("UPSTREAM_TIMEOUT", "5s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "cache:6380", cfg.Redis.GetRedisAddr())
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, []string{"http://a:9000", "http://b:9000"}, cfg.Upstream.Targets)
	assert.Equal(t, 5*time.Second, cfg.Gateway.UpstreamTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.ConfigStore.Staleness.Std())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	requiredEnv(t)
	path := writeFile(t, "config.json", `{
		"server": {"port": "7000", "environment": "production"},
		"gateway": {"upstream_timeout": "45s", "max_retries": 4, "retry_backoff": 0.5},
		"upstream": {"load_balancer_strategy": "least-connections", "circuit_breaker": {"max_failures": 2, "timeout": "1m"}},
		"client_rate_limit": {"algorithm": "sliding_window", "requests_per_window": 30}
	}`)

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 45*time.Second, cfg.Gateway.UpstreamTimeout.Std())
	assert.Equal(t, 4, cfg.Gateway.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Gateway.RetryBackoff.Std())
	assert.Equal(t, "least-connections", cfg.Upstream.LoadBalancerStrategy)
	assert.Equal(t, 2, cfg.Upstream.CircuitBreaker.MaxFailures)
	assert.Equal(t, time.Minute, cfg.Upstream.CircuitBreaker.Timeout.Std())
	assert.Equal(t, "sliding_window", cfg.ClientRateLimit.Algorithm)
	assert.Equal(t, time.Minute, cfg.ClientRateLimit.Window.Std())
	// untouched keys keep their defaults
	assert.Equal(t, int64(256), cfg.Gateway.DefaultMaxTokens)
}

func TestLoad_EnvFile(t *testing.T) {
	requiredEnv(t)
	envFile := writeFile(t, ".env", "LOG_LEVEL=debug\nUPSTREAM_API_KEY=sk-test\n")
	t.Cleanup(func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("UPSTREAM_API_KEY")
	})

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sk-test", cfg.Upstream.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("UPSTREAM_TARGETS", "")

	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "upstream.targets")

	requiredEnv(t)
	path := writeFile(t, "bad.json", `{"gateway": {"upstream_timeout": "soon"}}`)
	_, err = Load(path, filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	path = writeFile(t, "bad.json", `{"client_rate_limit": {"algorithm": "leaky"}}`)
	_, err = Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaky")

	t.Setenv("REDIS_DB", "two")
	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestRedisAddr(t *testing.T) {
	assert.Equal(t, "", RedisConfig{}.GetRedisAddr())
	assert.Equal(t, "cache:6379", RedisConfig{Host: "cache"}.GetRedisAddr())
}

func TestValidate_HoldInputFactor(t *testing.T) {
	requiredEnv(t)
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.Gateway.HoldInputFactor)

	cfg.Gateway.HoldInputFactor = 0.5
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hold_input_factor")
}
