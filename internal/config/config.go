// Package config loads the gateway configuration from a JSON file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server          ServerConfig          `json:"server"`
	Database        DatabaseConfig        `json:"database"`
	Redis           RedisConfig           `json:"redis"`
	Auth            AuthConfig            `json:"auth"`
	Log             LogConfig             `json:"log"`
	Gateway         GatewayConfig         `json:"gateway"`
	Upstream        UpstreamConfig        `json:"upstream"`
	ConfigStore     ConfigStoreConfig     `json:"config_store"`
	Quota           QuotaConfig           `json:"quota"`
	ClientRateLimit ClientRateLimitConfig `json:"client_rate_limit"`
}

type ServerConfig struct {
	Port            string   `json:"port"`
	Environment     string   `json:"environment"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	IdleTimeout     Duration `json:"idle_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	CORSOrigins     []string `json:"cors_origins"`
}

type DatabaseConfig struct {
	Driver        string   `json:"driver"` // postgres or sqlite
	DSN           string   `json:"dsn"`
	AutoMigrate   bool     `json:"auto_migrate"`
	SlowThreshold Duration `json:"slow_threshold"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Returns host:port, or "" when redis is not configured
func (r RedisConfig) GetRedisAddr() string {
	if r.Host == "" {
		return ""
	}
	if r.Port == "" {
		return r.Host + ":6379"
	}
	return r.Host + ":" + r.Port
}

type AuthConfig struct {
	JWTSecret         string   `json:"jwt_secret"`
	Issuer            string   `json:"issuer"`
	TokenExpiry       Duration `json:"token_expiry"`
	MaxAPIKeysPerUser int64    `json:"max_api_keys_per_user"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or console
}

type GatewayConfig struct {
	UpstreamTimeout  Duration `json:"upstream_timeout"`
	MaxRetries       int      `json:"max_retries"`
	RetryBackoff     Duration `json:"retry_backoff"`
	MaxBackoff       Duration `json:"max_backoff"`
	DefaultMaxTokens int64    `json:"default_max_tokens"`
	CommitTimeout    Duration `json:"commit_timeout"`
	HoldInputFactor  float64  `json:"hold_input_factor"`
}

type UpstreamConfig struct {
	Targets              []string             `json:"targets"`
	APIKey               string               `json:"api_key"`
	CompletionPath       string               `json:"completion_path"`
	LoadBalancerStrategy string               `json:"load_balancer_strategy"`
	CircuitBreaker       CircuitBreakerConfig `json:"circuit_breaker"`
	HealthCheck          HealthCheckConfig    `json:"health_check"`
}

type CircuitBreakerConfig struct {
	MaxFailures     int      `json:"max_failures"`
	Timeout         Duration `json:"timeout"`
	HalfOpenSuccess int      `json:"half_open_success"`
}

type HealthCheckConfig struct {
	Enabled     bool     `json:"enabled"`
	Endpoint    string   `json:"endpoint"`
	Interval    Duration `json:"interval"`
	Timeout     Duration `json:"timeout"`
	MaxFailures int      `json:"max_failures"`
}

type ConfigStoreConfig struct {
	Staleness Duration `json:"staleness"`
}

type QuotaConfig struct {
	JanitorInterval Duration `json:"janitor_interval"`
}

// Per-client limit applied at the HTTP edge before quota enforcement. Needs redis.
type ClientRateLimitConfig struct {
	Enabled           bool     `json:"enabled"`
	Algorithm         string   `json:"algorithm"`
	RequestsPerWindow int      `json:"requests_per_window"`
	Window            Duration `json:"window"`
}

// Default returns a configuration that runs locally against postgres without redis.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "development",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(90 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Driver:        "postgres",
			AutoMigrate:   true,
			SlowThreshold: Duration(200 * time.Millisecond),
		},
		Auth: AuthConfig{
			Issuer:            "llm-gateway",
			TokenExpiry:       Duration(24 * time.Hour),
			MaxAPIKeysPerUser: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Gateway: GatewayConfig{
			UpstreamTimeout:  Duration(60 * time.Second),
			MaxRetries:       2,
			RetryBackoff:     Duration(200 * time.Millisecond),
			MaxBackoff:       Duration(2 * time.Second),
			DefaultMaxTokens: 256,
			CommitTimeout:    Duration(10 * time.Second),
			HoldInputFactor:  1.5,
		},
		Upstream: UpstreamConfig{
			CompletionPath:       "/v1/chat/completions",
			LoadBalancerStrategy: "round-robin",
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:     5,
				Timeout:         Duration(30 * time.Second),
				HalfOpenSuccess: 1,
			},
			HealthCheck: HealthCheckConfig{
				Enabled:     true,
				Endpoint:    "/health",
				Interval:    Duration(10 * time.Second),
				Timeout:     Duration(5 * time.Second),
				MaxFailures: 3,
			},
		},
		ConfigStore: ConfigStoreConfig{
			Staleness: Duration(30 * time.Second),
		},
		Quota: QuotaConfig{
			JanitorInterval: Duration(5 * time.Minute),
		},
		ClientRateLimit: ClientRateLimitConfig{
			Enabled:           true,
			Algorithm:         "fixed_window",
			RequestsPerWindow: 600,
			Window:            Duration(time.Minute),
		},
	}
}

// Load reads path over the defaults, then applies envFiles (".env" when none are
// given) and environment overrides, and validates the result. A missing config
// file or .env file is not an error.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := json.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Environment, "ENVIRONMENT")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Upstream.APIKey, "UPSTREAM_API_KEY")

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		host, port, found := strings.Cut(addr, ":")
		c.Redis.Host = host
		if found {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = db
	}
	if v := os.Getenv("UPSTREAM_TARGETS"); v != "" {
		var targets []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				targets = append(targets, t)
			}
		}
		c.Upstream.Targets = targets
	}
	if v := os.Getenv("UPSTREAM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid UPSTREAM_TIMEOUT %q: %w", v, err)
		}
		c.Gateway.UpstreamTimeout = Duration(d)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required (DATABASE_URL)"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required (JWT_SECRET)"))
	}
	if len(c.Upstream.Targets) == 0 {
		errs = append(errs, errors.New("upstream.targets needs at least one target (UPSTREAM_TARGETS)"))
	}
	if c.Gateway.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("gateway.upstream_timeout must be positive"))
	}
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, errors.New("gateway.max_retries must not be negative"))
	}
	if c.Gateway.HoldInputFactor < 1 {
		errs = append(errs, errors.New("gateway.hold_input_factor must be at least 1"))
	}
	if c.ConfigStore.Staleness <= 0 {
		errs = append(errs, errors.New("config_store.staleness must be positive"))
	}
	if c.ClientRateLimit.Enabled {
		switch c.ClientRateLimit.Algorithm {
		case "fixed_window", "sliding_window", "token_bucket":
		default:
			errs = append(errs, fmt.Errorf("client_rate_limit.algorithm %q is not supported", c.ClientRateLimit.Algorithm))
		}
		if c.ClientRateLimit.RequestsPerWindow <= 0 {
			errs = append(errs, errors.New("client_rate_limit.requests_per_window must be positive"))
		}
		if c.ClientRateLimit.Window < Duration(time.Second) {
			errs = append(errs, errors.New("client_rate_limit.window must be at least 1s"))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Duration reads "1m30s" style strings or whole seconds from JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := json.Unmarshal(b, &seconds); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", b)
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}
