// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverHTTP     = "http"
	DriverPostgres = "postgres"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Navigation    NavigationConfig    `yaml:"navigation"`
	Search        SearchConfig        `yaml:"search"`
	Backend       BackendConfig       `yaml:"backend"`
	Checkout      CheckoutConfig      `yaml:"checkout"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes how shopper sessions are issued and verified.
// Session tokens are HMAC signed with the secret read from SigningKeyEnv.
// When JWKSURL is set, RS256/ES256 tokens from that identity provider are
// accepted as well.
type IdentityConfig struct {
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	SigningKeyEnv string        `yaml:"signing_key_env"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	JWKSURL       string        `yaml:"jwks_url"`
	JWKSCacheTTL  time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms    []string      `yaml:"algorithms"`

	// SigningKey is resolved from SigningKeyEnv at load time.
	SigningKey string `yaml:"-"`
}

// CatalogConfig describes where to find catalog definition YAML files.
type CatalogConfig struct {
	Directories []string `yaml:"directories"`
	HotReload   bool     `yaml:"hot_reload"`
}

// NavigationConfig describes navigation session settings.
type NavigationConfig struct {
	Store      StoreConfig   `yaml:"store"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// StoreConfig selects a storage driver.
type StoreConfig struct {
	Driver    string `yaml:"driver"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SearchConfig describes search settings.
type SearchConfig struct {
	MinQueryLength  int           `yaml:"min_query_length"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
	SuggestionLimit int           `yaml:"suggestion_limit"`
	Debounce        time.Duration `yaml:"debounce"`
	RecentLimit     int           `yaml:"recent_limit"`
	RecentStore     StoreConfig   `yaml:"recent_store"`
	Trending        []string      `yaml:"trending"`
}

// BackendConfig describes the external backend that owns accounts, profiles,
// carts, and orders.
type BackendConfig struct {
	Driver               string               `yaml:"driver"`
	BaseURL              string               `yaml:"base_url"`
	APIKeyEnv            string               `yaml:"api_key_env"`
	SpecFile             string               `yaml:"spec_file"`
	Timeout              time.Duration        `yaml:"timeout"`
	WatchInterval        time.Duration        `yaml:"watch_interval"`
	MaxRequestsPerSecond int                  `yaml:"max_requests_per_second"`
	PasswordCost         int                  `yaml:"password_cost"`
	CircuitBreaker       CircuitBreakerConfig `yaml:"circuit_breaker"`

	// APIKey is resolved from APIKeyEnv at load time.
	APIKey string `yaml:"-"`
}

// CircuitBreakerConfig describes circuit breaker settings for the backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// CheckoutConfig describes order placement settings.
type CheckoutConfig struct {
	AdditionalFee float64           `yaml:"additional_fee"`
	Idempotency   IdempotencyConfig `yaml:"idempotency"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"`
	TTL     time.Duration `yaml:"ttl"`
}

// RedisConfig describes the shared Redis connection.
type RedisConfig struct {
	AddrEnv  string `yaml:"addr_env"`
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`
}

// PostgresConfig describes the Postgres connection used by the postgres
// backend driver.
type PostgresConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RateLimitConfig limits authentication attempts per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			Issuer:        "storefront",
			Audience:      "storefront-web",
			SigningKeyEnv: "STOREFRONT_SESSION_KEY",
			SessionTTL:    24 * time.Hour,
			JWKSCacheTTL:  1 * time.Hour,
			Algorithms:    []string{"HS256"},
		},
		Catalog: CatalogConfig{
			Directories: []string{"/definitions"},
			HotReload:   true,
		},
		Navigation: NavigationConfig{
			Store:      StoreConfig{Driver: DriverMemory, KeyPrefix: "storefront:nav:"},
			SessionTTL: 30 * time.Minute,
		},
		Search: SearchConfig{
			MinQueryLength:  1,
			DefaultPageSize: 20,
			MaxPageSize:     50,
			SuggestionLimit: 8,
			Debounce:        300 * time.Millisecond,
			RecentLimit:     5,
			RecentStore:     StoreConfig{Driver: DriverMemory, KeyPrefix: "storefront:recent:"},
			Trending:        []string{"T-Shirts", "Jeans", "Sneakers", "Dresses", "Jackets"},
		},
		Backend: BackendConfig{
			Driver:        DriverMemory,
			Timeout:       10 * time.Second,
			WatchInterval: 2 * time.Second,
			PasswordCost:  10,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Checkout: CheckoutConfig{
			AdditionalFee: 50,
			Idempotency: IdempotencyConfig{
				Enabled: true,
				Driver:  DriverMemory,
				TTL:     24 * time.Hour,
			},
		},
		Redis: RedisConfig{
			AddrEnv: "STOREFRONT_REDIS_ADDR",
			Addr:    "localhost:6379",
		},
		Postgres: PostgresConfig{
			DSNEnv:          "STOREFRONT_POSTGRES_DSN",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1,
			Burst:             10,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// resolves secrets, and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	resolveSecrets(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if c.Identity.SigningKey == "" && c.Identity.JWKSURL == "" {
		errs = append(errs, fmt.Sprintf("identity: %s or identity.jwks_url is required", c.Identity.SigningKeyEnv))
	}
	if len(c.Catalog.Directories) == 0 {
		errs = append(errs, "catalog.directories must not be empty")
	}
	if !oneOf(c.Navigation.Store.Driver, DriverMemory, DriverRedis) {
		errs = append(errs, fmt.Sprintf("navigation.store.driver %q is not supported", c.Navigation.Store.Driver))
	}
	if !oneOf(c.Search.RecentStore.Driver, DriverMemory, DriverRedis) {
		errs = append(errs, fmt.Sprintf("search.recent_store.driver %q is not supported", c.Search.RecentStore.Driver))
	}
	if c.Search.Debounce < 0 {
		errs = append(errs, "search.debounce must not be negative")
	}
	if c.Search.SuggestionLimit < 1 {
		errs = append(errs, "search.suggestion_limit must be at least 1")
	}
	if !oneOf(c.Backend.Driver, DriverMemory, DriverHTTP, DriverPostgres) {
		errs = append(errs, fmt.Sprintf("backend.driver %q is not supported", c.Backend.Driver))
	}
	if c.Backend.Driver == DriverHTTP && c.Backend.SpecFile == "" {
		errs = append(errs, "backend.spec_file is required for the http driver")
	}
	if c.Backend.MaxRequestsPerSecond < 0 {
		errs = append(errs, "backend.max_requests_per_second must not be negative")
	}
	if c.Checkout.AdditionalFee < 0 {
		errs = append(errs, "checkout.additional_fee must not be negative")
	}
	if c.Checkout.Idempotency.Enabled && !oneOf(c.Checkout.Idempotency.Driver, DriverMemory, DriverRedis) {
		errs = append(errs, fmt.Sprintf("checkout.idempotency.driver %q is not supported", c.Checkout.Idempotency.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// applyEnvOverrides reads STOREFRONT_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOREFRONT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STOREFRONT_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("STOREFRONT_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("STOREFRONT_BACKEND_DRIVER"); v != "" {
		cfg.Backend.Driver = v
	}
	if v := os.Getenv("STOREFRONT_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("STOREFRONT_NAVIGATION_STORE"); v != "" {
		cfg.Navigation.Store.Driver = v
	}
	if v := os.Getenv("STOREFRONT_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("STOREFRONT_CATALOG_DIRS"); v != "" {
		cfg.Catalog.Directories = strings.Split(v, ",")
	}
}

func resolveSecrets(cfg *Config) {
	if cfg.Identity.SigningKeyEnv != "" {
		cfg.Identity.SigningKey = os.Getenv(cfg.Identity.SigningKeyEnv)
	}
	if cfg.Backend.APIKeyEnv != "" {
		cfg.Backend.APIKey = os.Getenv(cfg.Backend.APIKeyEnv)
	}
	if cfg.Redis.AddrEnv != "" {
		if v := os.Getenv(cfg.Redis.AddrEnv); v != "" {
			cfg.Redis.Addr = v
		}
	}
	cfg.Redis.Password = os.Getenv("STOREFRONT_REDIS_PASSWORD")
}

// PostgresDSN returns the Postgres connection string from the configured
// environment variable.
func (c *Config) PostgresDSN() string {
	if c.Postgres.DSNEnv == "" {
		return ""
	}
	return os.Getenv(c.Postgres.DSNEnv)
}
