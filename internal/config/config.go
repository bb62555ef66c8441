package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the sticky-bar analytics service.
type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Shopify    ShopifyConfig
	Rollup     RollupConfig
	Cache      CacheConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	// Track/checkout endpoints take storefront traffic and get the high
	// bucket; dashboard reads get the management bucket.
	TrackRPS   float64
	TrackBurst int
	MgmtRPS    float64
	MgmtBurst  int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of ingested events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// ShopifyConfig holds platform-facing settings.
type ShopifyConfig struct {
	// WebhookSecret signs orders/paid deliveries (HMAC-SHA256).
	WebhookSecret string
}

// RollupConfig configures the nightly aggregation job.
type RollupConfig struct {
	Enabled bool
	// Delay after UTC midnight before the run starts, so late events
	// for the closed day have landed.
	Delay       time.Duration
	Concurrency int
}

// CacheConfig configures the Redis response cache for dashboard reads.
type CacheConfig struct {
	TTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("STICKYBAR_HTTP_ADDR", ":8080"),
			Env:             getEnv("STICKYBAR_ENV", "development"),
			ShutdownTimeout: getDurationEnv("STICKYBAR_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("STICKYBAR_PG_HOST", "localhost"),
			Port:     getIntEnv("STICKYBAR_PG_PORT", 5432),
			User:     getEnv("STICKYBAR_PG_USER", "stickybar"),
			Password: getEnv("STICKYBAR_PG_PASSWORD", "stickybar_secret"),
			DBName:   getEnv("STICKYBAR_PG_NAME", "stickybar"),
			SSLMode:  getEnv("STICKYBAR_PG_SSLMODE", "disable"),
			MaxConns: getIntEnv("STICKYBAR_PG_MAX_CONNS", 25),
			MinConns: getIntEnv("STICKYBAR_PG_MIN_CONNS", 5),
		},
		ClickHouse: ClickHouseConfig{
			Addr:     getEnv("STICKYBAR_CH_ADDR", "localhost:9000"),
			Database: getEnv("STICKYBAR_CH_DATABASE", "stickybar"),
			Username: getEnv("STICKYBAR_CH_USERNAME", "default"),
			Password: getEnv("STICKYBAR_CH_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("STICKYBAR_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("STICKYBAR_REDIS_PASSWORD", ""),
			DB:       getIntEnv("STICKYBAR_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("STICKYBAR_AUTH_ENABLED", true),
			MasterKey: getEnv("STICKYBAR_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("STICKYBAR_AUTH_SKIP_PATHS", []string{
				"/health", "/metrics", "/track", "/checkout", "/webhooks/",
			}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("STICKYBAR_RATE_LIMIT_ENABLED", true),
			TrackRPS:   getFloatEnv("STICKYBAR_RATE_LIMIT_TRACK_RPS", 1000),
			TrackBurst: getIntEnv("STICKYBAR_RATE_LIMIT_TRACK_BURST", 200),
			MgmtRPS:    getFloatEnv("STICKYBAR_RATE_LIMIT_MGMT_RPS", 50),
			MgmtBurst:  getIntEnv("STICKYBAR_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("STICKYBAR_LOG_LEVEL", "info"),
			Format: getEnv("STICKYBAR_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("STICKYBAR_METRICS_ENABLED", true),
			Path:    getEnv("STICKYBAR_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("STICKYBAR_GEO_ENABLED", false),
			DatabasePath: getEnv("STICKYBAR_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("STICKYBAR_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("STICKYBAR_GEO_CACHE_TTL", 1*time.Hour),
		},
		Shopify: ShopifyConfig{
			WebhookSecret: getEnv("STICKYBAR_SHOPIFY_WEBHOOK_SECRET", ""),
		},
		Rollup: RollupConfig{
			Enabled:     getBoolEnv("STICKYBAR_ROLLUP_ENABLED", true),
			Delay:       getDurationEnv("STICKYBAR_ROLLUP_DELAY", 15*time.Minute),
			Concurrency: getIntEnv("STICKYBAR_ROLLUP_CONCURRENCY", 4),
		},
		Cache: CacheConfig{
			TTL: getDurationEnv("STICKYBAR_CACHE_TTL", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("STICKYBAR_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Shopify.WebhookSecret == "" && c.IsProduction() {
		return fmt.Errorf("STICKYBAR_SHOPIFY_WEBHOOK_SECRET is required in production")
	}
	if c.Rollup.Concurrency < 1 {
		return fmt.Errorf("STICKYBAR_ROLLUP_CONCURRENCY must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
