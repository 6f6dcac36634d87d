package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Storage        StorageConfig        `yaml:"storage"`
	Queue          QueueConfig          `yaml:"queue"`
	Indexing       IndexingConfig       `yaml:"indexing"`
	Probes         ProbesConfig         `yaml:"probes"`
	Verification   VerificationConfig   `yaml:"verification"`
	Credits        CreditsConfig        `yaml:"credits"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	Stripe         StripeConfig         `yaml:"stripe"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint (leave empty to disable protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// StorageConfig holds relational storage configuration.
type StorageConfig struct {
	Backend      string             `yaml:"backend"`       // "postgres" or "memory"
	PostgresURL  string             `yaml:"postgres_url"`  // PostgreSQL connection string
	TablePrefix  string             `yaml:"table_prefix"`  // Optional prefix for all tables (e.g., "ip_")
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"` // PostgreSQL connection pool settings
	Archival     ArchivalConfig     `yaml:"archival"`      // Indexing-log archival configuration
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// ArchivalConfig holds indexing-log archival configuration. Old log rows are
// moved into MongoDB so the hot Postgres table stays small.
type ArchivalConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable automatic archival (default: false)
	RetentionPeriod Duration `yaml:"retention_period"` // How long logs stay in Postgres (default: 90 days)
	RunInterval     Duration `yaml:"run_interval"`     // How often to run archival (default: 24h)
	MongoDBURL      string   `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string   `yaml:"mongodb_database"` // MongoDB database name (default: "indexpilot")
	Collection      string   `yaml:"collection"`       // MongoDB collection name (default: "indexing_logs")
}

// QueueConfig holds submission queue configuration.
type QueueConfig struct {
	Backend       string      `yaml:"backend"`         // "redis", "postgres", or "memory"
	RedisURL      string      `yaml:"redis_url"`       // Redis connection URL (redis://host:port/db)
	TickInterval  Duration    `yaml:"tick_interval"`   // Worker poll interval (default: 2m)
	PopBatchSize  int         `yaml:"pop_batch_size"`  // Jobs popped per tick (default: 50)
	URLLockTTL    Duration    `yaml:"url_lock_ttl"`    // Advisory per-URL lock TTL (default: 120s)
	RateMissDelay Duration    `yaml:"rate_miss_delay"` // Requeue delay when method window is full (default: 30s)
	LockMissDelay Duration    `yaml:"lock_miss_delay"` // Requeue delay when URL lock is held (default: 15s)
	Retry         RetryConfig `yaml:"retry"`
}

// RetryConfig holds retry configuration with exponential backoff.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable retry with exponential backoff (default: true)
	MaxAttempts     int      `yaml:"max_attempts"`     // Maximum attempts per job (default: 3)
	InitialInterval Duration `yaml:"initial_interval"` // Initial backoff interval (default: 5m)
	MaxInterval     Duration `yaml:"max_interval"`     // Maximum backoff interval (default: 1h)
	Multiplier      float64  `yaml:"multiplier"`       // Backoff multiplier (default: 2.0)
}

// IndexingConfig holds submission pipeline configuration.
type IndexingConfig struct {
	IndexNowKey          string   `yaml:"indexnow_key"`           // Default IndexNow key (projects may override)
	IndexNowKeyLocation  string   `yaml:"indexnow_key_location"`  // Default key file URL
	PendingSweepInterval Duration `yaml:"pending_sweep_interval"` // Re-dispatch interval for stuck pending URLs (default: 10m)
	PendingSweepLimit    int      `yaml:"pending_sweep_limit"`    // Max URLs re-dispatched per sweep (default: 200)
	AdapterTimeout       Duration `yaml:"adapter_timeout"`        // HTTP timeout for method adapters (default: 15s)
}

// ProbesConfig holds indexation probe configuration.
type ProbesConfig struct {
	CustomSearchAPIKey   string   `yaml:"custom_search_api_key"`   // Google Custom Search API key
	CustomSearchEngineID string   `yaml:"custom_search_engine_id"` // Custom Search engine (cx) identifier
	GlobalProperty       string   `yaml:"global_property"`         // Optional Search Console property used when a project has no credential
	PropertyCacheTTL     Duration `yaml:"property_cache_ttl"`      // TTL for per-credential property lists (default: 1h)
	Timeout              Duration `yaml:"timeout"`                 // HTTP timeout for probe calls (default: 30s)
}

// VerificationConfig holds tiered sweep configuration.
type VerificationConfig struct {
	FreshInterval  Duration `yaml:"fresh_interval"`  // Fresh sweep interval (default: 1h)
	FreshMaxAge    Duration `yaml:"fresh_max_age"`   // Fresh tier window (default: 6h)
	FreshMinGap    Duration `yaml:"fresh_min_gap"`   // Minimum gap between checks in the fresh tier (default: 50m)
	FreshLimit     int      `yaml:"fresh_limit"`     // Max URLs per fresh sweep (default: 100)
	RecentInterval Duration `yaml:"recent_interval"` // Recent sweep interval (default: 6h)
	AgingInterval  Duration `yaml:"aging_interval"`  // Aging sweep interval (default: 12h)
	StaleAtHour    int      `yaml:"stale_at_hour"`   // UTC hour for the 3-7d sweep (default: 6)
	FinalAtHour    int      `yaml:"final_at_hour"`   // UTC hour for the 7-10d sweep (default: 8)
}

// CreditsConfig holds credit ledger configuration.
type CreditsConfig struct {
	InitialGrant     int      `yaml:"initial_grant"`       // Credits granted to a new user (default: 0)
	RefundAfter      Duration `yaml:"refund_after"`        // Non-indexation window before auto-refund (default: 336h = 14 days)
	SweepAtHour      int      `yaml:"sweep_at_hour"`       // UTC hour for the auto-refund sweep (default: 2)
	QuotaResetAtHour int      `yaml:"quota_reset_at_hour"` // UTC hour for the credential quota reset (default: 0)
}

// NotificationsConfig holds webhook and email notification configuration.
type NotificationsConfig struct {
	Headers      map[string]string `yaml:"headers"`        // Extra headers sent with webhook deliveries
	Timeout      Duration          `yaml:"timeout"`        // Webhook delivery timeout (default: 10s)
	Retry        RetryConfig       `yaml:"retry"`          // Delivery retry configuration
	PollInterval Duration          `yaml:"poll_interval"`  // Delivery queue poll interval (default: 5s)
	DigestAtHour int               `yaml:"digest_at_hour"` // UTC hour for the daily email digest (default: 9)
	SMTP         SMTPConfig        `yaml:"smtp"`
}

// SMTPConfig holds outbound email configuration for the daily digest.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// StripeConfig holds Stripe credit purchase configuration.
type StripeConfig struct {
	SecretKey     string         `yaml:"secret_key"`
	WebhookSecret string         `yaml:"webhook_secret"`
	SuccessURL    string         `yaml:"success_url"`
	CancelURL     string         `yaml:"cancel_url"`
	Packs         map[string]int `yaml:"packs"` // Stripe price ID -> credits granted
	Mode          string         `yaml:"mode"`  // live | test
}

// RateLimitConfig holds HTTP rate limiting configuration.
// Provides multi-tier rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool     `yaml:"global_enabled"` // Enable global rate limiting
	GlobalLimit   int      `yaml:"global_limit"`   // Requests allowed per global window
	GlobalWindow  Duration `yaml:"global_window"`  // Time window for global limit

	// Per-user rate limiting (identified by API key)
	PerUserEnabled bool     `yaml:"per_user_enabled"` // Enable per-user rate limiting
	PerUserLimit   int      `yaml:"per_user_limit"`   // Requests allowed per user per window
	PerUserWindow  Duration `yaml:"per_user_window"`  // Time window for per-user limit

	// Per-IP rate limiting (fallback when user not identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"` // Enable per-IP rate limiting
	PerIPLimit   int      `yaml:"per_ip_limit"`   // Requests allowed per IP per window
	PerIPWindow  Duration `yaml:"per_ip_window"`  // Time window for per-IP limit
}

// APIKeyConfig holds API key authentication configuration.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"` // Enable API key authentication (default: false)
	Keys    map[string]string `yaml:"keys"`    // Map of API key -> user ID
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when external services are degraded.
type CircuitBreakerConfig struct {
	Enabled       bool                 `yaml:"enabled"`        // Enable circuit breakers (default: true)
	GoogleAPI     BreakerServiceConfig `yaml:"google_api"`     // Google indexing API circuit breaker
	SearchConsole BreakerServiceConfig `yaml:"search_console"` // Search Console inspection circuit breaker
	CustomSearch  BreakerServiceConfig `yaml:"custom_search"`  // Custom Search circuit breaker
	PingEndpoints BreakerServiceConfig `yaml:"ping_endpoints"` // IndexNow/WebSub/ping endpoints circuit breaker
	Webhook       BreakerServiceConfig `yaml:"webhook"`        // Webhook delivery circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
