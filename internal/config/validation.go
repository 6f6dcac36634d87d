package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Stripe.Mode == "" {
		c.Stripe.Mode = "test"
	}

	if c.Queue.TickInterval.Duration <= 0 {
		c.Queue.TickInterval = Duration{Duration: 2 * time.Minute}
	}
	if c.Queue.PopBatchSize <= 0 {
		c.Queue.PopBatchSize = 50
	}
	if c.Queue.URLLockTTL.Duration <= 0 {
		c.Queue.URLLockTTL = Duration{Duration: 120 * time.Second}
	}
	if c.Queue.RateMissDelay.Duration <= 0 {
		c.Queue.RateMissDelay = Duration{Duration: 30 * time.Second}
	}
	if c.Queue.LockMissDelay.Duration <= 0 {
		c.Queue.LockMissDelay = Duration{Duration: 15 * time.Second}
	}
	if c.Queue.Retry.MaxAttempts <= 0 {
		c.Queue.Retry.MaxAttempts = 3
	}
	if c.Queue.Retry.InitialInterval.Duration <= 0 {
		c.Queue.Retry.InitialInterval = Duration{Duration: 5 * time.Minute}
	}
	if c.Queue.Retry.MaxInterval.Duration <= 0 {
		c.Queue.Retry.MaxInterval = Duration{Duration: 1 * time.Hour}
	}
	if c.Queue.Retry.Multiplier <= 0 {
		c.Queue.Retry.Multiplier = 2.0
	}

	if c.Indexing.PendingSweepInterval.Duration <= 0 {
		c.Indexing.PendingSweepInterval = Duration{Duration: 10 * time.Minute}
	}
	if c.Indexing.PendingSweepLimit <= 0 {
		c.Indexing.PendingSweepLimit = 200
	}
	if c.Indexing.AdapterTimeout.Duration <= 0 {
		c.Indexing.AdapterTimeout = Duration{Duration: 15 * time.Second}
	}

	if c.Probes.PropertyCacheTTL.Duration <= 0 {
		c.Probes.PropertyCacheTTL = Duration{Duration: 1 * time.Hour}
	}
	if c.Probes.Timeout.Duration <= 0 {
		c.Probes.Timeout = Duration{Duration: 30 * time.Second}
	}

	if c.Verification.FreshLimit <= 0 {
		c.Verification.FreshLimit = 100
	}
	if c.Verification.FreshMaxAge.Duration <= 0 {
		c.Verification.FreshMaxAge = Duration{Duration: 6 * time.Hour}
	}
	if c.Verification.FreshMinGap.Duration <= 0 {
		c.Verification.FreshMinGap = Duration{Duration: 50 * time.Minute}
	}

	if c.Credits.RefundAfter.Duration <= 0 {
		c.Credits.RefundAfter = Duration{Duration: 14 * 24 * time.Hour}
	}

	if c.Notifications.Timeout.Duration <= 0 {
		c.Notifications.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.Notifications.PollInterval.Duration <= 0 {
		c.Notifications.PollInterval = Duration{Duration: 5 * time.Second}
	}
	if c.Notifications.Headers == nil {
		c.Notifications.Headers = make(map[string]string)
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when storage.backend is 'postgres'")
		}
	case "memory", "":
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported (postgres, memory)", c.Storage.Backend))
	}

	switch c.Queue.Backend {
	case "redis":
		if c.Queue.RedisURL == "" {
			errs = append(errs, "queue.redis_url is required when queue.backend is 'redis'")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when queue.backend is 'postgres'")
		}
	case "memory", "":
	default:
		errs = append(errs, fmt.Sprintf("queue.backend %q is not supported (redis, postgres, memory)", c.Queue.Backend))
	}

	if c.Storage.Archival.Enabled && c.Storage.Archival.MongoDBURL == "" {
		errs = append(errs, "storage.archival.mongodb_url is required when archival is enabled")
	}

	if c.Stripe.SecretKey == "" && len(c.Stripe.Packs) > 0 {
		errs = append(errs, "stripe.secret_key is required when stripe.packs are configured")
	}

	if hour := c.Credits.SweepAtHour; hour < 0 || hour > 23 {
		errs = append(errs, "credits.sweep_at_hour must be between 0 and 23")
	}
	if hour := c.Credits.QuotaResetAtHour; hour < 0 || hour > 23 {
		errs = append(errs, "credits.quota_reset_at_hour must be between 0 and 23")
	}
	if hour := c.Verification.StaleAtHour; hour < 0 || hour > 23 {
		errs = append(errs, "verification.stale_at_hour must be between 0 and 23")
	}
	if hour := c.Verification.FinalAtHour; hour < 0 || hour > 23 {
		errs = append(errs, "verification.final_at_hour must be between 0 and 23")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25 // default
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5 // default
	}

	// Validate: maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute // default
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
