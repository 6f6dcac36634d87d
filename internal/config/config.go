package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "memory",
			Archival: ArchivalConfig{
				RetentionPeriod: Duration{Duration: 90 * 24 * time.Hour},
				RunInterval:     Duration{Duration: 24 * time.Hour},
				MongoDBDatabase: "indexpilot",
				Collection:      "indexing_logs",
			},
		},
		Queue: QueueConfig{
			Backend:       "memory",
			TickInterval:  Duration{Duration: 2 * time.Minute},
			PopBatchSize:  50,
			URLLockTTL:    Duration{Duration: 120 * time.Second},
			RateMissDelay: Duration{Duration: 30 * time.Second},
			LockMissDelay: Duration{Duration: 15 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     3,
				InitialInterval: Duration{Duration: 5 * time.Minute},
				MaxInterval:     Duration{Duration: 1 * time.Hour},
				Multiplier:      2.0,
			},
		},
		Indexing: IndexingConfig{
			PendingSweepInterval: Duration{Duration: 10 * time.Minute},
			PendingSweepLimit:    200,
			AdapterTimeout:       Duration{Duration: 15 * time.Second},
		},
		Probes: ProbesConfig{
			PropertyCacheTTL: Duration{Duration: 1 * time.Hour},
			Timeout:          Duration{Duration: 30 * time.Second},
		},
		Verification: VerificationConfig{
			FreshInterval:  Duration{Duration: 1 * time.Hour},
			FreshMaxAge:    Duration{Duration: 6 * time.Hour},
			FreshMinGap:    Duration{Duration: 50 * time.Minute},
			FreshLimit:     100,
			RecentInterval: Duration{Duration: 6 * time.Hour},
			AgingInterval:  Duration{Duration: 12 * time.Hour},
			StaleAtHour:    6,
			FinalAtHour:    8,
		},
		Credits: CreditsConfig{
			InitialGrant:     0,
			RefundAfter:      Duration{Duration: 14 * 24 * time.Hour},
			SweepAtHour:      2,
			QuotaResetAtHour: 0,
		},
		Notifications: NotificationsConfig{
			Headers:      make(map[string]string),
			Timeout:      Duration{Duration: 10 * time.Second},
			PollInterval: Duration{Duration: 5 * time.Second},
			DigestAtHour: 9,
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
		},
		Stripe: StripeConfig{
			Mode:       "test",
			SuccessURL: "http://localhost:8080/billing/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  "http://localhost:8080/billing/cancel",
			Packs:      make(map[string]int),
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: 1 * time.Minute},
			PerUserEnabled: true,
			PerUserLimit:   60,
			PerUserWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: 1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			GoogleAPI: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			SearchConsole: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			CustomSearch: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			PingEndpoints: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second}, // Ping endpoints are flaky; give them room
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
