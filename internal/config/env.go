package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use INDEXPILOT_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "INDEXPILOT_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "INDEXPILOT_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "INDEXPILOT_ADMIN_METRICS_API_KEY")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "INDEXPILOT_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "INDEXPILOT_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "INDEXPILOT_ENVIRONMENT")

	// Storage config
	setIfEnv(&c.Storage.Backend, "INDEXPILOT_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "INDEXPILOT_DATABASE_URL")
	setIfEnv(&c.Storage.TablePrefix, "INDEXPILOT_TABLE_PREFIX")
	setBoolIfEnv(&c.Storage.Archival.Enabled, "INDEXPILOT_ARCHIVAL_ENABLED")
	setIfEnv(&c.Storage.Archival.MongoDBURL, "INDEXPILOT_ARCHIVAL_MONGODB_URL")
	setIfEnv(&c.Storage.Archival.MongoDBDatabase, "INDEXPILOT_ARCHIVAL_MONGODB_DATABASE")
	setDurationIfEnv(&c.Storage.Archival.RetentionPeriod, "INDEXPILOT_ARCHIVAL_RETENTION")

	// Queue config
	setIfEnv(&c.Queue.Backend, "INDEXPILOT_QUEUE_BACKEND")
	setIfEnv(&c.Queue.RedisURL, "INDEXPILOT_REDIS_URL")
	setDurationIfEnv(&c.Queue.TickInterval, "INDEXPILOT_QUEUE_TICK_INTERVAL")
	setIntIfEnv(&c.Queue.PopBatchSize, "INDEXPILOT_QUEUE_POP_BATCH_SIZE")
	setDurationIfEnv(&c.Queue.URLLockTTL, "INDEXPILOT_QUEUE_URL_LOCK_TTL")

	// Indexing config
	setIfEnv(&c.Indexing.IndexNowKey, "INDEXPILOT_INDEXNOW_KEY")
	setIfEnv(&c.Indexing.IndexNowKeyLocation, "INDEXPILOT_INDEXNOW_KEY_LOCATION")
	setDurationIfEnv(&c.Indexing.PendingSweepInterval, "INDEXPILOT_PENDING_SWEEP_INTERVAL")
	setIntIfEnv(&c.Indexing.PendingSweepLimit, "INDEXPILOT_PENDING_SWEEP_LIMIT")

	// Probe config
	setIfEnv(&c.Probes.CustomSearchAPIKey, "INDEXPILOT_CUSTOM_SEARCH_API_KEY")
	setIfEnv(&c.Probes.CustomSearchEngineID, "INDEXPILOT_CUSTOM_SEARCH_ENGINE_ID")
	setIfEnv(&c.Probes.GlobalProperty, "INDEXPILOT_GSC_PROPERTY")
	setDurationIfEnv(&c.Probes.PropertyCacheTTL, "INDEXPILOT_PROPERTY_CACHE_TTL")

	// Credits config
	setIntIfEnv(&c.Credits.InitialGrant, "INDEXPILOT_CREDITS_INITIAL_GRANT")
	setDurationIfEnv(&c.Credits.RefundAfter, "INDEXPILOT_CREDITS_REFUND_AFTER")

	// Stripe config
	setIfEnv(&c.Stripe.SecretKey, "INDEXPILOT_STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.WebhookSecret, "INDEXPILOT_STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.SuccessURL, "INDEXPILOT_STRIPE_SUCCESS_URL")
	setIfEnv(&c.Stripe.CancelURL, "INDEXPILOT_STRIPE_CANCEL_URL")
	setIfEnv(&c.Stripe.Mode, "INDEXPILOT_STRIPE_MODE")

	// Notifications config
	if v := os.Getenv("INDEXPILOT_NOTIFY_TIMEOUT"); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			c.Notifications.Timeout = Duration{Duration: dur}
		}
	}
	setIfEnv(&c.Notifications.SMTP.Host, "INDEXPILOT_SMTP_HOST")
	setIntIfEnv(&c.Notifications.SMTP.Port, "INDEXPILOT_SMTP_PORT")
	setIfEnv(&c.Notifications.SMTP.Username, "INDEXPILOT_SMTP_USERNAME")
	setIfEnv(&c.Notifications.SMTP.Password, "INDEXPILOT_SMTP_PASSWORD")
	setIfEnv(&c.Notifications.SMTP.From, "INDEXPILOT_SMTP_FROM")

	// Load notification headers (INDEXPILOT_NOTIFY_HEADER_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "INDEXPILOT_NOTIFY_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "INDEXPILOT_NOTIFY_HEADER_")
		if name == "" {
			continue
		}
		if c.Notifications.Headers == nil {
			c.Notifications.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Notifications.Headers[headerName] = parts[1]
	}

	// API Key config
	setBoolIfEnv(&c.APIKey.Enabled, "INDEXPILOT_API_KEY_ENABLED")
	// Load API keys (INDEXPILOT_API_KEY_<NAME>=<user id>)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "INDEXPILOT_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "INDEXPILOT_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		key := strings.ToLower(name)
		userID := strings.TrimSpace(parts[1])
		c.APIKey.Keys[key] = userID
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	// Ensure it starts with /
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	// Ensure it doesn't end with /
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
