// Package queue implements the priority-time method queue that spaces URL
// submissions across channels. Jobs become eligible when their ready time
// passes; per-method fixed windows throttle outbound calls and short URL
// locks keep two workers off the same URL.
package queue

import (
	"context"
	"fmt"
	"time"
)

// Submission methods in dispatch order.
const (
	MethodIndexNow     = "indexnow"
	MethodPingomatic   = "pingomatic"
	MethodWebSub       = "websub"
	MethodArchiveOrg   = "archive_org"
	MethodBacklinkPing = "backlink_pings"
	MethodGoogleAPI    = "google_api"
)

// Methods lists every submission method, cheapest first. The stagger between
// initial delays keeps a burst of new URLs from hitting all channels at once.
var Methods = []string{
	MethodIndexNow,
	MethodPingomatic,
	MethodWebSub,
	MethodArchiveOrg,
	MethodBacklinkPing,
	MethodGoogleAPI,
}

// methodDelays is the initial scheduling offset applied when a URL is
// dispatched. The authoritative API goes last; by then the cheap pings have
// usually warmed the crawl path.
var methodDelays = map[string]time.Duration{
	MethodIndexNow:     0,
	MethodPingomatic:   120 * time.Second,
	MethodWebSub:       240 * time.Second,
	MethodArchiveOrg:   480 * time.Second,
	MethodBacklinkPing: 720 * time.Second,
	MethodGoogleAPI:    1800 * time.Second,
}

// RateWindow is the fixed window length shared by all method limits.
const RateWindow = 60 * time.Second

// methodRateLimits caps calls per method per window. google_api carries no
// window limit here; it is gated by the credential pool quota instead.
var methodRateLimits = map[string]int{
	MethodIndexNow:     100,
	MethodPingomatic:   30,
	MethodWebSub:       30,
	MethodArchiveOrg:   15,
	MethodBacklinkPing: 30,
}

// MethodDelay returns the initial scheduling offset for a method.
func MethodDelay(method string) time.Duration {
	return methodDelays[method]
}

// RateLimit returns the per-window cap for a method. limited is false for
// methods throttled by other means.
func RateLimit(method string) (limit int, limited bool) {
	limit, limited = methodRateLimits[method]
	return limit, limited
}

// IsKnownMethod reports whether the method name is one we dispatch.
func IsKnownMethod(method string) bool {
	_, ok := methodDelays[method]
	return ok
}

const (
	// MaxAttempts caps retries per job; the job is dropped afterwards.
	MaxAttempts = 3

	retryBase = 300 * time.Second
	retryCap  = 3600 * time.Second
)

// RetryDelay returns the exponential backoff for a failed attempt,
// capped at one hour.
func RetryDelay(attempt int) time.Duration {
	delay := retryBase
	for i := 0; i < attempt && delay < retryCap; i++ {
		delay *= 2
	}
	if delay > retryCap {
		delay = retryCap
	}
	return delay
}

// Job is one pending method execution for one URL.
type Job struct {
	URLID     string `json:"url_id"`
	ProjectID string `json:"project_id"`
	Method    string `json:"method"`
	Attempt   int    `json:"attempt"`
}

// JobQueue stores jobs ordered by their ready time. Pop is atomic: two
// concurrent workers never receive the same job.
type JobQueue interface {
	Push(ctx context.Context, job Job, readyAt time.Time) error
	Pop(ctx context.Context, now time.Time, limit int) ([]Job, error)
	Depth(ctx context.Context) (int, error)
	Close() error
}

// Limiter enforces the per-method fixed windows.
type Limiter interface {
	// Allow consumes one slot in the method window. Methods without a window
	// limit always pass.
	Allow(ctx context.Context, method string) (bool, error)
}

// Locker holds short exclusive URL locks so concurrent workers do not hammer
// one URL from several methods at once. Locks expire on their own; the lock
// is a politeness measure, not a correctness requirement.
type Locker interface {
	TryLock(ctx context.Context, urlID string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, urlID string) error
}

// Backend bundles the three queue facets served by one storage system.
type Backend struct {
	Jobs    JobQueue
	Limiter Limiter
	Locker  Locker
}

// Config holds queue backend configuration.
type Config struct {
	Backend     string // "redis", "postgres" or "memory"
	RedisURL    string
	PostgresURL string
	TablePrefix string
	KeyPrefix   string // Redis key namespace (default "indexpilot")
}

// New creates a queue backend from configuration.
func New(cfg Config) (*Backend, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryBackend(), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requires redis_url")
		}
		return NewRedisBackend(cfg.RedisURL, cfg.KeyPrefix)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return NewPostgresBackend(cfg.PostgresURL, cfg.TablePrefix)
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", cfg.Backend)
	}
}
