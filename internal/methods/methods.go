// Package methods holds the submission adapters, one per indexing channel.
// Adapters are thin HTTP shims: they report what the remote endpoint said and
// leave retry policy, rate windows and bookkeeping to the queue worker.
package methods

import (
	"context"
	"net/http"
	"time"

	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/credentials"
	"github.com/IndexPilot/server/internal/httputil"
	"github.com/IndexPilot/server/internal/queue"
)

// Target is one URL to submit, with the per-project IndexNow overrides
// already resolved.
type Target struct {
	URL                 string
	IndexNowKey         string
	IndexNowKeyLocation string
}

// Outcome is what the remote endpoint answered. Success reflects the
// endpoint's acceptance of the submission; transport failures surface as
// errors instead.
type Outcome struct {
	Success    bool
	StatusCode int
	Body       string
}

// Adapter submits one URL through one indexing channel.
type Adapter interface {
	Method() string
	Submit(ctx context.Context, target Target) (Outcome, error)
}

// Config carries the adapter defaults from application config.
type Config struct {
	IndexNowKey         string
	IndexNowKeyLocation string
	Timeout             time.Duration
}

// Registry maps method names to their adapters.
type Registry map[string]Adapter

// NewRegistry builds adapters for every known method.
func NewRegistry(cfg Config, pool *credentials.Pool, breakers *circuitbreaker.Manager, httpClient *http.Client) Registry {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = httputil.NewClient(timeout)
	}

	return Registry{
		queue.MethodGoogleAPI:    NewGoogleAPIAdapter(pool, breakers, httpClient),
		queue.MethodIndexNow:     NewIndexNowAdapter(cfg.IndexNowKey, cfg.IndexNowKeyLocation, breakers, httpClient),
		queue.MethodPingomatic:   NewPingomaticAdapter(breakers, httpClient),
		queue.MethodWebSub:       NewWebSubAdapter(breakers, httpClient),
		queue.MethodArchiveOrg:   NewArchiveAdapter(breakers, httpClient),
		queue.MethodBacklinkPing: NewBacklinkAdapter(breakers, httpClient),
	}
}
