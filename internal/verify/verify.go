// Package verify runs the tiered indexation sweeps. Young URLs are checked
// often, old ones rarely; the tier windows overlap the whole 10-day
// observation period so every submitted URL keeps getting looked at until it
// is confirmed, written off, or refunded.
package verify

import (
	"context"
	"time"

	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/probes"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

// Checker answers whether a URL is present in the index.
type Checker interface {
	Check(ctx context.Context, rawURL string) probes.Result
}

// Notifier announces freshly confirmed indexations.
type Notifier interface {
	NotifyIndexed(ctx context.Context, url storage.URL) error
}

// Tier is one sweep band over the URL population.
type Tier struct {
	Name   string
	Window storage.VerificationWindow
}

// sweepStatuses are the states worth re-checking. Terminal states and
// pending URLs are excluded; not_indexed stays in because a later check may
// still find the page (the verdict is a snapshot, not a sentence).
var sweepStatuses = []storage.URLStatus{
	storage.URLStatusSubmitted,
	storage.URLStatusIndexing,
	storage.URLStatusVerifying,
	storage.URLStatusNotIndexed,
}

// Config carries the tier tuning knobs.
type Config struct {
	FreshMaxAge time.Duration // default 6h
	FreshMinGap time.Duration // default 50m
	FreshLimit  int           // default 100
}

func (c *Config) applyDefaults() {
	if c.FreshMaxAge <= 0 {
		c.FreshMaxAge = 6 * time.Hour
	}
	if c.FreshMinGap <= 0 {
		c.FreshMinGap = 50 * time.Minute
	}
	if c.FreshLimit <= 0 {
		c.FreshLimit = 100
	}
}

// Tiers builds the five sweep bands. The fresh band carries a check-gap and a
// batch limit because it runs hourly over the busiest slice.
func Tiers(cfg Config) map[string]Tier {
	cfg.applyDefaults()
	return map[string]Tier{
		"fresh": {
			Name: "fresh",
			Window: storage.VerificationWindow{
				MaxAge:   cfg.FreshMaxAge,
				MinGap:   cfg.FreshMinGap,
				Limit:    cfg.FreshLimit,
				Statuses: sweepStatuses,
			},
		},
		"recent": {
			Name: "recent",
			Window: storage.VerificationWindow{
				MinAge:   6 * time.Hour,
				MaxAge:   24 * time.Hour,
				Statuses: sweepStatuses,
			},
		},
		"aging": {
			Name: "aging",
			Window: storage.VerificationWindow{
				MinAge:   24 * time.Hour,
				MaxAge:   72 * time.Hour,
				Statuses: sweepStatuses,
			},
		},
		"stale": {
			Name: "stale",
			Window: storage.VerificationWindow{
				MinAge:   72 * time.Hour,
				MaxAge:   7 * 24 * time.Hour,
				Statuses: sweepStatuses,
			},
		},
		"final": {
			Name: "final",
			Window: storage.VerificationWindow{
				MinAge:   7 * 24 * time.Hour,
				MaxAge:   10 * 24 * time.Hour,
				Statuses: sweepStatuses,
			},
		},
	}
}

// Verifier executes sweep tiers against the probe chain.
type Verifier struct {
	store    storage.Store
	checker  Checker
	notifier Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a verifier. The notifier is optional.
func New(store storage.Store, checker Checker, notifier Notifier, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Verifier {
	return &Verifier{
		store:    store,
		checker:  checker,
		notifier: notifier,
		metrics:  metricsCollector,
		logger:   logger,
	}
}

// RunTier checks every candidate in the tier's window. A failing URL never
// stops the sweep; each check stands alone. Returns the number of URLs
// confirmed indexed by this run.
func (v *Verifier) RunTier(ctx context.Context, now time.Time, tier Tier) (confirmed int) {
	started := time.Now()

	candidates, err := v.store.SelectVerificationCandidates(ctx, now, tier.Window)
	if err != nil {
		v.logger.Error().Err(err).Str("tier", tier.Name).Msg("verify.select_failed")
		return 0
	}

	for _, url := range candidates {
		if v.checkOne(ctx, now, url) {
			confirmed++
		}
	}

	v.metrics.ObserveSweep(tier.Name, len(candidates), time.Since(started))
	v.logger.Info().
		Str("tier", tier.Name).
		Int("checked", len(candidates)).
		Int("confirmed", confirmed).
		Msg("verify.sweep_completed")
	return confirmed
}

func (v *Verifier) checkOne(ctx context.Context, now time.Time, url storage.URL) bool {
	result := v.checker.Check(ctx, url.Address)

	check := storage.CheckResult{
		URLID:       url.ID,
		Verdict:     string(result.Verdict),
		CheckMethod: result.Probe,
		Title:       result.Title,
		Snippet:     result.Snippet,
		CheckedAt:   now,
	}
	// Each check moves an unresolved URL one step along the pipeline, so a
	// URL reaches verifying only after two sweeps have seen it.
	switch url.Status {
	case storage.URLStatusSubmitted:
		check.PromoteTo = storage.URLStatusIndexing
	case storage.URLStatusIndexing:
		check.PromoteTo = storage.URLStatusVerifying
	}

	if err := v.store.RecordCheckResult(ctx, check); err != nil {
		v.logger.Error().Err(err).Str("url_id", url.ID).Msg("verify.record_failed")
		return false
	}

	if result.Verdict != probes.VerdictYes {
		return false
	}

	if v.metrics != nil {
		v.metrics.ObserveStatusTransition(string(storage.URLStatusIndexed))
	}
	if v.notifier != nil {
		// Candidates are never already indexed, so this transition is fresh
		// and the notification fires exactly once per URL.
		updated, err := v.store.GetURL(ctx, url.ID)
		if err == nil {
			if err := v.notifier.NotifyIndexed(ctx, updated); err != nil {
				v.logger.Warn().Err(err).Str("url_id", url.ID).Msg("verify.notify_failed")
			}
		}
	}
	return true
}
