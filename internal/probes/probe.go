// Package probes answers one question through several channels of decreasing
// authority: is this URL present in the search index? The authoritative
// Search Console inspection runs first, the best-effort Custom Search lookup
// second, and the fallback closes the chain without ever guessing.
package probes

import (
	"context"
	"time"

	"github.com/IndexPilot/server/internal/metrics"
	"github.com/rs/zerolog"
)

// Verdict is a probe's answer.
type Verdict string

const (
	VerdictYes     Verdict = "yes"
	VerdictNo      Verdict = "no"
	VerdictUnknown Verdict = "unknown"
)

// Result is one probe outcome. Title and Snippet carry index evidence when
// the probe saw the page in results.
type Result struct {
	Verdict Verdict
	Probe   string // Which probe produced the verdict
	Title   string
	Snippet string
}

// Probe checks a single URL against one evidence source. Implementations
// return VerdictUnknown rather than an error for "cannot tell" conditions;
// errors are reserved for transport and auth failures.
type Probe interface {
	Name() string
	Check(ctx context.Context, rawURL string) (Result, error)
}

// Checker runs probes in order of authority and returns the first definite
// verdict. A failing probe falls through to the next; the chain ends at
// unknown, never at a guess.
type Checker struct {
	probes  []Probe
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewChecker creates a checker over the given probes, most authoritative first.
func NewChecker(probes []Probe, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Checker {
	return &Checker{
		probes:  probes,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Check returns the first non-unknown verdict across the probe chain.
func (c *Checker) Check(ctx context.Context, rawURL string) Result {
	for _, probe := range c.probes {
		start := time.Now()
		result, err := probe.Check(ctx, rawURL)
		if err != nil {
			c.metrics.ObserveProbe(probe.Name(), "error", time.Since(start))
			c.logger.Warn().
				Err(err).
				Str("probe", probe.Name()).
				Str("url", rawURL).
				Msg("probe.failed")
			continue
		}
		c.metrics.ObserveProbe(probe.Name(), string(result.Verdict), time.Since(start))
		if result.Verdict != VerdictUnknown {
			return result
		}
	}
	return Result{Verdict: VerdictUnknown, Probe: "fallback"}
}
