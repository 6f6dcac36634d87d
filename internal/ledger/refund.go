// Package ledger holds the credit policy jobs that run against the store.
// The submission debit and the pre-check refund live inside storage's atomic
// operations; this package drives the time-based policy on top of them.
package ledger

import (
	"context"
	"time"

	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

// RefundDescription is the ledger text attached to policy refunds.
const RefundDescription = "Auto-refund: URL not indexed after 14 days"

// RefundSweeper returns the credit for URLs that never reached the index
// within the policy window. Runs once a day.
type RefundSweeper struct {
	store   storage.Store
	window  time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRefundSweeper creates the sweeper. A zero window falls back to 14 days.
func NewRefundSweeper(store storage.Store, window time.Duration, metricsCollector *metrics.Metrics, logger zerolog.Logger) *RefundSweeper {
	if window <= 0 {
		window = 14 * 24 * time.Hour
	}
	return &RefundSweeper{
		store:   store,
		window:  window,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Run refunds every eligible URL submitted before now minus the window.
// Each refund is independent; one failure never blocks the rest. Returns the
// number of credits handed back.
func (s *RefundSweeper) Run(ctx context.Context, now time.Time) (refunded int, err error) {
	started := time.Now()

	candidates, err := s.store.SelectRefundCandidates(ctx, now.Add(-s.window))
	if err != nil {
		return 0, err
	}

	owners := make(map[string]string) // project ID -> user ID
	for _, url := range candidates {
		userID, ok := owners[url.ProjectID]
		if !ok {
			project, err := s.store.GetProject(ctx, url.ProjectID)
			if err != nil {
				s.logger.Error().Err(err).Str("url_id", url.ID).Msg("refund.project_lookup_failed")
				continue
			}
			userID = project.UserID
			owners[url.ProjectID] = userID
		}

		err := s.store.RefundURL(ctx, userID, url.ID, RefundDescription, true)
		switch err {
		case nil:
			refunded++
			if s.metrics != nil {
				s.metrics.CreditRefundsTotal.WithLabelValues("auto_refund").Inc()
				s.metrics.ObserveStatusTransition(string(storage.URLStatusRecredited))
			}
		case storage.ErrAlreadyRefunded, storage.ErrURLIndexed:
			// Lost the race against a late indexation or a concurrent sweep
		default:
			s.logger.Error().Err(err).Str("url_id", url.ID).Msg("refund.failed")
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveSweep("refund", len(candidates), time.Since(started))
	}
	s.logger.Info().
		Int("candidates", len(candidates)).
		Int("refunded", refunded).
		Msg("refund.sweep_completed")
	return refunded, nil
}
