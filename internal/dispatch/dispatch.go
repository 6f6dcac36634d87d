// Package dispatch turns accepted submissions into queued method jobs. Each
// URL costs one credit up front; a pre-check against the index short-circuits
// URLs that are already indexed and hands the credit straight back.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/probes"
	"github.com/IndexPilot/server/internal/queue"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

// Prechecker answers whether a URL is already present in the index.
type Prechecker interface {
	Check(ctx context.Context, rawURL string) probes.Result
}

// Notifier announces freshly confirmed indexations.
type Notifier interface {
	NotifyIndexed(ctx context.Context, url storage.URL) error
}

// Dispatcher owns the submission pipeline between intake and the queue.
type Dispatcher struct {
	store      storage.Store
	backend    *queue.Backend
	prechecker Prechecker
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New creates a dispatcher. The prechecker and notifier are optional; a nil
// prechecker skips the short-circuit and submits everything.
func New(store storage.Store, backend *queue.Backend, prechecker Prechecker, notifier Notifier, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		backend:    backend,
		prechecker: prechecker,
		notifier:   notifier,
		metrics:    metricsCollector,
		logger:     logger,
	}
}

// Submit records a batch of URLs for a project, debits one credit per URL,
// and dispatches them. The debit is all-or-nothing; a short balance rejects
// the whole batch with storage.ErrInsufficientCredits. Dispatch failures
// leave URLs pending for the sweep to retry.
func (d *Dispatcher) Submit(ctx context.Context, userID, projectID string, addresses []string) ([]storage.URL, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("dispatch: empty url list")
	}

	urls := make([]storage.URL, 0, len(addresses))
	ids := make([]string, 0, len(addresses))
	for _, address := range addresses {
		id := uuid.NewString()
		urls = append(urls, storage.URL{
			ID:        id,
			ProjectID: projectID,
			Address:   address,
			Status:    storage.URLStatusPending,
		})
		ids = append(ids, id)
	}

	if err := d.store.CreateURLs(ctx, urls); err != nil {
		return nil, fmt.Errorf("dispatch: create urls: %w", err)
	}
	if err := d.store.DebitForURLs(ctx, userID, ids, "URL submission"); err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.CreditDebitsTotal.Add(float64(len(ids)))
	}

	for i := range urls {
		if err := d.DispatchURL(ctx, urls[i]); err != nil {
			d.logger.Warn().Err(err).Str("url_id", urls[i].ID).Msg("dispatch.deferred")
		}
	}

	return urls, nil
}

// DispatchURL runs the pre-check and either closes the URL out as already
// indexed or enqueues the full method fan-out. Pre-check failures are treated
// as unknown: submission proceeds.
func (d *Dispatcher) DispatchURL(ctx context.Context, url storage.URL) error {
	if d.prechecker != nil {
		result := d.prechecker.Check(ctx, url.Address)
		if d.metrics != nil {
			d.metrics.PreCheckResultsTotal.WithLabelValues(string(result.Verdict)).Inc()
		}
		if result.Verdict == probes.VerdictYes {
			return d.closeOutPreIndexed(ctx, url, result)
		}
	}

	now := time.Now()
	if err := d.store.MarkURLSubmitted(ctx, url.ID, now); err != nil {
		return fmt.Errorf("dispatch: mark submitted %s: %w", url.ID, err)
	}

	for _, method := range queue.Methods {
		job := queue.Job{URLID: url.ID, ProjectID: url.ProjectID, Method: method}
		if err := d.backend.Jobs.Push(ctx, job, now.Add(queue.MethodDelay(method))); err != nil {
			return fmt.Errorf("dispatch: enqueue %s for %s: %w", method, url.ID, err)
		}
		if d.metrics != nil {
			d.metrics.QueueJobsEnqueuedTotal.WithLabelValues(method).Inc()
		}
	}

	if d.metrics != nil {
		d.metrics.SubmissionsTotal.WithLabelValues("submitted").Inc()
	}
	d.logger.Info().
		Str("url_id", url.ID).
		Str("address", url.Address).
		Msg("dispatch.submitted")
	return nil
}

func (d *Dispatcher) closeOutPreIndexed(ctx context.Context, url storage.URL, result probes.Result) error {
	refunded, err := d.store.MarkAlreadyIndexed(ctx, url.ID, time.Now(), result.Title, result.Snippet, result.Probe)
	if err != nil {
		return fmt.Errorf("dispatch: mark pre-indexed %s: %w", url.ID, err)
	}
	if d.metrics != nil {
		d.metrics.SubmissionsTotal.WithLabelValues("pre_indexed").Inc()
		if refunded {
			d.metrics.CreditRefundsTotal.WithLabelValues("pre_indexed").Inc()
		}
	}

	if d.notifier != nil {
		updated, err := d.store.GetURL(ctx, url.ID)
		if err == nil {
			if err := d.notifier.NotifyIndexed(ctx, updated); err != nil {
				d.logger.Warn().Err(err).Str("url_id", url.ID).Msg("dispatch.notify_failed")
			}
		}
	}

	d.logger.Info().
		Str("url_id", url.ID).
		Str("address", url.Address).
		Bool("refunded", refunded).
		Msg("dispatch.pre_indexed")
	return nil
}
