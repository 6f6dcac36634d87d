// Package worker drains the method queue. Each tick pops a batch of due jobs
// and runs them through the matching adapter, honoring the per-method rate
// windows and the short per-URL locks.
package worker

import (
	"context"
	"time"

	"github.com/IndexPilot/server/internal/methods"
	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/queue"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

// Options tunes one worker. Zero values fall back to the defaults used in
// production.
type Options struct {
	TickInterval  time.Duration // default 2m
	PopBatchSize  int           // default 50
	URLLockTTL    time.Duration // default 120s
	RateMissDelay time.Duration // default 30s
	LockMissDelay time.Duration // default 15s
}

func (o *Options) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 2 * time.Minute
	}
	if o.PopBatchSize <= 0 {
		o.PopBatchSize = 50
	}
	if o.URLLockTTL <= 0 {
		o.URLLockTTL = 120 * time.Second
	}
	if o.RateMissDelay <= 0 {
		o.RateMissDelay = 30 * time.Second
	}
	if o.LockMissDelay <= 0 {
		o.LockMissDelay = 15 * time.Second
	}
}

// Worker polls the queue and executes submission jobs.
type Worker struct {
	backend  *queue.Backend
	store    storage.Store
	registry methods.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	opts     Options

	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates a queue worker.
func New(backend *queue.Backend, store storage.Store, registry methods.Registry, metricsCollector *metrics.Metrics, logger zerolog.Logger, opts Options) *Worker {
	opts.applyDefaults()
	return &Worker{
		backend:  backend,
		store:    store,
		registry: registry,
		metrics:  metricsCollector,
		logger:   logger,
		opts:     opts,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the polling loop.
func (w *Worker) Start() {
	go w.run()
	w.logger.Info().
		Dur("tick", w.opts.TickInterval).
		Int("batch", w.opts.PopBatchSize).
		Msg("worker.started")
}

// Stop halts the loop and waits for the current tick to finish.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

func (w *Worker) run() {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.Tick(context.Background())
		}
	}
}

// Tick processes one batch of due jobs. Exported so tests and the pending
// sweep can drive the worker without waiting for the ticker.
func (w *Worker) Tick(ctx context.Context) {
	started := time.Now()

	now := time.Now()
	jobs, err := w.backend.Jobs.Pop(ctx, now, w.opts.PopBatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker.pop_failed")
		return
	}
	if w.metrics != nil {
		w.metrics.QueueJobsPoppedTotal.Add(float64(len(jobs)))
	}

	for _, job := range jobs {
		w.process(ctx, job)
	}

	if depth, err := w.backend.Jobs.Depth(ctx); err == nil && w.metrics != nil {
		w.metrics.QueueDepth.Set(float64(depth))
	}
	if w.metrics != nil {
		w.metrics.QueueTickDuration.Observe(time.Since(started).Seconds())
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) {
	logger := w.logger.With().
		Str("url_id", job.URLID).
		Str("method", job.Method).
		Int("attempt", job.Attempt).
		Logger()

	adapter, ok := w.registry[job.Method]
	if !ok || !queue.IsKnownMethod(job.Method) {
		logger.Error().Msg("worker.unknown_method")
		return
	}

	allowed, err := w.backend.Limiter.Allow(ctx, job.Method)
	if err != nil {
		logger.Error().Err(err).Msg("worker.rate_check_failed")
		w.requeue(ctx, job, w.opts.RateMissDelay, "rate_limited")
		return
	}
	if !allowed {
		if w.metrics != nil {
			w.metrics.RateLimitHitsTotal.WithLabelValues(job.Method).Inc()
		}
		w.requeue(ctx, job, w.opts.RateMissDelay, "rate_limited")
		return
	}

	locked, err := w.backend.Locker.TryLock(ctx, job.URLID, w.opts.URLLockTTL)
	if err != nil {
		logger.Error().Err(err).Msg("worker.lock_failed")
		w.requeue(ctx, job, w.opts.LockMissDelay, "url_locked")
		return
	}
	if !locked {
		w.requeue(ctx, job, w.opts.LockMissDelay, "url_locked")
		return
	}
	defer func() {
		if err := w.backend.Locker.Unlock(ctx, job.URLID); err != nil {
			logger.Warn().Err(err).Msg("worker.unlock_failed")
		}
	}()

	w.execute(ctx, job, adapter, logger)
}

func (w *Worker) execute(ctx context.Context, job queue.Job, adapter methods.Adapter, logger zerolog.Logger) {
	url, err := w.store.GetURL(ctx, job.URLID)
	if err != nil {
		if err == storage.ErrNotFound {
			logger.Warn().Msg("worker.url_gone")
			return
		}
		logger.Error().Err(err).Msg("worker.load_url_failed")
		w.retry(ctx, job)
		return
	}
	// Terminal URLs keep their stale jobs out of the adapters
	if url.Status == storage.URLStatusIndexed || url.Status == storage.URLStatusRecredited {
		return
	}

	target := methods.Target{URL: url.Address}
	if project, err := w.store.GetProject(ctx, job.ProjectID); err == nil {
		target.IndexNowKey = project.IndexNowKey
	}

	started := time.Now()
	outcome, err := adapter.Submit(ctx, target)
	duration := time.Since(started)

	result := storage.AttemptResult{
		URLID:        job.URLID,
		Method:       job.Method,
		ResponseCode: outcome.StatusCode,
		ResponseBody: storage.TruncateBody(outcome.Body),
	}

	switch {
	case err != nil:
		result.Status = storage.AttemptError
		result.ResponseBody = storage.TruncateBody(err.Error())
		logger.Warn().Err(err).Msg("worker.attempt_failed")
	case outcome.Success:
		result.Status = storage.AttemptSuccess
	default:
		result.Status = storage.AttemptError
	}

	// Any attempt moves a submitted URL into the pipeline; a successful
	// authoritative submission also starts the verification clock. Promotion
	// is forward-only, so this never demotes an already-verifying URL.
	if result.Status == storage.AttemptSuccess && job.Method == queue.MethodGoogleAPI {
		result.PromoteTo = storage.URLStatusVerifying
	} else {
		result.PromoteTo = storage.URLStatusIndexing
	}

	if w.metrics != nil {
		w.metrics.ObserveMethodAttempt(job.Method, string(result.Status), duration)
	}

	if err := w.store.RecordAttemptResult(ctx, result); err != nil {
		logger.Error().Err(err).Msg("worker.record_failed")
	}
	if result.PromoteTo != "" && w.metrics != nil {
		w.metrics.ObserveStatusTransition(string(result.PromoteTo))
	}

	if result.Status == storage.AttemptError {
		w.retry(ctx, job)
	}
}

// retry pushes the job back with exponential backoff until attempts run out.
func (w *Worker) retry(ctx context.Context, job queue.Job) {
	next := job
	next.Attempt++
	if next.Attempt >= queue.MaxAttempts {
		w.logger.Info().
			Str("url_id", job.URLID).
			Str("method", job.Method).
			Msg("worker.attempts_exhausted")
		return
	}
	// Backoff keys off the attempt that just failed: 5m after the first
	// failure, doubling up to the cap.
	delay := queue.RetryDelay(job.Attempt)
	if err := w.backend.Jobs.Push(ctx, next, time.Now().Add(delay)); err != nil {
		w.logger.Error().Err(err).Str("url_id", job.URLID).Msg("worker.requeue_failed")
		return
	}
	if w.metrics != nil {
		w.metrics.QueueJobsRequeuedTotal.WithLabelValues("retry").Inc()
	}
}

// requeue pushes the job back unchanged after a transient miss.
func (w *Worker) requeue(ctx context.Context, job queue.Job, delay time.Duration, reason string) {
	if err := w.backend.Jobs.Push(ctx, job, time.Now().Add(delay)); err != nil {
		w.logger.Error().Err(err).Str("url_id", job.URLID).Msg("worker.requeue_failed")
		return
	}
	if w.metrics != nil {
		w.metrics.QueueJobsRequeuedTotal.WithLabelValues(reason).Inc()
	}
}
