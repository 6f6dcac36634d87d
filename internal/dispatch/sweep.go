package dispatch

import (
	"context"
	"time"
)

// PendingSweep re-dispatches URLs stuck in pending, usually after a crash
// between debit and enqueue or a transient queue failure at intake.
type PendingSweep struct {
	dispatcher *Dispatcher
	interval   time.Duration
	limit      int

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewPendingSweep creates the sweep. Zero interval and limit fall back to
// ten minutes and 200 URLs per run.
func NewPendingSweep(dispatcher *Dispatcher, interval time.Duration, limit int) *PendingSweep {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if limit <= 0 {
		limit = 200
	}
	return &PendingSweep{
		dispatcher: dispatcher,
		interval:   interval,
		limit:      limit,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *PendingSweep) Start() {
	go s.run()
	s.dispatcher.logger.Info().Dur("interval", s.interval).Msg("dispatch.pending_sweep_started")
}

// Stop halts the loop and waits for the current run to finish.
func (s *PendingSweep) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *PendingSweep) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce dispatches one batch of pending URLs. Exported for tests and the
// admin surface.
func (s *PendingSweep) RunOnce(ctx context.Context) (dispatched int) {
	urls, err := s.dispatcher.store.ListPendingURLs(ctx, s.limit)
	if err != nil {
		s.dispatcher.logger.Error().Err(err).Msg("dispatch.pending_sweep_query_failed")
		return 0
	}

	for _, url := range urls {
		if err := s.dispatcher.DispatchURL(ctx, url); err != nil {
			s.dispatcher.logger.Warn().Err(err).Str("url_id", url.ID).Msg("dispatch.pending_sweep_retry_failed")
			continue
		}
		dispatched++
	}

	if dispatched > 0 {
		s.dispatcher.logger.Info().Int("dispatched", dispatched).Msg("dispatch.pending_sweep_completed")
	}
	return dispatched
}
