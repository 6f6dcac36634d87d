package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/IndexPilot/server/internal/metrics"
	"github.com/rs/zerolog"
)

// ArchivalConfig holds configuration for automatic indexing-log archival.
type ArchivalConfig struct {
	Enabled         bool          // Enable automatic archival (default: false)
	RetentionPeriod time.Duration // How long to keep indexing logs in the hot store (default: 90 days)
	RunInterval     time.Duration // How often to run archival (default: 24 hours)
	BatchSize       int           // Rows moved per batch (default: 500)
}

// DefaultArchivalConfig returns sensible defaults for log archival.
func DefaultArchivalConfig() ArchivalConfig {
	return ArchivalConfig{
		Enabled:         false,
		RetentionPeriod: 90 * 24 * time.Hour,
		RunInterval:     24 * time.Hour,
		BatchSize:       500,
	}
}

// ArchiveSink receives indexing logs removed from the hot store.
type ArchiveSink interface {
	WriteLogs(ctx context.Context, logs []IndexingLog) error
	Close(ctx context.Context) error
}

// ArchivalService moves old indexing logs to cold storage on a schedule.
// The hot store keeps the recent window needed for dashboards and retry
// decisions; everything older lands in the sink.
type ArchivalService struct {
	store    Store
	sink     ArchiveSink
	config   ArchivalConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewArchivalService creates a new archival service.
func NewArchivalService(store Store, sink ArchiveSink, config ArchivalConfig, metricsCollector *metrics.Metrics, logger zerolog.Logger) *ArchivalService {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	return &ArchivalService{
		store:    store,
		sink:     sink,
		config:   config,
		logger:   logger,
		metrics:  metricsCollector,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the archival service background loop.
func (s *ArchivalService) Start() {
	if !s.config.Enabled {
		s.logger.Info().Msg("archival: service disabled")
		close(s.doneChan)
		return
	}

	s.logger.Info().
		Dur("retentionPeriod", s.config.RetentionPeriod).
		Dur("runInterval", s.config.RunInterval).
		Msg("archival: service started")

	go s.run()
}

// Stop gracefully stops the archival service.
func (s *ArchivalService) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info().Msg("archival: service stopped")
}

// run is the main archival loop.
func (s *ArchivalService) run() {
	defer close(s.doneChan)

	// Run immediately on startup
	s.runArchival()

	ticker := time.NewTicker(s.config.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runArchival()
		case <-s.stopChan:
			return
		}
	}
}

// runArchival performs a single archival pass.
func (s *ArchivalService) runArchival() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.config.RetentionPeriod)
	moved, err := s.archiveBatches(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("archival: pass failed")
		return
	}

	if s.metrics != nil {
		s.metrics.ArchivalRunsTotal.Inc()
		s.metrics.ArchivalRecordsMoved.Add(float64(moved))
	}

	if moved > 0 {
		s.logger.Info().
			Int("moved", moved).
			Time("olderThan", cutoff).
			Msg("archival: pass completed")
	}
}

// archiveBatches drains logs older than the cutoff in fixed-size batches.
func (s *ArchivalService) archiveBatches(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for {
		logs, err := s.store.PruneIndexingLogs(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return total, fmt.Errorf("prune indexing logs: %w", err)
		}
		if len(logs) == 0 {
			return total, nil
		}

		if s.sink != nil {
			if err := s.sink.WriteLogs(ctx, logs); err != nil {
				// Rows are already removed from the hot store; surface the
				// error so the operator can replay from backups if needed.
				return total, fmt.Errorf("write archive batch: %w", err)
			}
		}
		total += len(logs)

		if len(logs) < s.config.BatchSize {
			return total, nil
		}
	}
}

// RunNow immediately runs an archival pass (useful for testing or manual triggers).
func (s *ArchivalService) RunNow() error {
	if !s.config.Enabled {
		return fmt.Errorf("archival service is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.config.RetentionPeriod)
	moved, err := s.archiveBatches(ctx, cutoff)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ArchivalRunsTotal.Inc()
		s.metrics.ArchivalRecordsMoved.Add(float64(moved))
	}

	s.logger.Info().Int("moved", moved).Msg("archival: manual pass completed")
	return nil
}
