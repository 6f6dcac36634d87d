package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

// DelivererOptions tunes the delivery loop.
type DelivererOptions struct {
	PollInterval    time.Duration // default 5s
	BatchSize       int           // default 20
	InitialInterval time.Duration // retry backoff base, default 1m
	MaxInterval     time.Duration // retry backoff cap, default 1h
	Multiplier      float64       // backoff multiplier, default 2.0
}

func (o *DelivererOptions) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = time.Minute
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = time.Hour
	}
	if o.Multiplier <= 1 {
		o.Multiplier = 2.0
	}
}

// Deliverer drains the notification queue and posts webhooks. Failed
// deliveries are rescheduled with exponential backoff until the attempt
// budget runs out; the queue keeps them as dead letters afterwards.
type Deliverer struct {
	store      storage.Store
	breakers   *circuitbreaker.Manager
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	opts       DelivererOptions

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewDeliverer creates a webhook delivery worker.
func NewDeliverer(store storage.Store, breakers *circuitbreaker.Manager, httpClient *http.Client, metricsCollector *metrics.Metrics, logger zerolog.Logger, opts DelivererOptions) *Deliverer {
	opts.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Deliverer{
		store:      store,
		breakers:   breakers,
		httpClient: httpClient,
		metrics:    metricsCollector,
		logger:     logger,
		opts:       opts,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start launches the delivery loop.
func (d *Deliverer) Start() {
	go d.run()
	d.logger.Info().Dur("poll", d.opts.PollInterval).Msg("notify.deliverer_started")
}

// Stop halts the loop and waits for the current batch to finish.
func (d *Deliverer) Stop() {
	close(d.stopChan)
	<-d.doneChan
}

func (d *Deliverer) run() {
	defer close(d.doneChan)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.DeliverBatch(context.Background())
		}
	}
}

// DeliverBatch processes one batch of due notifications. Exported so tests
// can drive the deliverer without the ticker.
func (d *Deliverer) DeliverBatch(ctx context.Context) {
	notifications, err := d.store.DequeueNotifications(ctx, d.opts.BatchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("notify.dequeue_failed")
		return
	}

	for _, notification := range notifications {
		d.deliver(ctx, notification)
	}
}

func (d *Deliverer) deliver(ctx context.Context, notification storage.PendingNotification) {
	logger := d.logger.With().
		Str("notification_id", notification.ID).
		Str("event_type", notification.EventType).
		Int("attempt", notification.Attempts+1).
		Logger()

	if err := d.store.MarkNotificationProcessing(ctx, notification.ID); err != nil {
		logger.Error().Err(err).Msg("notify.mark_processing_failed")
		return
	}

	started := time.Now()
	err := d.post(ctx, notification)
	duration := time.Since(started)

	if err == nil {
		if err := d.store.MarkNotificationSuccess(ctx, notification.ID); err != nil {
			logger.Error().Err(err).Msg("notify.mark_success_failed")
		}
		d.metrics.ObserveWebhook(notification.EventType, "success", duration)
		logger.Info().Msg("notify.delivered")
		return
	}

	attempts := notification.Attempts + 1
	status := "retry"
	if attempts >= notification.MaxAttempts {
		status = "dlq"
	}
	d.metrics.ObserveWebhook(notification.EventType, status, duration)

	nextAttempt := time.Now().Add(d.backoff(attempts))
	if err := d.store.MarkNotificationFailed(ctx, notification.ID, err.Error(), nextAttempt); err != nil {
		logger.Error().Err(err).Msg("notify.mark_failed_failed")
	}
	logger.Warn().Err(err).Str("disposition", status).Msg("notify.delivery_failed")
}

func (d *Deliverer) post(ctx context.Context, notification storage.PendingNotification) error {
	result, err := d.breakers.Execute(circuitbreaker.ServiceWebhook, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, notification.URL, bytes.NewReader(notification.Payload))
		if err != nil {
			return nil, err
		}
		for k, v := range notification.Headers {
			req.Header.Set(k, v)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16)); err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("endpoint returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	_ = result
	return err
}

// backoff returns the delay before the given attempt number retries.
func (d *Deliverer) backoff(attempts int) time.Duration {
	delay := time.Duration(float64(d.opts.InitialInterval) * math.Pow(d.opts.Multiplier, float64(attempts-1)))
	if delay > d.opts.MaxInterval {
		delay = d.opts.MaxInterval
	}
	return delay
}
