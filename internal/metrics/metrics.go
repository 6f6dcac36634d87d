package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for IndexPilot.
type Metrics struct {
	// Submission metrics
	SubmissionsTotal     *prometheus.CounterVec
	PreCheckResultsTotal *prometheus.CounterVec
	URLStatusTotal       *prometheus.CounterVec

	// Queue metrics
	QueueJobsEnqueuedTotal *prometheus.CounterVec
	QueueJobsPoppedTotal   prometheus.Counter
	QueueJobsRequeuedTotal *prometheus.CounterVec
	QueueDepth             prometheus.Gauge
	QueueTickDuration      prometheus.Histogram

	// Method adapter metrics
	MethodAttemptsTotal *prometheus.CounterVec
	MethodDuration      *prometheus.HistogramVec
	RateLimitHitsTotal  *prometheus.CounterVec

	// Probe metrics
	ProbeCallsTotal *prometheus.CounterVec
	ProbeDuration   *prometheus.HistogramVec

	// Credential pool metrics
	CredentialUsageTotal     *prometheus.CounterVec
	CredentialsDisabled      prometheus.Gauge
	CredentialQuotaRemaining prometheus.Gauge

	// Credit metrics
	CreditDebitsTotal  prometheus.Counter
	CreditRefundsTotal *prometheus.CounterVec
	CreditGrantsTotal  *prometheus.CounterVec

	// Sweep metrics
	SweepRunsTotal    *prometheus.CounterVec
	SweepURLsSelected *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec

	// Webhook metrics
	WebhooksTotal   *prometheus.CounterVec
	WebhookDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal        *prometheus.CounterVec
	HTTPRequestDuration      *prometheus.HistogramVec
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// System metrics
	ArchivalRunsTotal    prometheus.Counter
	ArchivalRecordsMoved prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Submission metrics
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_submissions_total",
				Help: "Total number of URLs accepted for submission",
			},
			[]string{"outcome"}, // submitted, pre_indexed, failed
		),
		PreCheckResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_precheck_results_total",
				Help: "Pre-check probe verdicts at submission time",
			},
			[]string{"verdict"},
		),
		URLStatusTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_url_status_transitions_total",
				Help: "URL state machine transitions",
			},
			[]string{"to"},
		),

		// Queue metrics
		QueueJobsEnqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_queue_jobs_enqueued_total",
				Help: "Jobs added to the method queue",
			},
			[]string{"method"},
		),
		QueueJobsPoppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "indexpilot_queue_jobs_popped_total",
				Help: "Jobs popped by queue workers",
			},
		),
		QueueJobsRequeuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_queue_jobs_requeued_total",
				Help: "Jobs pushed back for a later attempt",
			},
			[]string{"reason"}, // rate_limited, url_locked, retry
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexpilot_queue_depth",
				Help: "Current number of jobs in the method queue",
			},
		),
		QueueTickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "indexpilot_queue_tick_duration_seconds",
				Help:    "Time taken to process one queue worker tick",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		),

		// Method adapter metrics
		MethodAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_method_attempts_total",
				Help: "Submission attempts per method",
			},
			[]string{"method", "status"}, // status: success, error
		),
		MethodDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexpilot_method_duration_seconds",
				Help:    "Duration of method adapter calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_rate_limit_hits_total",
				Help: "Method window rejections",
			},
			[]string{"method"},
		),

		// Probe metrics
		ProbeCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_probe_calls_total",
				Help: "Indexation probe calls by probe and verdict",
			},
			[]string{"probe", "verdict"},
		),
		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexpilot_probe_duration_seconds",
				Help:    "Duration of indexation probe calls",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"probe"},
		),

		// Credential pool metrics
		CredentialUsageTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_credential_usage_total",
				Help: "API calls charged against pool credentials",
			},
			[]string{"credential"},
		),
		CredentialsDisabled: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexpilot_credentials_disabled",
				Help: "Number of currently disabled pool credentials",
			},
		),
		CredentialQuotaRemaining: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexpilot_credential_quota_remaining",
				Help: "Total remaining daily quota across active credentials",
			},
		),

		// Credit metrics
		CreditDebitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "indexpilot_credit_debits_total",
				Help: "Credits debited for URL submissions",
			},
		),
		CreditRefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_credit_refunds_total",
				Help: "Credits refunded by reason",
			},
			[]string{"reason"}, // pre_indexed, auto_refund
		),
		CreditGrantsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_credit_grants_total",
				Help: "Credits granted by kind",
			},
			[]string{"kind"}, // purchase, bonus
		),

		// Sweep metrics
		SweepRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_sweep_runs_total",
				Help: "Verification and refund sweep executions",
			},
			[]string{"tier"},
		),
		SweepURLsSelected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_sweep_urls_selected_total",
				Help: "URLs selected by sweeps",
			},
			[]string{"tier"},
		),
		SweepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexpilot_sweep_duration_seconds",
				Help:    "Duration of sweep executions",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"tier"},
		),

		// Webhook metrics
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_webhooks_total",
				Help: "Webhook notification deliveries by outcome",
			},
			[]string{"event_type", "status"}, // status: success, retry, dlq
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexpilot_webhook_duration_seconds",
				Help:    "Duration of webhook deliveries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexpilot_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 15},
			},
			[]string{"method", "route"},
		),
		RateLimitRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpilot_http_rate_limit_rejections_total",
				Help: "Requests rejected by the HTTP rate limiter",
			},
			[]string{"scope"}, // global, per_user, per_ip
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexpilot_db_query_duration_seconds",
				Help:    "Duration of database queries",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexpilot_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		// System metrics
		ArchivalRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "indexpilot_archival_runs_total",
				Help: "Indexing-log archival executions",
			},
		),
		ArchivalRecordsMoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "indexpilot_archival_records_moved_total",
				Help: "Indexing-log rows moved to the archive store",
			},
		),
	}
}

// ObserveMethodAttempt records one method adapter attempt.
func (m *Metrics) ObserveMethodAttempt(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.MethodAttemptsTotal.WithLabelValues(method, status).Inc()
	m.MethodDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveProbe records one indexation probe call.
func (m *Metrics) ObserveProbe(probe, verdict string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProbeCallsTotal.WithLabelValues(probe, verdict).Inc()
	m.ProbeDuration.WithLabelValues(probe).Observe(duration.Seconds())
}

// ObserveWebhook records a webhook delivery outcome.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ObserveSweep records one sweep execution.
func (m *Metrics) ObserveSweep(tier string, selected int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepRunsTotal.WithLabelValues(tier).Inc()
	m.SweepURLsSelected.WithLabelValues(tier).Add(float64(selected))
	m.SweepDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// ObserveDBQuery records a database query duration.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimit records one rate limiter rejection.
func (m *Metrics) ObserveRateLimit(scope string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// ObserveStatusTransition records a URL state machine transition.
func (m *Metrics) ObserveStatusTransition(to string) {
	if m == nil {
		return
	}
	m.URLStatusTotal.WithLabelValues(to).Inc()
}
