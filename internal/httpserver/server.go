// Package httpserver exposes the indexation pipeline over HTTP: submission
// intake, project and URL reads, the credit ledger, Stripe billing, sitemap
// discovery, and the admin surface for the credential pool and queues.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/IndexPilot/server/internal/apikey"
	"github.com/IndexPilot/server/internal/billing"
	"github.com/IndexPilot/server/internal/config"
	"github.com/IndexPilot/server/internal/dispatch"
	"github.com/IndexPilot/server/internal/idempotency"
	"github.com/IndexPilot/server/internal/logger"
	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/queue"
	"github.com/IndexPilot/server/internal/ratelimit"
	"github.com/IndexPilot/server/internal/sitemaps"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/IndexPilot/server/internal/versioning"
)

var serverStartTime = time.Now()

// Dependencies bundles everything the HTTP surface consumes. All fields are
// required except Billing, Sitemaps, and Metrics.
type Dependencies struct {
	Store            storage.Store
	Dispatcher       *dispatch.Dispatcher
	PendingSweep     *dispatch.PendingSweep
	Queue            *queue.Backend
	Billing          *billing.Client
	Sitemaps         *sitemaps.Discovery
	IdempotencyStore idempotency.Store
	Metrics          *metrics.Metrics
	MetricsGatherer  prometheus.Gatherer // Defaults to the global gatherer
	Logger           zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	gatherer   prometheus.Gatherer
	httpServer *http.Server
}

type handlers struct {
	cfg          *config.Config
	store        storage.Store
	dispatcher   *dispatch.Dispatcher
	pendingSweep *dispatch.PendingSweep
	queue        *queue.Backend
	billing      *billing.Client
	sitemaps     *sitemaps.Discovery
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, deps Dependencies) *Server {
	router := chi.NewRouter()

	gatherer := deps.MetricsGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		gatherer: gatherer,
		handlers: handlers{
			cfg:          cfg,
			store:        deps.Store,
			dispatcher:   deps.Dispatcher,
			pendingSweep: deps.PendingSweep,
			queue:        deps.Queue,
			billing:      deps.Billing,
			sitemaps:     deps.Sitemaps,
			metrics:      deps.Metrics,
			logger:       deps.Logger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router, deps.IdempotencyStore)
	return s
}

func (s *Server) configureRouter(router chi.Router, idempotencyStore idempotency.Store) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(versioning.Negotiation)
	router.Use(s.metricsMiddleware)

	// API key auth resolves the caller; Require gates the protected groups
	router.Use(apikey.Middleware(apikey.Config{
		Enabled: cfg.APIKey.Enabled,
		Keys:    cfg.APIKey.Keys,
	}))

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:  cfg.RateLimit.GlobalEnabled,
		GlobalLimit:    cfg.RateLimit.GlobalLimit,
		GlobalWindow:   cfg.RateLimit.GlobalWindow.Duration,
		PerUserEnabled: cfg.RateLimit.PerUserEnabled,
		PerUserLimit:   cfg.RateLimit.PerUserLimit,
		PerUserWindow:  cfg.RateLimit.PerUserWindow.Duration,
		PerIPEnabled:   cfg.RateLimit.PerIPEnabled,
		PerIPLimit:     cfg.RateLimit.PerIPLimit,
		PerIPWindow:    cfg.RateLimit.PerIPWindow.Duration,
		Metrics:        s.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.UserLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", s.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
			Handle(prefix+"/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	})

	idempotencyMW := idempotency.Middleware(idempotencyStore, 24*time.Hour)

	// Stripe webhook stays outside auth: Stripe signs its own requests
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post(prefix+"/webhook/stripe", s.handleStripeWebhook)
	})

	// Authenticated API
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(apikey.Require)

		r.With(idempotencyMW).Post(prefix+"/v1/submissions", s.createSubmission)

		r.Post(prefix+"/v1/projects", s.createProject)
		r.Get(prefix+"/v1/projects", s.listProjects)
		r.Get(prefix+"/v1/projects/{projectID}", s.getProject)
		r.Post(prefix+"/v1/projects/{projectID}/status", s.updateProjectStatus)
		r.Get(prefix+"/v1/projects/{projectID}/urls", s.listProjectURLs)
		r.Get(prefix+"/v1/projects/{projectID}/sitemap.xml", s.projectSitemap)
		r.Get(prefix+"/v1/projects/{projectID}/sitemaps", s.discoverSitemaps)

		r.Get(prefix+"/v1/urls/{urlID}", s.getURL)
		r.Get(prefix+"/v1/urls/{urlID}/logs", s.listURLLogs)

		r.Get(prefix+"/v1/credits", s.getCredits)
		r.Get(prefix+"/v1/credits/transactions", s.listTransactions)

		r.Get(prefix+"/v1/billing/packs", s.listCreditPacks)
		r.With(idempotencyMW).Post(prefix+"/v1/billing/checkout", s.createCheckout)
	})

	// Admin surface
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(apikey.Require)
		r.Use(s.requireAdmin)

		r.Get(prefix+"/v1/admin/credentials", s.listCredentials)
		r.Post(prefix+"/v1/admin/credentials", s.createCredential)
		r.Delete(prefix+"/v1/admin/credentials/{credentialID}", s.deleteCredential)
		r.Post(prefix+"/v1/admin/credentials/{credentialID}/disable", s.disableCredential)
		r.Post(prefix+"/v1/admin/credentials/reset", s.resetCredentials)

		r.Get(prefix+"/v1/admin/queue", s.queueStats)
		r.Post(prefix+"/v1/admin/sweeps/pending", s.runPendingSweep)

		r.Get(prefix+"/v1/admin/notifications", s.listNotifications)
		r.Post(prefix+"/v1/admin/notifications/{notificationID}/retry", s.retryNotification)
	})
}

// Handler exposes the configured router, mainly for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
