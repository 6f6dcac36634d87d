// Package indexpilot assembles the full indexation service: storage, queue,
// method adapters, verification sweeps, the credit ledger jobs, and the HTTP
// surface. The cmd/indexd binary is a thin wrapper around this package;
// embedders can construct an App and mount its handler themselves.
package indexpilot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/IndexPilot/server/internal/billing"
	"github.com/IndexPilot/server/internal/circuitbreaker"
	"github.com/IndexPilot/server/internal/config"
	"github.com/IndexPilot/server/internal/credentials"
	"github.com/IndexPilot/server/internal/dbpool"
	"github.com/IndexPilot/server/internal/dispatch"
	"github.com/IndexPilot/server/internal/httpserver"
	"github.com/IndexPilot/server/internal/httputil"
	"github.com/IndexPilot/server/internal/idempotency"
	"github.com/IndexPilot/server/internal/ledger"
	"github.com/IndexPilot/server/internal/lifecycle"
	"github.com/IndexPilot/server/internal/logger"
	"github.com/IndexPilot/server/internal/methods"
	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/notify"
	"github.com/IndexPilot/server/internal/probes"
	"github.com/IndexPilot/server/internal/queue"
	"github.com/IndexPilot/server/internal/scheduler"
	"github.com/IndexPilot/server/internal/sitemaps"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/IndexPilot/server/internal/verify"
	"github.com/IndexPilot/server/internal/worker"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// App wires the IndexPilot components for standalone serving or embedding.
type App struct {
	Config     *config.Config
	Store      storage.Store
	Queue      *queue.Backend
	Dispatcher *dispatch.Dispatcher
	Verifier   *verify.Verifier
	Billing    *billing.Client

	logger          zerolog.Logger
	metrics         *metrics.Metrics
	server          *httpserver.Server
	worker          *worker.Worker
	pendingSweep    *dispatch.PendingSweep
	deliverer       *notify.Deliverer
	scheduler       *scheduler.Scheduler
	archival        *storage.ArchivalService
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store      storage.Store
	backend    *queue.Backend
	prechecker dispatch.Prechecker
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithQueue sets a custom queue backend.
func WithQueue(backend *queue.Backend) Option {
	return func(o *options) {
		o.backend = backend
	}
}

// WithPrechecker overrides the probe chain used for submission pre-checks
// and verification sweeps.
func WithPrechecker(prechecker dispatch.Prechecker) Option {
	return func(o *options) {
		o.prechecker = prechecker
	}
}

// NewApp assembles the service. Nothing is started yet; call Start to launch
// the background loops and the HTTP listener.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("indexpilot: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	app.logger = logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "indexpilot",
		Environment: cfg.Logging.Environment,
	})
	// Each app owns its registry so embedding (and tests) can build several
	// apps in one process without collector collisions.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = metrics.New(registry)

	// Storage and queue share one Postgres pool when both live there.
	var sharedPool *dbpool.SharedPool
	if optState.store != nil {
		app.Store = optState.store
	} else {
		switch cfg.Storage.Backend {
		case "postgres":
			pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
			if err != nil {
				return nil, fmt.Errorf("indexpilot: open postgres pool: %w", err)
			}
			sharedPool = pool
			app.resourceManager.Register("postgres-pool", pool)

			store, err := storage.NewPostgresStoreWithDB(pool.DB(), cfg.Storage.TablePrefix, cfg.Credits.InitialGrant)
			if err != nil {
				return nil, fmt.Errorf("indexpilot: init postgres store: %w", err)
			}
			app.Store = store
		case "memory", "":
			store := storage.NewMemoryStore(cfg.Credits.InitialGrant)
			app.resourceManager.Register("memory-store", store)
			app.Store = store
			app.logger.Warn().Msg("indexpilot: using in-memory store, all data is lost on restart")
		default:
			return nil, fmt.Errorf("indexpilot: unknown storage backend %q", cfg.Storage.Backend)
		}
	}

	if optState.backend != nil {
		app.Queue = optState.backend
	} else if cfg.Queue.Backend == "postgres" && sharedPool != nil {
		backend, err := queue.NewPostgresBackendWithDB(sharedPool.DB(), cfg.Storage.TablePrefix)
		if err != nil {
			return nil, fmt.Errorf("indexpilot: init postgres queue: %w", err)
		}
		app.Queue = backend
	} else {
		backend, err := queue.New(queue.Config{
			Backend:     cfg.Queue.Backend,
			RedisURL:    cfg.Queue.RedisURL,
			PostgresURL: cfg.Storage.PostgresURL,
			TablePrefix: cfg.Storage.TablePrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("indexpilot: init queue: %w", err)
		}
		app.Queue = backend
	}

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	probeClient := httputil.NewClient(cfg.Probes.Timeout.Duration)
	tokens := credentials.NewTokenSource(probeClient, "")
	pool := credentials.NewPool(app.Store, tokens, app.metrics, app.logger)

	var checker dispatch.Prechecker
	if optState.prechecker != nil {
		checker = optState.prechecker
	} else {
		chain := []probes.Probe{
			probes.NewInspectionProbe(pool, breakers, probeClient, cfg.Probes.PropertyCacheTTL.Duration),
		}
		if cfg.Probes.CustomSearchAPIKey != "" && cfg.Probes.CustomSearchEngineID != "" {
			chain = append(chain, probes.NewCustomSearchProbe(
				cfg.Probes.CustomSearchAPIKey, cfg.Probes.CustomSearchEngineID, breakers, probeClient))
		}
		checker = probes.NewChecker(chain, app.metrics, app.logger)
	}

	adapters := methods.NewRegistry(methods.Config{
		IndexNowKey:         cfg.Indexing.IndexNowKey,
		IndexNowKeyLocation: cfg.Indexing.IndexNowKeyLocation,
		Timeout:             cfg.Indexing.AdapterTimeout.Duration,
	}, pool, breakers, nil)

	app.worker = worker.New(app.Queue, app.Store, adapters, app.metrics, app.logger, worker.Options{
		TickInterval:  cfg.Queue.TickInterval.Duration,
		PopBatchSize:  cfg.Queue.PopBatchSize,
		URLLockTTL:    cfg.Queue.URLLockTTL.Duration,
		RateMissDelay: cfg.Queue.RateMissDelay.Duration,
		LockMissDelay: cfg.Queue.LockMissDelay.Duration,
	})

	notifier := notify.NewService(app.Store, cfg.Notifications.Headers, cfg.Notifications.Retry.MaxAttempts, app.logger)
	app.deliverer = notify.NewDeliverer(app.Store, breakers, httputil.NewClient(cfg.Notifications.Timeout.Duration),
		app.metrics, app.logger, notify.DelivererOptions{
			PollInterval:    cfg.Notifications.PollInterval.Duration,
			InitialInterval: cfg.Notifications.Retry.InitialInterval.Duration,
			MaxInterval:     cfg.Notifications.Retry.MaxInterval.Duration,
			Multiplier:      cfg.Notifications.Retry.Multiplier,
		})

	app.Dispatcher = dispatch.New(app.Store, app.Queue, checker, notifier, app.metrics, app.logger)
	app.pendingSweep = dispatch.NewPendingSweep(app.Dispatcher,
		cfg.Indexing.PendingSweepInterval.Duration, cfg.Indexing.PendingSweepLimit)

	app.Verifier = verify.New(app.Store, checker, notifier, app.metrics, app.logger)
	tiers := verify.Tiers(verify.Config{
		FreshMaxAge: cfg.Verification.FreshMaxAge.Duration,
		FreshMinGap: cfg.Verification.FreshMinGap.Duration,
		FreshLimit:  cfg.Verification.FreshLimit,
	})

	refunds := ledger.NewRefundSweeper(app.Store, cfg.Credits.RefundAfter.Duration, app.metrics, app.logger)

	if cfg.Stripe.SecretKey != "" {
		app.Billing = billing.NewClient(cfg.Stripe, app.Store, app.metrics, app.logger)
	}

	if cfg.Storage.Archival.Enabled {
		sink, err := storage.NewMongoArchive(cfg.Storage.Archival.MongoDBURL,
			cfg.Storage.Archival.MongoDBDatabase, cfg.Storage.Archival.Collection)
		if err != nil {
			return nil, fmt.Errorf("indexpilot: init archive sink: %w", err)
		}
		app.resourceManager.RegisterFunc("mongo-archive", func() error {
			return sink.Close(context.Background())
		})
		app.archival = storage.NewArchivalService(app.Store, sink, storage.ArchivalConfig{
			Enabled:         true,
			RetentionPeriod: cfg.Storage.Archival.RetentionPeriod.Duration,
			RunInterval:     cfg.Storage.Archival.RunInterval.Duration,
		}, app.metrics, app.logger)
	}

	app.scheduler = scheduler.New(app.logger)
	app.scheduler.Every("verify-fresh", cfg.Verification.FreshInterval.Duration, func(ctx context.Context) {
		app.Verifier.RunTier(ctx, timeNow(), tiers["fresh"])
	})
	app.scheduler.Every("verify-recent", cfg.Verification.RecentInterval.Duration, func(ctx context.Context) {
		app.Verifier.RunTier(ctx, timeNow(), tiers["recent"])
	})
	app.scheduler.Every("verify-aging", cfg.Verification.AgingInterval.Duration, func(ctx context.Context) {
		app.Verifier.RunTier(ctx, timeNow(), tiers["aging"])
	})
	app.scheduler.DailyAt("verify-stale", cfg.Verification.StaleAtHour, func(ctx context.Context) {
		app.Verifier.RunTier(ctx, timeNow(), tiers["stale"])
	})
	app.scheduler.DailyAt("verify-final", cfg.Verification.FinalAtHour, func(ctx context.Context) {
		app.Verifier.RunTier(ctx, timeNow(), tiers["final"])
	})
	app.scheduler.DailyAt("refund-sweep", cfg.Credits.SweepAtHour, func(ctx context.Context) {
		if _, err := refunds.Run(ctx, timeNow()); err != nil {
			app.logger.Error().Err(err).Msg("indexpilot: refund sweep failed")
		}
	})
	app.scheduler.DailyAt("quota-reset", cfg.Credits.QuotaResetAtHour, func(ctx context.Context) {
		if _, err := pool.ResetAll(ctx, timeNow()); err != nil {
			app.logger.Error().Err(err).Msg("indexpilot: quota reset failed")
		}
	})
	if cfg.Notifications.SMTP.Host != "" {
		digest := notify.NewDigest(app.Store, notify.SMTPConfig{
			Host:     cfg.Notifications.SMTP.Host,
			Port:     cfg.Notifications.SMTP.Port,
			Username: cfg.Notifications.SMTP.Username,
			Password: cfg.Notifications.SMTP.Password,
			From:     cfg.Notifications.SMTP.From,
		}, app.logger)
		app.scheduler.DailyAt("email-digest", cfg.Notifications.DigestAtHour, func(ctx context.Context) {
			if _, err := digest.Run(ctx, timeNow()); err != nil {
				app.logger.Error().Err(err).Msg("indexpilot: digest failed")
			}
		})
	}

	idemStore := idempotency.NewMemoryStore()
	app.resourceManager.RegisterFunc("idempotency-store", func() error {
		idemStore.Stop()
		return nil
	})

	app.server = httpserver.New(cfg, httpserver.Dependencies{
		Store:            app.Store,
		Dispatcher:       app.Dispatcher,
		PendingSweep:     app.pendingSweep,
		Queue:            app.Queue,
		Billing:          app.Billing,
		Sitemaps:         sitemaps.NewDiscovery(nil, app.logger),
		IdempotencyStore: idemStore,
		Metrics:          app.metrics,
		MetricsGatherer:  registry,
		Logger:           app.logger,
	})

	return app, nil
}

// Start launches the background loops and blocks serving HTTP until the
// listener fails or Shutdown is called.
func (a *App) Start() error {
	a.worker.Start()
	a.pendingSweep.Start()
	a.deliverer.Start()
	a.scheduler.Start()
	if a.archival != nil {
		a.archival.Start()
	}

	a.logger.Info().Str("address", a.Config.Server.Address).Msg("indexpilot: serving")
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener first so no new work arrives, then the
// background loops, then the owned resources in reverse order.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)

	if a.archival != nil {
		a.archival.Stop()
	}
	a.scheduler.Stop()
	a.deliverer.Stop()
	a.pendingSweep.Stop()
	a.worker.Stop()

	if closeErr := a.resourceManager.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Handler exposes the HTTP surface for embedding without Start.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() zerolog.Logger {
	return a.logger
}

// AppConfig is an exported alias of the internal configuration struct for
// embedding use.
type AppConfig = config.Config

// LoadConfig wraps the internal loader for embedding consumers.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
