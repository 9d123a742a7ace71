// Package server builds the importer's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/api"
	"github.com/JakeFAU/catalog-importer/internal/clock/system"
	"github.com/JakeFAU/catalog-importer/internal/config"
	"github.com/JakeFAU/catalog-importer/internal/dispatcher"
	"github.com/JakeFAU/catalog-importer/internal/gateway"
	"github.com/JakeFAU/catalog-importer/internal/id/uuid"
	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/logging"
	"github.com/JakeFAU/catalog-importer/internal/metrics"
	"github.com/JakeFAU/catalog-importer/internal/orchestrator"
	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-importer/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/catalog-importer/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/catalog-importer/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/catalog-importer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-importer/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-importer/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-importer/internal/storage/postgres"
	redisstore "github.com/JakeFAU/catalog-importer/internal/storage/redis"
	"github.com/JakeFAU/catalog-importer/internal/store"
	"github.com/JakeFAU/catalog-importer/internal/webhook"
)

const defaultShutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	apiServer    *api.Server
	gateway      *gateway.Gateway
	dispatch     *dispatcher.Dispatcher
	queue        *queuememory.Queue
	progressHub  *progress.Hub
	webhooks     *webhook.Dispatcher
	progressRepo store.ProgressStore
	memProgress  *memorystorage.ProgressStore
	redisRepo    *redisstore.ProgressStore
	pool         *pgxpool.Pool
	gcs          *gcsstorage.BlobStore
	publisher    *gcppublisher.Publisher
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger Build would create from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer sets where the progress collectors are registered. The
// default is prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies. On error everything opened so
// far is closed again.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (app *App, err error) {
	app = &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(app.logger)
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
			app = nil
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("progress_backend", cfg.Progress.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.Database.DSN != ""),
	)
	metrics.Init()

	if err = setupProgressStore(ctx, app); err != nil {
		return app, err
	}
	catalog, registry, err := setupDatabase(ctx, app)
	if err != nil {
		return app, err
	}
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return app, err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return app, err
	}
	setupWebhooks(app, registry)
	if err = setupProgressHub(app); err != nil {
		return app, err
	}

	imp := importer.New(importer.Config{
		BatchSize: cfg.Importer.BatchSize,
		Strict:    cfg.Importer.Strict,
	}, catalog, app.webhooks, app.logger.Named("importer"))

	app.queue = queuememory.NewQueue(cfg.Importer.QueueDepth)
	orch := orchestrator.New(orchestrator.Config{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		StoragePrefix:  cfg.Storage.Prefix,
		CountFirst:     cfg.Importer.CountFirst,
	}, orchestrator.Deps{
		Store:    app.progressRepo,
		Blobs:    blobs,
		Queue:    app.queue,
		Importer: imp,
		Progress: app.progressHub,
		Notifier: app.webhooks,
		IDs:      uuid.New(),
		Clock:    system.New(),
		Logger:   app.logger.Named("orchestrator"),
	})
	app.dispatch = dispatcher.NewPool(cfg.Importer.Workers, app.queue, orch, app.logger.Named("worker"))
	app.logger.Info("worker pool configured",
		zap.Int("workers", cfg.Importer.Workers),
		zap.Int("queue_depth", cfg.Importer.QueueDepth),
		zap.Int("batch_size", cfg.Importer.BatchSize),
	)

	gw := gateway.New(app.progressRepo, gateway.Config{Heartbeat: cfg.Gateway.Heartbeat}, app.logger.Named("gateway"))
	app.gateway = gw
	app.apiServer = api.NewServer(api.Config{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, api.Deps{
		Submitter: orch,
		Progress:  gw,
		Webhooks:  registry,
		Tester:    app.webhooks,
		Catalog:   catalog,
		Notifier:  app.webhooks,
		Ready:     app.Ready,
	}, app.logger.Named("api"))

	return app, nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Ready pings the network backends in use.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ping postgres: %w", err))
		}
	}
	if a.redisRepo != nil {
		if err := a.redisRepo.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run starts the workers and the HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers get their own context so in-flight imports keep running while
	// the HTTP server drains.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(workerCtx)
	}()

	readHeaderTimeout := a.cfg.Server.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	// Shutdown waits for active connections; progress streams would hold it
	// until the deadline.
	srv.RegisterOnShutdown(a.gateway.Close)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	stopWorkers()
	<-workersDone

	// Webhook drain and store close get a deadline of their own.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), timeout)
	defer cancelDrain()
	closeErr := a.Close(drainCtx)
	select {
	case err := <-serveErr:
		return errors.Join(err, closeErr)
	default:
		return closeErr
	}
}

// Close releases everything Build opened. Call it once the workers have
// stopped.
func (a *App) Close(ctx context.Context) error {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.webhooks != nil {
		if err := a.webhooks.Close(ctx); err != nil {
			a.logger.Warn("webhook dispatcher drain failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redisRepo != nil {
		if err := a.redisRepo.Close(); err != nil {
			a.logger.Warn("redis progress store close failed", zap.Error(err))
		}
	}
	if a.memProgress != nil {
		a.memProgress.Close()
	}
}

func setupProgressStore(ctx context.Context, app *App) error {
	cfg := app.cfg.Progress
	switch cfg.Backend {
	case config.BackendRedis:
		repo, err := redisstore.New(ctx, redisstore.Config{
			URL:              cfg.RedisURL,
			TTL:              cfg.TTL,
			SubscriberBuffer: cfg.SubscriberBuffer,
		}, app.logger.Named("progress_redis"))
		if err != nil {
			return fmt.Errorf("redis progress store init failed: %w", err)
		}
		app.redisRepo = repo
		app.progressRepo = repo
		app.logger.Info("using redis progress store", zap.Duration("ttl", cfg.TTL))
	default:
		repo := memorystorage.NewProgressStore(memorystorage.ProgressStoreConfig{
			SubscriberBuffer: cfg.SubscriberBuffer,
			Retention:        cfg.TTL,
		})
		app.memProgress = repo
		app.progressRepo = repo
		app.logger.Info("using in-memory progress store")
	}
	return nil
}

func setupDatabase(ctx context.Context, app *App) (pipeline.CatalogSink, pipeline.WebhookRegistry, error) {
	cfg := app.cfg.Database
	if cfg.DSN == "" {
		app.logger.Warn("No DSN specified for database, keeping catalog and webhooks in memory")
		return memorystorage.NewCatalog(), memorystorage.NewWebhookRegistry(), nil
	}
	if cfg.Migrate {
		if err := pgstore.RunMigrations(cfg.DSN); err != nil {
			return nil, nil, fmt.Errorf("database migration failed: %w", err)
		}
		app.logger.Info("database migrations applied")
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("database init failed: %w", err)
	}
	app.pool = pool
	catalog, err := pgstore.NewCatalog(pool)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog init failed: %w", err)
	}
	registry, err := pgstore.NewWebhookRegistry(pool)
	if err != nil {
		return nil, nil, fmt.Errorf("webhook registry init failed: %w", err)
	}
	app.logger.Info("postgres catalog initialized", zap.Int32("max_conns", cfg.MaxConns))
	return catalog, registry, nil
}

func setupStorage(ctx context.Context, app *App) (pipeline.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		blobs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcs = blobs
		app.logger.Debug("GCS storage backend", zap.String("bucket", cfg.GCSBucket))
		return blobs, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend")
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", cfg.Local.BaseDir))
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) error {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" {
		app.logger.Info("No Pub/Sub topic configured, events are not mirrored")
		return nil
	}
	publisher, err := gcppublisher.Dial(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = publisher
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return nil
}

func setupWebhooks(app *App, registry pipeline.WebhookRegistry) {
	cfg := app.cfg.Webhooks
	var publisher pipeline.Publisher
	if app.publisher != nil {
		publisher = app.publisher
	}
	app.webhooks = webhook.New(webhook.Config{
		Timeout:       cfg.Timeout,
		BufferSize:    cfg.BufferSize,
		MaxConcurrent: cfg.MaxConcurrent,
		RatePerHost:   cfg.RatePerHost,
		BurstPerHost:  cfg.BurstPerHost,
		Retry: webhook.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Topic: app.cfg.PubSub.TopicName,
	}, registry, publisher, app.logger.Named("webhooks"))
	app.logger.Info("webhook dispatcher initialized",
		zap.Duration("timeout", cfg.Timeout),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.Float64("rate_per_host", cfg.RatePerHost),
	)
}

func setupProgressHub(app *App) error {
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := progress.Config{
		MaxBatchRows: int64(app.cfg.Importer.TickRows),
		MaxBatchWait: app.cfg.Importer.TickInterval,
		Clock:        system.New(),
		Logger:       app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewStoreSink(app.progressRepo, app.logger.Named("progress_store")),
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	)
	app.logger.Info("progress hub initialized",
		zap.Int64("max_batch_rows", hubCfg.MaxBatchRows),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}
