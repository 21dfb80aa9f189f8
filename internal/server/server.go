// Package server builds and runs the service: configuration in, a wired
// application out.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/api"
	"github.com/hireworks/jobsift/internal/ats"
	"github.com/hireworks/jobsift/internal/ats/ashby"
	"github.com/hireworks/jobsift/internal/ats/greenhouse"
	"github.com/hireworks/jobsift/internal/ats/lever"
	"github.com/hireworks/jobsift/internal/ats/smartrecruiters"
	"github.com/hireworks/jobsift/internal/ats/workday"
	"github.com/hireworks/jobsift/internal/block"
	"github.com/hireworks/jobsift/internal/clock/system"
	"github.com/hireworks/jobsift/internal/config"
	"github.com/hireworks/jobsift/internal/discovery"
	"github.com/hireworks/jobsift/internal/discovery/intercept"
	"github.com/hireworks/jobsift/internal/discovery/static"
	"github.com/hireworks/jobsift/internal/dispatcher"
	"github.com/hireworks/jobsift/internal/hash/sha256"
	"github.com/hireworks/jobsift/internal/id/uuid"
	"github.com/hireworks/jobsift/internal/jobs"
	"github.com/hireworks/jobsift/internal/logging"
	"github.com/hireworks/jobsift/internal/metrics"
	"github.com/hireworks/jobsift/internal/pipeline"
	"github.com/hireworks/jobsift/internal/politeness"
	"github.com/hireworks/jobsift/internal/progress"
	progresssinks "github.com/hireworks/jobsift/internal/progress/sinks"
	memorypublisher "github.com/hireworks/jobsift/internal/publisher/memory"
	gcppublisher "github.com/hireworks/jobsift/internal/publisher/pubsub"
	queuememory "github.com/hireworks/jobsift/internal/queue/memory"
	"github.com/hireworks/jobsift/internal/report"
	gcsstorage "github.com/hireworks/jobsift/internal/storage/gcs"
	localstorage "github.com/hireworks/jobsift/internal/storage/local"
	memorystorage "github.com/hireworks/jobsift/internal/storage/memory"
	pgstore "github.com/hireworks/jobsift/internal/storage/postgres"
	"github.com/hireworks/jobsift/internal/store"
	"github.com/hireworks/jobsift/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	progressHub     *progress.Hub
	queue           *queuememory.Queue
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storageClient   *storage.Client
	postingStore    *pgstore.PostingStore
	runRepo         *pgstore.RunRepository
	interceptors    []*intercept.Lister
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application", zap.Int("port", cfg.Server.Port))

	app := &App{cfg: cfg, logger: logger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTP(registry)

	runStore := memorystorage.NewRunStore()

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, app, registry)
	if err != nil {
		return nil, err
	}

	app.queue = queuememory.NewQueue(cfg.Pipeline.QueueDepth)
	app.dispatch, err = setupDispatcher(app, runStore, blobStore, publisher, emitter)
	if err != nil {
		return nil, err
	}

	var progressRepo store.RunRepository
	if app.runRepo != nil {
		progressRepo = app.runRepo
	}
	app.apiServer = api.NewServer(api.Deps{
		RunStore:          runStore,
		Dispatcher:        app.dispatch,
		IDGen:             uuid.New(),
		Clock:             system.New(),
		Config:            *cfg,
		Metrics:           metrics.Handler(registry),
		MetricsMiddleware: httpMetrics.Middleware,
		Progress:          api.NewProgressHandler(progressRepo, logger.Named("progress_api")),
		Logger:            logger.Named("api"),
	})

	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	for _, l := range a.interceptors {
		l.Close()
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.postingStore != nil {
		a.postingStore.Close()
	}
	if a.runRepo != nil {
		a.runRepo.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupStorage(ctx context.Context, app *App) (jobs.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storageClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{
			BaseDir: app.cfg.Storage.Local.BaseDir,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no database DSN configured, postings and progress will not be persisted")
		return nil
	}
	var err error
	app.postingStore, err = pgstore.NewPostingStore(ctx, pgstore.PostingStoreConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.PostingsTable,
		MaxConns:        int32(app.cfg.Database.MaxConns),
		MinConns:        int32(app.cfg.Database.MinConns),
		MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("posting store init failed: %w", err)
	}
	app.logger.Info("posting store initialized", zap.String("table", app.cfg.Database.PostingsTable))
	app.runRepo, err = pgstore.NewRunRepository(ctx, app.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("run repository init failed: %w", err)
	}
	return nil
}

func setupPublisher(ctx context.Context, app *App) (jobs.Publisher, error) {
	if app.cfg.PubSub.Topic == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client.Topic(app.cfg.PubSub.Topic))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return app.pubsubPublisher, nil
}

func setupProgress(ctx context.Context, app *App, registry *prometheus.Registry) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	promSink, err := progresssinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.runRepo != nil {
		sinkList = append(sinkList,
			progresssinks.NewStoreSink(app.runRepo, app.logger.Named("progress_store")))
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList,
			progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

// setupDispatcher builds one complete pipeline component set per worker.
// Monitors and governors are per-worker on purpose: concurrent runs must not
// share block state or request pacing.
func setupDispatcher(
	app *App,
	runStore jobs.RunStore,
	blobStore jobs.BlobStore,
	publisher jobs.Publisher,
	emitter progress.Emitter,
) (*dispatcher.Dispatcher, error) {
	cfg := app.cfg
	hasher := sha256.New()
	clock := system.New()
	retry := jobs.RetryPolicy{
		MaxAttempts: cfg.HTTP.MaxRetries + 1,
		BaseDelay:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}
	reportWriter := report.NewWriter(blobStore, hasher, report.WriterConfig{
		Prefix:      cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	})
	var postings store.PostingWriter
	if app.postingStore != nil {
		postings = app.postingStore
	}
	workerCfg := worker.Config{
		Topic:      cfg.PubSub.Topic,
		RunTimeout: cfg.RunBudget(),
	}

	var workers []*worker.Worker
	for i := 0; i < cfg.Pipeline.Concurrency; i++ {
		log := logging.ForWorker(app.logger, i)

		monitor := block.NewMonitor(log.Named("block"))
		governor := politeness.New(politeness.Config{
			MinInterval:  cfg.MinInterval(),
			Jitter:       cfg.Rate.JitterPct,
			PerHostRPS:   cfg.Rate.PerHostRPS,
			PerHostBurst: cfg.Rate.PerHostBurst,
		})

		apiHelper := ats.NewAPI(ats.APIConfig{
			Timeout:   cfg.HTTPTimeout(),
			UserAgent: cfg.Discovery.UserAgent,
			Observer:  monitor,
			Retry:     retry,
			Logger:    log.Named("ats"),
		})
		registry := ats.NewRegistry(
			greenhouse.New(greenhouse.Config{API: apiHelper, Clock: clock, Logger: log.Named("greenhouse")}),
			lever.New(lever.Config{API: apiHelper, Clock: clock, Logger: log.Named("lever")}),
			ashby.New(ashby.Config{API: apiHelper, Clock: clock, Logger: log.Named("ashby")}),
			workday.New(workday.Config{API: apiHelper, Clock: clock, Hasher: hasher, Logger: log.Named("workday")}),
			smartrecruiters.New(smartrecruiters.Config{API: apiHelper, Clock: clock, Logger: log.Named("smartrecruiters")}),
		)

		staticLister, browserLister, err := buildListers(app, monitor, governor, retry, log)
		if err != nil {
			return nil, err
		}

		orchestrator, err := pipeline.New(pipeline.Config{
			Lister:   staticLister,
			Browser:  browserLister,
			Registry: registry,
			Monitor:  monitor,
			Governor: governor,
			Clock:    clock,
			Emitter:  emitter,
			Logger:   log.Named("pipeline"),
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline init failed: %w", err)
		}

		workers = append(workers, worker.New(
			app.queue,
			runStore,
			orchestrator,
			reportWriter,
			postings,
			publisher,
			clock,
			emitter,
			workerCfg,
			log,
		))
	}
	return dispatcher.New(app.queue, workers), nil
}

// buildListers constructs the per-worker discovery listers. The second
// return is the browser-backed lister runs opt into with their headless
// toggle; it is nil when headless is disabled or the browser fails to start.
func buildListers(
	app *App,
	monitor *block.Monitor,
	governor jobs.Governor,
	retry jobs.RetryPolicy,
	log *zap.Logger,
) (jobs.Lister, jobs.Lister, error) {
	cfg := app.cfg
	staticLister, err := static.New(static.Config{
		BaseURL:   cfg.Discovery.BaseURL,
		UserAgent: cfg.Discovery.UserAgent,
		Timeout:   cfg.DiscoveryTimeout(),
		MaxPages:  cfg.Discovery.MaxPages,
		PageSize:  cfg.Discovery.PageSize,
		Governor:  governor,
		Observer:  monitor,
		Retry:     retry,
		Logger:    log.Named("discovery"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("static lister init failed: %w", err)
	}
	if !cfg.Discovery.Headless.Enabled {
		return staticLister, nil, nil
	}
	browserLister, err := intercept.New(intercept.Config{
		BaseURL:           cfg.Discovery.BaseURL,
		UserAgent:         cfg.Discovery.UserAgent,
		MaxParallel:       cfg.Discovery.Headless.MaxParallel,
		NavigationTimeout: time.Duration(cfg.Discovery.Headless.NavTimeoutSec) * time.Second,
		ScrollRounds:      cfg.Discovery.Headless.ScrollRounds,
		Observer:          monitor,
		Logger:            log.Named("intercept"),
	})
	if err != nil {
		log.Warn("browser lister init failed, continuing static-only", zap.Error(err))
		return staticLister, nil, nil
	}
	app.interceptors = append(app.interceptors, browserLister)
	fallback := discovery.NewFallback(staticLister, browserLister, monitor.Blocked, log.Named("discovery"))
	return staticLister, fallback, nil
}
