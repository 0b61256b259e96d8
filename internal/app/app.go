// Package app assembles the extraction service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/api"
	"github.com/shopharvest/crawler/internal/clock/system"
	"github.com/shopharvest/crawler/internal/config"
	"github.com/shopharvest/crawler/internal/engine"
	"github.com/shopharvest/crawler/internal/extract"
	"github.com/shopharvest/crawler/internal/id/uuid"
	"github.com/shopharvest/crawler/internal/identity"
	"github.com/shopharvest/crawler/internal/logging"
	"github.com/shopharvest/crawler/internal/pipeline"
	"github.com/shopharvest/crawler/internal/queue"
	"github.com/shopharvest/crawler/internal/ratelimit"
	"github.com/shopharvest/crawler/internal/records"
	"github.com/shopharvest/crawler/internal/retry"
	"github.com/shopharvest/crawler/internal/sinks"
	"github.com/shopharvest/crawler/internal/storage"
	gcsstorage "github.com/shopharvest/crawler/internal/storage/gcs"
	memorystorage "github.com/shopharvest/crawler/internal/storage/memory"
	pgstore "github.com/shopharvest/crawler/internal/storage/postgres"
	"github.com/shopharvest/crawler/internal/worker"
)

// App contains the service's wired dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	queue        *queue.Queue
	pool         *worker.Pool
	coordinator  *pipeline.Coordinator
	hub          *sinks.Hub
	apiServer    *api.Server
	recordStore  records.Store
	gcsClient    *gcsclient.Client
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{cfg: cfg, logger: logger}
	clock := system.New()

	snapshots, err := a.setupSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.setupRecordStore(ctx); err != nil {
		return nil, err
	}
	if err := a.setupHub(ctx); err != nil {
		return nil, err
	}

	strategy, err := identity.ParseStrategy(cfg.Identity.Strategy)
	if err != nil {
		return nil, err
	}
	rotator, err := identity.New(identity.Config{
		Proxies:          cfg.Identity.Proxies,
		UserAgents:       cfg.Identity.UserAgents,
		Strategy:         strategy,
		StickyInterval:   time.Duration(cfg.Identity.StickyIntervalSeconds) * time.Second,
		FailureThreshold: cfg.Identity.FailureThreshold,
		Cooldown:         time.Duration(cfg.Identity.CooldownSeconds) * time.Second,
	}, clock)
	if err != nil {
		return nil, fmt.Errorf("identity pool init failed: %w", err)
	}
	logger.Info("identity pool initialized",
		zap.Int("size", rotator.Size()),
		zap.String("strategy", string(strategy)),
	)

	classes := make(map[string]ratelimit.ClassConfig, len(cfg.RateLimits))
	for name, rc := range cfg.RateLimits {
		classes[name] = ratelimit.ClassConfig{RPS: rc.RPS, Burst: rc.Burst}
	}
	limiter := ratelimit.New(ratelimit.Config{Classes: classes})

	retrier := retry.New(retry.Config{
		MaxRetries:           cfg.Retry.MaxRetries,
		BaseDelay:            time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:             time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		BackoffFactor:        cfg.Retry.BackoffFactor,
		JitterFraction:       cfg.Retry.JitterFraction,
		RetryableStatusCodes: cfg.Retry.RetryableStatusCodes,
	})

	executor := extract.NewExecutor(
		extract.NewFetcher(),
		snapshots,
		extract.Config{MaxReviewPages: cfg.Reviews.MaxPages},
		logger.Named("extract"),
	)

	a.queue = queue.New(clock)
	recs := records.New(a.recordStore, clock, logger.Named("records"))
	a.pool = worker.New(
		a.queue,
		limiter,
		rotator,
		retrier,
		executor,
		a.hub,
		recs,
		clock,
		worker.Config{
			Workers:        cfg.Crawler.Workers,
			RequestTimeout: cfg.RequestTimeout(),
			StallProbe:     cfg.StallProbe(),
		},
		logger.Named("worker"),
	)

	categories := make([]engine.Target, 0, len(cfg.Targets.Categories))
	for _, u := range cfg.Targets.Categories {
		categories = append(categories, engine.Target{URL: u})
	}
	a.coordinator = pipeline.New(
		a.queue,
		uuid.New(),
		clock,
		a.hub,
		pipeline.Config{
			Categories:       categories,
			AbortFailureRate: cfg.Crawler.AbortFailureRate,
		},
		logger.Named("pipeline"),
	)

	a.apiServer = api.NewServer(a.coordinator.Report, logger.Named("api"))
	return a, nil
}

// Run executes the pipeline while serving the operational endpoints, then
// shuts everything down. The returned report reflects the run's final state.
func (a *App) Run(ctx context.Context) (engine.RunReport, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	poolDone := make(chan struct{})
	go func() {
		a.pool.Run(runCtx)
		close(poolDone)
	}()

	report, err := a.coordinator.Run(runCtx)

	a.queue.Close()
	cancel()
	<-poolDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if srv != nil {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
	}
	a.close(shutdownCtx)
	return report, err
}

func (a *App) close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("sink hub close failed", zap.Error(err))
		}
	}
	if a.recordStore != nil {
		a.recordStore.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
}

func (a *App) setupSnapshots(ctx context.Context) (storage.SnapshotStore, error) {
	if a.cfg.Storage.GCSBucket == "" {
		a.logger.Info("no snapshot bucket configured, raw pages are not archived")
		return storage.NoopSnapshots{}, nil
	}
	client, err := gcsclient.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	store, err := gcsstorage.New(client, gcsstorage.Config{
		Bucket: a.cfg.Storage.GCSBucket,
		Prefix: a.cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
	}
	a.logger.Info("snapshot archiving enabled", zap.String("bucket", a.cfg.Storage.GCSBucket))
	return store, nil
}

func (a *App) setupRecordStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, records are kept in memory")
		a.recordStore = memorystorage.NewRecordStore()
		return nil
	}
	store, err := pgstore.New(ctx, a.cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	a.recordStore = store
	a.logger.Info("postgres record store initialized")
	return nil
}

func (a *App) setupHub(ctx context.Context) error {
	sinkList := []engine.Sink{
		sinks.NewLogSink(a.logger.Named("attempts")),
	}

	prom, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, prom)

	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubTopic = client.Topic(a.cfg.PubSub.TopicName)
		ps, err := sinks.NewPubSubSink(a.pubsubTopic)
		if err != nil {
			return fmt.Errorf("pubsub sink init failed: %w", err)
		}
		sinkList = append(sinkList, ps)
		a.logger.Info("pubsub sink initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}

	a.hub = sinks.NewHub(sinks.HubConfig{Logger: a.logger.Named("sinks")}, sinkList...)
	return nil
}
