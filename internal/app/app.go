// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/archive"
	"github.com/JakeFAU/evidence-crawler/internal/clock/system"
	"github.com/JakeFAU/evidence-crawler/internal/config"
	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/dispatcher"
	"github.com/JakeFAU/evidence-crawler/internal/evidence"
	collyfetcher "github.com/JakeFAU/evidence-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/evidence-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/evidence-crawler/internal/hash/sha256"
	"github.com/JakeFAU/evidence-crawler/internal/headless/detector"
	"github.com/JakeFAU/evidence-crawler/internal/id/uuid"
	"github.com/JakeFAU/evidence-crawler/internal/logging"
	"github.com/JakeFAU/evidence-crawler/internal/metrics"
	"github.com/JakeFAU/evidence-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/evidence-crawler/internal/progress"
	"github.com/JakeFAU/evidence-crawler/internal/progress/sinks"
	"github.com/JakeFAU/evidence-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/evidence-crawler/internal/registry"
	"github.com/JakeFAU/evidence-crawler/internal/search"
	"github.com/JakeFAU/evidence-crawler/internal/service"
	"github.com/JakeFAU/evidence-crawler/internal/sitecrawl"
	"github.com/JakeFAU/evidence-crawler/internal/storage/gcs"
	"github.com/JakeFAU/evidence-crawler/internal/storage/local"
	"github.com/JakeFAU/evidence-crawler/internal/storage/memory"
	"github.com/JakeFAU/evidence-crawler/internal/storage/postgres"
	"github.com/JakeFAU/evidence-crawler/internal/telemetry"
	"github.com/JakeFAU/evidence-crawler/internal/walker"
)

// closer is one resource released by Close, in reverse creation order.
type closer struct {
	name  string
	close func() error
}

// App holds the shared, long-lived services. It is built once at startup
// and closed when the command finishes.
type App struct {
	config   config.Config
	logger   *zap.Logger
	registry *registry.Registry
	service  *service.Service

	closers    []closer
	logCleanup func()
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.config
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry returns the loaded site registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Service returns the request layer used by the CLI and the HTTP API.
func (a *App) Service() *service.Service {
	return a.service
}

// New builds every component from cfg. It fails fast when a configured
// backend cannot be initialized; resources created before the failure are
// released.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, logCleanup, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{config: cfg, logger: logger, logCleanup: logCleanup}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	metrics.Init()
	if err := a.initTracing(ctx); err != nil {
		return nil, err
	}
	a.registry = loadRegistry(cfg.Registry, logger)

	store, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	var archiver *archive.Archiver
	if store != nil {
		prefix := cfg.Storage.Prefix
		if cfg.Storage.Backend == config.StorageGCS {
			// The GCS store applies the prefix itself.
			prefix = ""
		}
		archiver, err = archive.New(store, sha256.New(), system.New(), archive.Config{
			Prefix:      prefix,
			ContentType: cfg.Storage.ContentType,
		})
		if err != nil {
			return nil, fmt.Errorf("init archiver: %w", err)
		}
	}

	attempts, err := a.buildAttemptStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	tracker, err := a.buildProgress()
	if err != nil {
		return nil, err
	}
	launcher, err := a.buildLauncher()
	if err != nil {
		return nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       config.Seconds(cfg.Crawler.StaticTimeoutSeconds),
		MaxBodySize:   cfg.Crawler.MaxBodyBytes,
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitRPS,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
		PerDomain:    cfg.Crawler.RateLimitPerDomain,
	})

	static := sitecrawl.NewStaticFetcher(
		fetcher,
		detector.NewShellDetector(cfg.Crawler.ShellThreshold),
		limiter,
		sitecrawl.StaticConfig{
			Pages:   cfg.Crawler.StaticPages,
			Timeout: config.Seconds(cfg.Crawler.StaticTimeoutSeconds),
		},
		logger.Named("static"),
	)
	dynamic := sitecrawl.NewDynamicFetcher(launcher, sitecrawl.DynamicConfig{
		Pages:      cfg.Headless.Pages,
		ResultWait: config.Seconds(cfg.Headless.ResultWaitSeconds),
		ClickWait:  config.Seconds(cfg.Headless.ClickWaitSeconds),
		Settle:     settle(cfg.Headless.SettleMillis),
	}, logger.Named("dynamic"))

	deps := service.Deps{
		Crawler: dispatcher.New(a.registry, static, dynamic, dispatcher.Config{
			DynamicParallel: cfg.Headless.MaxParallel,
			Progress:        tracker,
		}, logger.Named("dispatcher")),
		Searcher: search.New(fetcher, optionalArchiver(archiver), limiter, search.Config{
			Timeout:         config.Seconds(cfg.Search.TimeoutSeconds),
			MaxResults:      cfg.Search.MaxResults,
			Language:        cfg.Search.Language,
			UserAgent:       cfg.Search.UserAgent,
			SaveResultPages: cfg.Search.SaveResultPages,
		}, logger.Named("search")),
		Walker: walker.New(fetcher, optionalArchiver(archiver), limiter, walker.Config{
			MaxPages:    cfg.Walker.MaxPages,
			VisitBudget: cfg.Walker.VisitBudget,
			Timeout:     config.Seconds(cfg.Walker.TimeoutSeconds),
		}, logger.Named("walker")),
		Extractor: evidence.New(fetcher, optionalArchiver(archiver), evidence.Config{
			MaxResults: cfg.Evidence.MaxResults,
			Timeout:    config.Seconds(cfg.Evidence.TimeoutSeconds),
		}, logger.Named("evidence")),
		Catalog:   a.registry,
		IDs:       uuid.New(),
		Clock:     system.New(),
		Attempts:  attempts,
		Publisher: publisher,
		Progress:  tracker,
	}
	a.service, err = service.New(deps, service.Config{Topic: cfg.PubSub.TopicName}, logger.Named("service"))
	if err != nil {
		return nil, fmt.Errorf("init service: %w", err)
	}

	logger.Info("application services initialized",
		zap.Strings("categories", a.registry.Categories()),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("attempt_store", attempts != nil),
		zap.Bool("publisher", publisher != nil),
		zap.Bool("progress", tracker != nil),
		zap.Bool("tracing", cfg.Tracing.Enabled),
	)
	return a, nil
}

// Close releases every resource in reverse creation order and flushes the
// logger. It returns the joined close errors.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing resource", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	if a.logCleanup != nil {
		a.logCleanup()
		a.logCleanup = nil
	}
	return errors.Join(errs...)
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// loadRegistry never fails: a missing or unreadable registry leaves the
// service running with no categories.
func loadRegistry(cfg config.RegistryConfig, logger *zap.Logger) *registry.Registry {
	reg, err := registry.Load(cfg.Path, cfg.DefaultCategory, logger.Named("registry"))
	if err != nil {
		logger.Warn("site registry unavailable, continuing with no categories",
			zap.String("path", cfg.Path),
			zap.Error(err),
		)
		return registry.New(cfg.DefaultCategory, logger.Named("registry"))
	}
	return reg
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.config.Storage
	switch cfg.Backend {
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		a.addCloser("local storage", store.Close)
		return store, nil
	case config.StorageGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.addCloser("gcs", store.Close)
		return store, nil
	case config.StorageMemory:
		return memory.NewBlobStore(), nil
	case config.StorageNone:
		a.logger.Info("page archiving disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) buildAttemptStore(ctx context.Context) (crawler.AttemptStore, error) {
	cfg := a.config.DB
	if cfg.DSN == "" {
		return nil, nil
	}
	store, err := postgres.NewAttemptStore(ctx, postgres.Config{
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: config.Seconds(cfg.MaxConnLifetimeSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("init attempt store: %w", err)
	}
	a.addCloser("postgres", func() error {
		store.Close()
		return nil
	})
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("migrate attempt store: %w", err)
		}
	}
	return store, nil
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	cfg := a.config.PubSub
	if cfg.ProjectID == "" {
		return nil, nil
	}
	pub, err := pubsub.Open(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init pubsub: %w", err)
	}
	a.addCloser("pubsub", pub.Close)
	return pub, nil
}

// initTracing installs the global tracer provider used by the HTTP
// middleware. Disabled tracing leaves the no-op provider in place.
func (a *App) initTracing(ctx context.Context) error {
	cfg := a.config.Tracing
	if !cfg.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		SampleRatio: cfg.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.addCloser("tracing", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})
	return nil
}

// buildProgress starts the progress hub feeding the debug log and the
// Prometheus collectors. It returns nil when progress is disabled.
func (a *App) buildProgress() (progress.Emitter, error) {
	cfg := a.config.Progress
	if !cfg.Enabled {
		return nil, nil
	}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.MaxBatchWaitMS) * time.Millisecond,
		Logger:         a.logger.Named("progress"),
	}, sinks.NewLogSink(a.logger.Named("progress")), promSink)
	a.addCloser("progress", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hub.Close(ctx)
	})
	return hub, nil
}

func (a *App) buildLauncher() (crawler.BrowserLauncher, error) {
	cfg := a.config.Headless
	if !cfg.Enabled {
		a.logger.Info("headless browser disabled, dynamic sites will return no results")
		return headless.NewNoop(), nil
	}
	launcher, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.MaxParallel,
		UserAgent:         a.config.Crawler.UserAgent,
		NavigationTimeout: config.Seconds(cfg.NavTimeoutSec),
		NoSandbox:         cfg.NoSandbox,
		ExecPath:          cfg.ExecPath,
	}, a.logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("init headless launcher: %w", err)
	}
	return launcher, nil
}

type saver interface {
	Save(ctx context.Context, kind, sourceURL string, body []byte) (string, error)
}

// optionalArchiver keeps a nil *Archiver from becoming a non-nil interface.
func optionalArchiver(a *archive.Archiver) saver {
	if a == nil {
		return nil
	}
	return a
}

func settle(ms int) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
