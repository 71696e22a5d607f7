// Package app assembles the service from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/analytics"
	"github.com/godseye/insight/internal/api"
	"github.com/godseye/insight/internal/cache"
	"github.com/godseye/insight/internal/clock/system"
	"github.com/godseye/insight/internal/config"
	"github.com/godseye/insight/internal/export"
	"github.com/godseye/insight/internal/fetcher"
	sha256hash "github.com/godseye/insight/internal/hash/sha256"
	"github.com/godseye/insight/internal/history"
	iduuid "github.com/godseye/insight/internal/id/uuid"
	"github.com/godseye/insight/internal/logging"
	"github.com/godseye/insight/internal/metrics"
	"github.com/godseye/insight/internal/notify"
	"github.com/godseye/insight/internal/orchestrator"
	"github.com/godseye/insight/internal/settings"
	"github.com/godseye/insight/internal/storage"
)

// App owns every wired component and their shutdown order.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Storage      storage.Provider
	Settings     *settings.Manager
	Cache        *cache.Cache
	History      *history.Store
	Fetcher      *fetcher.Fetcher
	Scheduler    *notify.Scheduler
	Orchestrator *orchestrator.Orchestrator
	Exporter     *export.Exporter
	Server       *api.Server

	closers []func(context.Context)
}

// New builds the full service graph from the configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	clock := system.New()
	ids := iduuid.New()
	hasher := sha256hash.New()

	provider, err := a.buildStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	settingsManager, err := settings.NewManager(ctx, provider, logging.Component(logger, "settings"))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init settings: %w", err)
	}
	a.Settings = settingsManager
	a.closers = append(a.closers, func(context.Context) { settingsManager.Close() })

	rawSink, err := a.buildAnalytics(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	// Honors the user's analytics opt-out at event time.
	sink := analytics.Gated(rawSink, func() bool {
		return settingsManager.Current().Analytics
	})

	a.Cache = cache.New(clock, cache.WithHorizons(cfg.CacheFreshFor(), cfg.CacheRetainFor()))

	a.History, err = history.NewStore(ctx, history.Config{
		Capacity:         cfg.History.Capacity,
		AnalysisCapacity: cfg.History.AnalysisCapacity,
		DedupWindow:      cfg.DedupWindow(),
	}, provider, clock, ids, sink, logging.Component(logger, "history"))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init history: %w", err)
	}

	seed := cfg.Backend.SyntheticSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	generator := fetcher.NewGenerator(seed, clock)
	backend := fetcher.NewHTTPBackend(cfg.Backend.Endpoint, nil)
	a.Fetcher = fetcher.New(backend, generator, sink, logging.Component(logger, "fetcher"),
		fetcher.WithPolicy(cfg.BackendTimeout(), cfg.Backend.MaxRetries, cfg.BackoffStep()),
		fetcher.WithClock(clock),
		fetcher.WithForcedFallback(func() bool {
			return settingsManager.Current().UseMockData
		}),
	)

	biasDelay, factDelay, credDelay := cfg.CascadeDelays()
	a.Scheduler = notify.NewScheduler(
		notify.NewLogNotifier(logging.Component(logger, "notify")),
		settingsManager,
		logging.Component(logger, "notify"),
		notify.WithDelays(biasDelay, factDelay, credDelay),
	)

	a.Orchestrator = orchestrator.New(
		a.Fetcher,
		a.Cache,
		a.History,
		a.Scheduler,
		settingsManager,
		hasher,
		logging.Component(logger, "orchestrator"),
		orchestrator.WithAutoAnalysisInterval(cfg.AutoInterval()),
	)
	a.closers = append(a.closers, func(context.Context) { a.Orchestrator.Close() })

	blobs, err := a.buildBlobStore(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Exporter = export.NewExporter(a.History, blobs, clock, logging.Component(logger, "export"))

	a.Server = api.NewServer(a.Orchestrator, a.History, a.Exporter, settingsManager, logging.Component(logger, "api"))
	return a, nil
}

func (a *App) buildStorage(ctx context.Context, cfg config.Config) (storage.Provider, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		provider, err := storage.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect storage: %w", err)
		}
		a.Storage = provider
	default:
		a.Storage = storage.NewMemoryProvider()
	}
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := a.Storage.Close(ctx); err != nil {
			a.Logger.Warn("storage close failed", zap.Error(err))
		}
	})
	return a.Storage, nil
}

func (a *App) buildAnalytics(ctx context.Context, cfg config.Config, logger *zap.Logger) (analysis.AnalyticsSink, error) {
	if cfg.Analytics.Driver != "pubsub" {
		return analytics.NewLogSink(logging.Component(logger, "analytics")), nil
	}
	sink, err := analytics.Connect(ctx, cfg.Analytics.ProjectID, cfg.Analytics.TopicName, logging.Component(logger, "analytics"))
	if err != nil {
		return nil, fmt.Errorf("connect analytics: %w", err)
	}
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := sink.Close(ctx); err != nil {
			a.Logger.Warn("analytics close failed", zap.Error(err))
		}
	})
	return sink, nil
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config) (export.BlobStore, error) {
	switch cfg.Export.Driver {
	case "local":
		blobs, err := export.NewLocalBlobStore(cfg.Export.Dir)
		if err != nil {
			return nil, fmt.Errorf("init export store: %w", err)
		}
		return blobs, nil
	case "gcs":
		blobs, err := export.NewGCSBlobStore(ctx, cfg.Export.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("init export store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) {
			if err := blobs.Close(); err != nil {
				a.Logger.Warn("export store close failed", zap.Error(err))
			}
		})
		return blobs, nil
	default:
		return export.NewMemoryBlobStore(), nil
	}
}

// Close shuts components down in reverse construction order.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
