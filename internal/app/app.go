// Package app builds the long-lived services of a harvest run from
// configuration and tears them down afterwards.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/breeder-harvester/internal/clock/system"
	"github.com/JakeFAU/breeder-harvester/internal/config"
	"github.com/JakeFAU/breeder-harvester/internal/harvest"
	"github.com/JakeFAU/breeder-harvester/internal/hash/sha256"
	"github.com/JakeFAU/breeder-harvester/internal/id/uuid"
	"github.com/JakeFAU/breeder-harvester/internal/metrics"
	"github.com/JakeFAU/breeder-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/breeder-harvester/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/breeder-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/breeder-harvester/internal/publisher/pubsub"
	collysource "github.com/JakeFAU/breeder-harvester/internal/source/colly"
	"github.com/JakeFAU/breeder-harvester/internal/storage/gcs"
	"github.com/JakeFAU/breeder-harvester/internal/storage/local"
	"github.com/JakeFAU/breeder-harvester/internal/storage/memory"
	"github.com/JakeFAU/breeder-harvester/internal/storage/postgres"
	"github.com/JakeFAU/breeder-harvester/internal/storage/sqlite"
	"github.com/JakeFAU/breeder-harvester/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// App holds the services shared by every command.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	source    harvest.Source
	store     harvest.Store
	archive   harvest.BlobStore
	publisher harvest.Publisher
	metrics   *metrics.Server
	stageSink *progresssinks.PrometheusSink
	closers   []func() error
}

// New wires every provider named in cfg. It fails fast when a backend cannot
// be reached and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	shutdownTracing, err := telemetry.Init(ctx, a.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdownTracing(ctx)
	})

	src, err := collysource.New(a.cfg.Source, a.logger.Named("source"))
	if err != nil {
		return fmt.Errorf("init source: %w", err)
	}
	a.source = src

	if err := a.initStore(ctx); err != nil {
		return err
	}
	if err := a.initArchive(ctx); err != nil {
		return err
	}
	if err := a.initPublisher(ctx); err != nil {
		return err
	}

	stageSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	a.stageSink = stageSink

	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(a.cfg.Metrics.ListenAddr, a.logger.Named("metrics"))
		a.metrics.Start()
	}
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Database.Provider {
	case config.ProviderMemory:
		a.logger.Info("using in-memory store; nothing outlives the process")
		a.store = memory.NewStore()
	case config.ProviderSQLite:
		a.logger.Info("using sqlite store", zap.String("path", a.cfg.Database.SQLite.Path))
		store, err := sqlite.Open(ctx, a.cfg.Database.SQLite, a.logger.Named("sqlite"))
		if err != nil {
			return fmt.Errorf("init sqlite: %w", err)
		}
		a.store = store
	case config.ProviderPostgres:
		a.logger.Info("using postgres store", zap.String("schema", a.cfg.Database.Postgres.Schema))
		store, err := postgres.Open(ctx, a.cfg.Database.Postgres, a.logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		a.store = store
	default:
		return fmt.Errorf("unknown database provider %q", a.cfg.Database.Provider)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	switch a.cfg.Archive.Provider {
	case config.ProviderNone, "":
	case config.ProviderMemory:
		a.archive = memory.NewBlobStore()
	case config.ProviderLocal:
		store, err := local.New(a.cfg.Archive.Local)
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
	case config.ProviderGCS:
		store, err := gcs.Open(ctx, a.cfg.Archive.GCS, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.archive = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown archive provider %q", a.cfg.Archive.Provider)
	}
	if a.archive != nil {
		a.logger.Info("archiving run batches", zap.String("provider", a.cfg.Archive.Provider))
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Notify.Provider {
	case config.ProviderNone, "":
	case config.ProviderMemory:
		a.publisher = memorypublisher.New("harvest-runs")
	case config.ProviderPubSub:
		pub, err := pubsubpublisher.Open(ctx, a.cfg.Notify.PubSub())
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	default:
		return fmt.Errorf("unknown notify provider %q", a.cfg.Notify.Provider)
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the configured persistence backend.
func (a *App) Store() harvest.Store { return a.store }

// Pipeline assembles a harvest pipeline. Stage progress always feeds the
// Prometheus stage collectors; bars are also drawn on progressOut unless it is
// nil. The progress hub is flushed and closed by Close.
func (a *App) Pipeline(progressOut io.Writer) (*harvest.Pipeline, error) {
	deps := harvest.Deps{
		Source:    a.source,
		Store:     a.store,
		Archive:   a.archive,
		Hasher:    sha256.New(),
		Publisher: a.publisher,
		Clock:     system.New(),
		IDs:       uuid.New(),
	}
	sinks := []progress.Sink{a.stageSink}
	if progressOut != nil {
		sinks = append(sinks, progresssinks.NewTerminalSink(progressOut, nil))
	}
	hub := progress.NewHub(progress.Config{Logger: a.logger.Named("progress")}, sinks...)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hub.Close(ctx)
	})
	deps.Progress = progress.Reporters(hub, nil)
	p, err := harvest.NewPipeline(deps, a.cfg.Pipeline(), a.logger.Named("harvest"))
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

// Close releases every opened backend in reverse order.
func (a *App) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close service", zap.Error(err))
		}
	}
	a.closers = nil
}
