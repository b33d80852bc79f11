// Package app initializes and holds long-lived harvester services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/clock/system"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/discover"
	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-harvester/internal/hash/sha256"
	uuidgen "github.com/JakeFAU/catalog-harvester/internal/id/uuid"
	"github.com/JakeFAU/catalog-harvester/internal/ingest"
	"github.com/JakeFAU/catalog-harvester/internal/ocr"
	"github.com/JakeFAU/catalog-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/progress/sinks"
	"github.com/JakeFAU/catalog-harvester/internal/publisher"
	"github.com/JakeFAU/catalog-harvester/internal/publisher/memory"
	"github.com/JakeFAU/catalog-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-harvester/internal/reconcile"
	"github.com/JakeFAU/catalog-harvester/internal/remote"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
	"github.com/JakeFAU/catalog-harvester/internal/storage/gcs"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

// App holds the shared, long-lived services of one harvester process. It is
// built once per command from a validated Config and closed when the command
// returns.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  uuid.UUID

	store      *catalog.Store
	clock      *system.Clock
	hub        *progress.Hub
	tracker    *sinks.Tracker
	fetcher    *collyfetcher.Fetcher
	assets     *local.BlobStore
	mirror     storage.Mirror
	gcsMirror  *gcs.BlobStore
	publisher  publisher.Publisher
	remote     *remote.Client
	recognizer ocr.Recognizer
	batches    *ocr.Batches
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	publisher  publisher.Publisher
}

// WithRegisterer registers the progress collectors against reg instead of
// the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPublisher replaces the configured publisher.
func WithPublisher(p publisher.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New builds every service named by cfg. It fails fast when a configured
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rawID, err := uuidgen.New().NewID()
	if err != nil {
		return nil, err
	}
	runID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", rawID))
	logger.Info("initializing harvester services", zap.String("snapshot", cfg.Snapshot.Path))

	a := &App{
		cfg:    cfg,
		logger: logger,
		runID:  runID,
		store:  catalog.NewStore(cfg.Snapshot.Path, logger),
		clock:  system.New(),
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, err
	}
	a.tracker = sinks.NewTracker()
	a.hub = progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink, a.tracker)

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HTTP.RateLimitRPS, DefaultBurst: cfg.HTTP.RateLimitBurst})
	a.fetcher, err = collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.HTTP.UserAgent,
		RandomUserAgent: cfg.HTTP.RandomUserAgent,
		Proxy:           cfg.HTTP.Proxy,
		Timeout:         cfg.FetchTimeout(),
		Attempts:        cfg.HTTP.Attempts,
		RetryDelay:      cfg.FetchRetryDelay(),
	}, limiter, logger)
	if err != nil {
		a.closeOnError(ctx)
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	a.assets, err = local.New(local.Config{BaseDir: cfg.Assets.Dir})
	if err != nil {
		a.closeOnError(ctx)
		return nil, fmt.Errorf("init asset store: %w", err)
	}

	a.mirror = storage.NoOpMirror{}
	if cfg.Storage.GCSBucket != "" {
		logger.Info("mirroring assets to GCS", zap.String("bucket", cfg.Storage.GCSBucket))
		a.gcsMirror, err = gcs.Dial(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
		if err != nil {
			a.closeOnError(ctx)
			return nil, fmt.Errorf("init asset mirror: %w", err)
		}
		a.mirror = a.gcsMirror
	}

	switch {
	case o.publisher != nil:
		a.publisher = o.publisher
	case cfg.PubSub.TopicName != "":
		logger.Info("publishing to Pub/Sub", zap.String("topic", cfg.PubSub.TopicName))
		a.publisher, err = pubsub.Dial(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, TopicName: cfg.PubSub.TopicName})
		if err != nil {
			a.closeOnError(ctx)
			return nil, fmt.Errorf("init publisher: %w", err)
		}
	default:
		a.publisher = memory.New()
	}

	a.remote, err = remote.New(remote.Config{
		Host:       cfg.Remote.Host,
		Token:      cfg.Remote.Token,
		Timeout:    cfg.RemoteTimeout(),
		Proxy:      cfg.Remote.Proxy,
		Attempts:   cfg.Remote.Attempts,
		RetryDelay: cfg.RemoteRetryDelay(),
	}, logger)
	if err != nil {
		a.closeOnError(ctx)
		return nil, fmt.Errorf("init asset service client: %w", err)
	}

	if cfg.OCR.Enabled {
		a.recognizer = ocr.NewTesseract(ocr.Config{
			Binary:   cfg.OCR.Binary,
			Language: cfg.OCR.Language,
			Region:   cfg.OCR.Region,
		}, logger)
	} else {
		logger.Info("local recognition disabled")
		a.recognizer = ocr.Disabled{}
	}
	a.batches, err = ocr.LoadBatches(cfg.OCR.BatchDir, cfg.OCR.Batches, logger)
	if err != nil {
		a.closeOnError(ctx)
		return nil, fmt.Errorf("load recognition batches: %w", err)
	}

	logger.Info("harvester services initialized")
	return a, nil
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// RunID identifies this process's pass run.
func (a *App) RunID() uuid.UUID { return a.runID }

// Publisher returns the configured notification publisher.
func (a *App) Publisher() publisher.Publisher { return a.publisher }

// Tracker exposes the in-process run tracker.
func (a *App) Tracker() *sinks.Tracker { return a.tracker }

// LoadCatalog reads the snapshot. When startEmpty is set, a missing
// snapshot yields an empty catalog and a corrupt one is set aside first.
func (a *App) LoadCatalog(startEmpty bool) (*catalog.Catalog, error) {
	cat, err := a.store.Load()
	switch {
	case err == nil:
		return cat, nil
	case !startEmpty:
		return nil, err
	case errors.Is(err, catalog.ErrNoSnapshot):
		a.logger.Info("no snapshot yet, starting empty", zap.String("path", a.store.Path()))
		return catalog.New(), nil
	case errors.Is(err, catalog.ErrCorruptSnapshot):
		a.logger.Error("snapshot is corrupt, starting empty", zap.Error(err))
		if _, err := a.store.SetAside(a.clock.Now().Format("20060102T150405")); err != nil {
			return nil, err
		}
		return catalog.New(), nil
	default:
		return nil, err
	}
}

func (a *App) checkpointer() *catalog.Checkpointer {
	return catalog.NewCheckpointer(a.store, a.cfg.AutosaveInterval(), a.clock, a.logger)
}

func (a *App) reporter(pass string) *progress.Reporter {
	return progress.NewReporter(a.hub, a.runID, pass)
}

// Discoverer builds the discovery pass.
func (a *App) Discoverer() (*discover.Discoverer, error) {
	if a.cfg.Source.HomeURL == "" {
		return nil, errors.New("source.home_url is required for discovery")
	}
	return discover.New(a.cfg.Source.Config, a.fetcher, a.checkpointer(), a.reporter(discover.Pass), a.logger)
}

// Ingester builds the ingestion pipeline.
func (a *App) Ingester() (*ingest.Pipeline, error) {
	description := remote.FolderDescription{
		Summary: a.cfg.Remote.FolderSummary,
		Source:  a.cfg.Source.Site,
		URL:     a.cfg.Source.HomeURL,
	}
	return ingest.New(ingest.Config{
		Site:              a.cfg.Source.Site,
		ProvenanceTags:    a.cfg.Source.ProvenanceTags,
		TagAliases:        a.cfg.Source.TagAliases,
		FolderPath:        a.cfg.Remote.FolderPath,
		FolderDescription: description.String(),
		SkipOCRCategories: a.cfg.Source.SkipOCRCategories,
		CreateDelay:       a.cfg.CreateDelay(),
		Extension:         a.cfg.Assets.Extension,
		SaveAfterCreate:   a.cfg.Remote.SaveAfterCreate,
	}, ingest.Deps{
		Fetcher:      a.fetcher,
		Assets:       a.assets,
		Mirror:       a.mirror,
		Hasher:       sha256.New(),
		Recognizer:   a.recognizer,
		Batches:      a.batches,
		Remote:       a.remote,
		Publisher:    a.publisher,
		Checkpointer: a.checkpointer(),
		Sleeper:      a.clock,
		Reporter:     a.reporter(ingest.Pass),
		RunID:        a.runID.String(),
		Logger:       a.logger,
		Now:          a.clock.Now,
	})
}

// Reconciler builds the reconciliation pass.
func (a *App) Reconciler() (*reconcile.Reconciler, error) {
	return reconcile.New(reconcile.Deps{
		Remote:       a.remote,
		Batches:      a.batches,
		Checkpointer: a.checkpointer(),
		Publisher:    a.publisher,
		Reporter:     a.reporter(reconcile.Pass),
		RunID:        a.runID.String(),
		Logger:       a.logger,
		Now:          a.clock.Now,
	})
}

// APIServer returns the health, metrics and progress routes.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.tracker, a.ready, a.logger)
}

func (a *App) ready(context.Context) error {
	if _, err := os.Stat(a.cfg.Assets.Dir); err != nil {
		return fmt.Errorf("asset directory: %w", err)
	}
	return nil
}

func (a *App) closeOnError(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.Close(closeCtx)
}

// Close shuts down the services in the App. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down harvester services")
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("error closing progress hub", zap.Error(err))
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("error closing publisher", zap.Error(err))
		}
	}
	if a.gcsMirror != nil {
		if err := a.gcsMirror.Close(); err != nil {
			a.logger.Warn("error closing asset mirror", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
