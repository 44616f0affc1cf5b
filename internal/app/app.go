// Package app builds the long-lived services for one archiver invocation from
// configuration and hands them to the commands.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/archiver"
	catalogmem "github.com/JakeFAU/csr-report-archiver/internal/catalog/memory"
	"github.com/JakeFAU/csr-report-archiver/internal/catalog/postgres"
	"github.com/JakeFAU/csr-report-archiver/internal/clock/system"
	"github.com/JakeFAU/csr-report-archiver/internal/config"
	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/dispatcher"
	"github.com/JakeFAU/csr-report-archiver/internal/id/uuid"
	"github.com/JakeFAU/csr-report-archiver/internal/locator"
	"github.com/JakeFAU/csr-report-archiver/internal/locator/cse"
	"github.com/JakeFAU/csr-report-archiver/internal/locator/htmlsearch"
	"github.com/JakeFAU/csr-report-archiver/internal/metrics"
	"github.com/JakeFAU/csr-report-archiver/internal/pipeline"
	pubsubpub "github.com/JakeFAU/csr-report-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/csr-report-archiver/internal/ratelimit"
	"github.com/JakeFAU/csr-report-archiver/internal/retry"
	gcsstore "github.com/JakeFAU/csr-report-archiver/internal/storage/gcs"
	"github.com/JakeFAU/csr-report-archiver/internal/storage/local"
	storagemem "github.com/JakeFAU/csr-report-archiver/internal/storage/memory"
	miniostore "github.com/JakeFAU/csr-report-archiver/internal/storage/minio"
	"github.com/JakeFAU/csr-report-archiver/internal/telemetry"
)

const (
	defaultCSEEndpoint = "https://customsearch.googleapis.com/"
	serviceName        = "csr-report-archiver"
)

// Version is reported on traces; overridden at build time with -ldflags.
var Version = "dev"

// App holds the services shared by the commands.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	catalog csr.Catalog
	closers []func() error

	// Built lazily by Runner; seeding needs only the catalog.
	locator    csr.Locator
	downloader csr.Downloader
	archiver   csr.Archiver
	publisher  csr.Publisher
}

// New connects the catalog. Pipeline services are created by Runner.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	metrics.Init()
	processors, err := telemetry.NewProcessors(ctx, telemetry.ExporterConfig{
		Exporter:  cfg.Tracing.Exporter,
		ProjectID: cfg.Tracing.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	tp, err := telemetry.InitTracerProvider(ctx, serviceName, Version, processors...)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	if cfg.Catalog.DSN == "" {
		logger.Warn("catalog.dsn not set; using an empty in-memory catalog")
		a.catalog = catalogmem.New()
		return a, nil
	}
	cat, err := postgres.New(ctx, postgres.Config{
		DSN:           cfg.Catalog.DSN,
		Table:         cfg.Catalog.Table,
		StorageColumn: cfg.Catalog.StorageColumn,
		MaxConns:      cfg.Catalog.MaxConns,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	if err := cat.Ping(ctx); err != nil {
		cat.Close()
		a.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	a.catalog = cat
	a.closers = append(a.closers, func() error { cat.Close(); return nil })
	logger.Info("catalog connected", zap.String("table", cfg.Catalog.Table))
	return a, nil
}

// Catalog returns the catalog store.
func (a *App) Catalog() csr.Catalog {
	return a.catalog
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Runner builds every pipeline service for the configured mode and returns a Runner
// with a fresh run ID.
func (a *App) Runner(ctx context.Context) (*pipeline.Runner, string, error) {
	mode := a.cfg.Mode()
	if mode != csr.ModeArchive {
		if err := a.initLocator(ctx); err != nil {
			return nil, "", err
		}
	}
	if mode != csr.ModeLocate {
		if err := a.initArchiver(ctx); err != nil {
			return nil, "", err
		}
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, "", err
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, "", err
	}
	recorder := metrics.NewRecorder()
	orch, err := pipeline.New(pipeline.Config{
		Mode:      mode,
		Bucket:    a.cfg.Storage.Bucket,
		KeyPrefix: a.cfg.Storage.Prefix,
		Topic:     a.cfg.PubSub.Topic,
		Policies:  a.policies(),
	}, pipeline.Deps{
		Catalog:    a.catalog,
		Locator:    a.locator,
		Downloader: a.downloader,
		Archiver:   a.archiver,
		Publisher:  a.publisher,
		Clock:      system.New(),
		Observer:   recorder,
	}, runID, a.logger.Named("pipeline"))
	if err != nil {
		return nil, "", fmt.Errorf("init orchestrator: %w", err)
	}

	runner := pipeline.NewRunner(
		pipeline.NewSelector(a.catalog, a.cfg.Pipeline.Seed, a.cfg.Pipeline.Limit),
		orch,
		dispatcher.New(a.cfg.Pipeline.Workers, recorder, a.logger.Named("dispatcher")),
		mode,
		a.logger.With(zap.String("run_id", runID)),
	)
	return runner, runID, nil
}

func (a *App) policies() pipeline.Policies {
	base := retry.Policy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.BackoffInitial(),
		MaxDelay:    a.cfg.BackoffMax(),
	}
	withTimeout := func(d time.Duration) retry.Policy {
		p := base
		p.AttemptTimeout = d
		return p
	}
	return pipeline.Policies{
		Locate:   withTimeout(a.cfg.LocatorTimeout()),
		Download: withTimeout(a.cfg.DownloadTimeout()),
		Upload:   withTimeout(a.cfg.UploadTimeout()),
		Catalog:  withTimeout(a.cfg.CatalogTimeout()),
	}
}

func (a *App) initLocator(ctx context.Context) error {
	lc := a.cfg.Locator
	logger := a.logger.Named("locator")
	var (
		next      csr.Locator
		searchURL string
	)
	switch lc.Provider {
	case "cse":
		l, err := cse.New(ctx, cse.Config{
			APIKey:     lc.APIKey,
			EngineID:   lc.EngineID,
			Endpoint:   lc.Endpoint,
			MaxResults: lc.MaxResults,
		}, logger)
		if err != nil {
			return fmt.Errorf("init cse locator: %w", err)
		}
		next, searchURL = l, lc.Endpoint
		if searchURL == "" {
			searchURL = defaultCSEEndpoint
		}
	case "html":
		l, err := htmlsearch.New(htmlsearch.Config{
			SearchURL:      lc.SearchURL,
			ResultSelector: lc.ResultSelector,
			UserAgent:      lc.UserAgent,
			Timeout:        a.cfg.LocatorTimeout(),
		}, logger)
		if err != nil {
			return fmt.Errorf("init html locator: %w", err)
		}
		next, searchURL = l, lc.SearchURL
	default:
		return fmt.Errorf("unknown locator provider %q", lc.Provider)
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: lc.QPS, Burst: 1, OnDelay: metrics.ObserveRateLimitDelay})
	a.locator = locator.NewRateLimited(next, limiter, searchURL)
	logger.Info("locator ready", zap.String("provider", lc.Provider), zap.Float64("qps", lc.QPS))
	return nil
}

func (a *App) initArchiver(ctx context.Context) error {
	store, err := a.blobStore(ctx)
	if err != nil {
		return err
	}
	arch, err := archiver.New(store, archiver.Config{ContentType: a.cfg.Storage.ContentType}, a.logger.Named("archiver"))
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}
	a.archiver = arch

	limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.Download.PerHostQPS, Burst: 1, OnDelay: metrics.ObserveRateLimitDelay})
	a.downloader = archiver.NewDownloader(archiver.DownloaderConfig{
		Dir:       a.cfg.Download.Dir,
		UserAgent: a.cfg.Download.UserAgent,
	}, nil, limiter, a.logger.Named("downloader"))
	return nil
}

func (a *App) blobStore(ctx context.Context) (csr.BlobStore, error) {
	sc := a.cfg.Storage
	logger := a.logger.Named("storage")
	switch sc.Provider {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		logger.Info("using gcs object store", zap.String("bucket", sc.Bucket))
		store, err := gcsstore.New(client, logger)
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	case "minio":
		store, err := miniostore.New(miniostore.Config{
			Endpoint:  sc.MinIO.Endpoint,
			AccessKey: sc.MinIO.AccessKey,
			SecretKey: sc.MinIO.SecretKey,
			UseSSL:    sc.MinIO.UseSSL,
			Region:    sc.MinIO.Region,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init minio store: %w", err)
		}
		if err := store.EnsureBucket(ctx, sc.Bucket); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", sc.Bucket, err)
		}
		logger.Info("using minio object store", zap.String("endpoint", sc.MinIO.Endpoint), zap.String("bucket", sc.Bucket))
		return store, nil
	case "local":
		logger.Info("using local object store", zap.String("base_dir", sc.Local.BaseDir))
		store, err := local.New(local.Config{BaseDir: sc.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	case "memory":
		logger.Warn("using in-memory object store; archived reports are discarded on exit")
		return storagemem.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", sc.Provider)
	}
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" || a.publisher != nil {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := pubsubpub.New(client, a.logger.Named("publisher"))
	if err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return fmt.Errorf("init publisher: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	a.logger.Info("publishing archived events", zap.String("topic", a.cfg.PubSub.Topic))
	return nil
}

// ServeMetrics runs the metrics listener until ctx ends when metrics.addr is set.
func (a *App) ServeMetrics(ctx context.Context) {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger.Named("metrics")); err != nil {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Close releases every service in reverse order of creation and flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}
