package ingest

import (
	"context"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/handlers"
	"feedflow/internal/features/ingest/migrations"
	"feedflow/internal/features/ingest/services"
)

// Feature is the content ingestion pipeline: sources, scheduler and the
// HTTP triggers around them.
type Feature struct {
	*core.BaseFeature
	config           *Config
	migrationMgr     *migrations.Manager
	sourceService    *services.SourceService
	articleService   *services.ArticleService
	fetcherService   *services.FetcherService
	discoveryService *services.DiscoveryService
	schedulerService *services.SchedulerService
	handlers         *handlers.Handlers
	startScheduler   bool
}

// NewFeature creates a new ingest feature
func NewFeature(logger *core.Logger, db *core.Database, config *Config) *Feature {
	featureLogger := logger.ForFeature("ingest")

	migrationMgr := migrations.NewManager(db, featureLogger)

	sourceService := services.NewSourceService(db, featureLogger, config.MinUpdateFrequency, config.DefaultUpdateFrequency, config.GlobalDedup)
	articleService := services.NewArticleService(db, featureLogger)

	fetcherService := services.NewFetcherService(featureLogger, config.FetcherConfig(), nil)
	discoveryService := services.NewDiscoveryService(fetcherService, featureLogger)
	extractorService := services.NewExtractorService(featureLogger, config.ExcerptLength, config.WordsPerMinute)
	dedup := services.NewDeduplicator(config.TrackingParams)

	ingester := services.NewIngester(fetcherService, discoveryService, extractorService, dedup, featureLogger, config.IngesterConfig())
	schedulerService := services.NewSchedulerService(ingester, sourceService, articleService, featureLogger, config.SchedulerConfig())

	h := handlers.NewHandlers(featureLogger, sourceService, schedulerService, discoveryService)

	return &Feature{
		BaseFeature:      core.NewBaseFeature("ingest", "Feed and website content ingestion", config.Enabled, logger, db),
		config:           config,
		migrationMgr:     migrationMgr,
		sourceService:    sourceService,
		articleService:   articleService,
		fetcherService:   fetcherService,
		discoveryService: discoveryService,
		schedulerService: schedulerService,
		handlers:         h,
		startScheduler:   true,
	}
}

// WithoutScheduler keeps Init from starting the cron loop. Used by one-shot
// commands.
func (f *Feature) WithoutScheduler() *Feature {
	f.startScheduler = false
	return f
}

// Init validates the config, migrates, seeds and starts the scheduler
func (f *Feature) Init(ctx context.Context) error {
	if err := f.BaseFeature.Init(ctx); err != nil {
		return err
	}

	if err := f.config.Validate(); err != nil {
		return core.NewConfigurationError("invalid ingest configuration", err)
	}

	if err := f.migrationMgr.Migrate(ctx); err != nil {
		return core.NewFeatureError(f.Name(), "migrations failed", err)
	}

	if f.config.SourcesFile != "" {
		seed, err := services.LoadSeedFile(f.config.SourcesFile)
		if err != nil {
			return core.NewFeatureError(f.Name(), "failed to load sources file", err)
		}
		if _, err := f.sourceService.Seed(ctx, seed); err != nil {
			return core.NewFeatureError(f.Name(), "failed to seed sources", err)
		}
	}

	if f.config.Enabled && f.startScheduler {
		if err := f.schedulerService.Start(ctx); err != nil {
			return core.NewFeatureError(f.Name(), "failed to start ingestion scheduler", err)
		}
		f.Logger().Info("Ingestion scheduler started")
	}

	f.Logger().Info("Ingest feature initialized")
	return nil
}

// Routes returns the HTTP routes for the ingest feature
func (f *Feature) Routes() []core.Route {
	return []core.Route{
		// Cycle triggers
		{Method: "POST", Path: "/api/cron/ingest", Handler: f.handlers.TriggerCycle, Protected: true},
		{Method: "GET", Path: "/api/cron/ingest", Handler: f.handlers.CronStatus, Protected: true},

		// Sources
		{Method: "GET", Path: "/api/sources", Handler: f.handlers.ListSources, Protected: true},
		{Method: "POST", Path: "/api/sources", Handler: f.handlers.CreateSource, Protected: true},
		{Method: "POST", Path: "/api/sources/{id}/refresh", Handler: f.handlers.RefreshSource, Protected: true},

		// Discovery
		{Method: "POST", Path: "/api/discover", Handler: f.handlers.Discover, Protected: true},
	}
}

// Shutdown stops the scheduler and waits for the running cycle
func (f *Feature) Shutdown(ctx context.Context) error {
	if f.schedulerService != nil {
		if err := f.schedulerService.Stop(ctx); err != nil {
			f.Logger().Error("Failed to stop ingestion scheduler", "error", err)
		}
	}
	return f.BaseFeature.Shutdown(ctx)
}

// GetMigrationManager returns the migration manager for this feature
func (f *Feature) GetMigrationManager() *migrations.Manager {
	return f.migrationMgr
}

// GetSourceService returns the source service
func (f *Feature) GetSourceService() *services.SourceService {
	return f.sourceService
}

// GetArticleService returns the article service
func (f *Feature) GetArticleService() *services.ArticleService {
	return f.articleService
}

// GetDiscoveryService returns the discovery service
func (f *Feature) GetDiscoveryService() *services.DiscoveryService {
	return f.discoveryService
}

// GetSchedulerService returns the scheduler service
func (f *Feature) GetSchedulerService() *services.SchedulerService {
	return f.schedulerService
}
