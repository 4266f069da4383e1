// Package app wires clipvault's components together and runs the
// background loops and the HTTP API as one unit.
package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/clipvault/clipvault/internal/api"
	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/datastore"
	"github.com/clipvault/clipvault/internal/datastore/repository"
	"github.com/clipvault/clipvault/internal/enrich"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/httpclient"
	"github.com/clipvault/clipvault/internal/ingest"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/observability"
	"github.com/clipvault/clipvault/internal/ocr"
	"github.com/clipvault/clipvault/internal/retention"
	"github.com/clipvault/clipvault/internal/search"
)

// App holds every long-lived component. Fields are exported for the
// one-shot commands, which use parts of the graph without Run.
type App struct {
	Settings    *conf.Settings
	DB          *datastore.SQLiteManager
	Images      repository.ImageRepository
	Preferences *conf.PreferenceStore
	Metrics     *observability.Metrics
	Pipeline    *ingest.Pipeline
	Engine      *ocr.Engine
	Search      *search.Engine
	Retention   *retention.Policy
	Enricher    *enrich.Worker
	// Frames feeds the pipeline; the websocket frame feed publishes to it.
	Frames *ingest.Broadcaster
	API    *api.Controller

	log    logger.Logger
	client *httpclient.Client
}

// New opens the store and builds the component graph. central may be nil,
// in which case nothing is logged.
func New(settings *conf.Settings, central *logger.CentralLogger) (*App, error) {
	if err := settings.EnsureDataDir(); err != nil {
		return nil, err
	}

	a := &App{
		Settings: settings,
		Frames:   ingest.NewBroadcaster(),
		log:      central.Module("app"),
	}

	var err error
	a.Metrics, err = observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).Component("app").Category(errors.CategoryConfiguration).Build()
	}

	a.DB, err = datastore.NewSQLiteManager(datastore.Config{
		DataDir: settings.DataDir,
		Logger:  central.Module("datastore"),
	})
	if err != nil {
		return nil, err
	}
	if err := a.DB.Initialize(); err != nil {
		_ = a.DB.Close()
		return nil, err
	}
	a.Images = repository.NewImageRepository(a.DB.DB())

	a.Preferences, err = conf.NewPreferenceStore(settings.PreferencesPath())
	if err != nil {
		_ = a.DB.Close()
		return nil, err
	}

	a.Pipeline, err = ingest.New(ingest.Config{
		Store:       a.Images,
		ScratchPath: settings.IngestScratchPath(),
		Logger:      central.Module("ingest"),
		Metrics:     a.Metrics.Store,
	})
	if err != nil {
		_ = a.DB.Close()
		return nil, err
	}

	a.client = httpclient.New(nil)
	engineCfg := ocr.ConfigFromSettings(settings)
	engineCfg.Client = a.client
	engineCfg.Logger = central.Module("ocr")
	engineCfg.Metrics = a.Metrics.OCR
	a.Engine = ocr.New(engineCfg)

	a.Search = search.New(search.Config{
		Store:        a.Images,
		DefaultLimit: settings.Search.DefaultLimit,
		VerdictTTL:   settings.Search.VerdictCacheTTL,
		Logger:       central.Module("search"),
		Metrics:      a.Metrics.Search,
	})

	a.Retention = retention.New(retention.Config{
		Store:       a.Images,
		Size:        a.DB.Size,
		Preferences: a.Preferences,
		Interval:    settings.Retention.Interval,
		Logger:      central.Module("retention"),
		Metrics:     a.Metrics.Store,
	})

	a.Enricher = enrich.New(enrich.Config{
		Store:       a.Images,
		Analyzer:    a.Engine,
		Preferences: a.Preferences,
		ScratchPath: settings.EnrichmentScratchPath(),
		Interval:    settings.Enrichment.Interval,
		Logger:      central.Module("enrich"),
		Metrics:     a.Metrics.OCR,
	})

	if settings.WebServer.Enabled {
		a.API, err = api.New(api.Config{
			Listen:       settings.WebServer.Listen,
			Images:       a.Images,
			Search:       a.Search,
			Ingest:       a.Pipeline,
			Preferences:  a.Preferences,
			Engine:       a.Engine,
			Frames:       a.Frames,
			Metrics:      a.Metrics.Handler(),
			StoreMetrics: a.Metrics.Store,
			Logger:       central.Module("api"),
		})
		if err != nil {
			_ = a.DB.Close()
			return nil, err
		}
	}

	return a, nil
}

// Run attaches the pipeline to the frame broadcaster and any extra
// sources, then runs retention, enrichment and the API until ctx is done
// or one of them fails.
func (a *App) Run(ctx context.Context, sources ...ingest.FrameSource) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Pipeline.Attach(ctx, a.Frames)
	for _, src := range sources {
		a.Pipeline.Attach(ctx, src)
	}

	g.Go(func() error { return a.Retention.Run(ctx) })
	g.Go(func() error { return a.Enricher.Run(ctx) })
	if a.API != nil {
		g.Go(func() error { return a.API.Run(ctx) })
	}

	a.log.Info("clipvault running",
		logger.String("data_dir", a.Settings.DataDir),
		logger.Bool("api", a.API != nil))
	err := g.Wait()
	a.log.Info("clipvault stopped")
	return err
}

// Close releases the database and idle HTTP connections.
func (a *App) Close() error {
	a.client.Close()
	return a.DB.Close()
}
