// Package api serves the local HTTP interface used by the UI shell:
// image search and management, preferences, engine control, and the
// websocket push channels.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/datastore/repository"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/ingest"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/observability/metrics"
	"github.com/clipvault/clipvault/internal/ocr"
	"github.com/clipvault/clipvault/internal/search"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	// defaultBodyLimit bounds uploads and JSON bodies.
	defaultBodyLimit = "64M"
)

// ImageStore reads and deletes stored images.
type ImageStore interface {
	GetByID(ctx context.Context, id int64) (*entities.Image, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

// Searcher answers image queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (search.Page, error)
}

// Ingester commits decoded frames.
type Ingester interface {
	IngestFrames(ctx context.Context, frames []ingest.Frame) ([]repository.SaveOutcome, error)
}

// PreferenceStore holds the user preferences.
type PreferenceStore interface {
	Get() conf.Preferences
	Update(update conf.Preferences) (conf.Preferences, error)
}

// Engine is the recognition engine lifecycle.
type Engine interface {
	Status(ctx context.Context) ocr.Status
	Prepare(ctx context.Context) (ocr.PrepareOutcome, error)
	Pause() bool
}

// FramePublisher receives frames pushed over the frame feed.
type FramePublisher interface {
	Publish(frame ingest.Frame)
}

// Config holds the controller's collaborators. Metrics and Frames are
// optional; their routes are only registered when set.
type Config struct {
	Listen       string
	Images       ImageStore
	Search       Searcher
	Ingest       Ingester
	Preferences  PreferenceStore
	Engine       Engine
	Frames       FramePublisher
	Metrics      http.Handler
	// StoreMetrics counts deletions requested through the API.
	StoreMetrics *metrics.StoreMetrics
	Logger       logger.Logger

	// StatusInterval is the status stream push period.
	StatusInterval  time.Duration
	ShutdownTimeout time.Duration
}

// Controller owns the Echo instance and the handlers.
type Controller struct {
	Echo *echo.Echo

	listen          string
	images          ImageStore
	search          Searcher
	ingest          Ingester
	prefs           PreferenceStore
	engine          Engine
	frames          FramePublisher
	storeMetrics    *metrics.StoreMetrics
	log             logger.Logger
	statusInterval  time.Duration
	shutdownTimeout time.Duration

	// ctx bounds background work started by requests.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller and registers its routes.
func New(cfg Config) (*Controller, error) {
	if cfg.Images == nil || cfg.Search == nil || cfg.Ingest == nil || cfg.Preferences == nil || cfg.Engine == nil {
		return nil, errors.Newf("api controller is missing a collaborator").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:            echo.New(),
		listen:          cfg.Listen,
		images:          cfg.Images,
		search:          cfg.Search,
		ingest:          cfg.Ingest,
		prefs:           cfg.Preferences,
		engine:          cfg.Engine,
		frames:          cfg.Frames,
		storeMetrics:    cfg.StoreMetrics,
		log:             cfg.Logger,
		statusInterval:  cfg.StatusInterval,
		shutdownTimeout: cfg.ShutdownTimeout,
		ctx:             ctx,
		cancel:          cancel,
	}
	if c.log == nil {
		c.log = logger.NewNopLogger()
	}
	if c.statusInterval <= 0 {
		c.statusInterval = time.Second
	}
	if c.shutdownTimeout <= 0 {
		c.shutdownTimeout = defaultShutdownTimeout
	}

	c.Echo.HideBanner = true
	c.Echo.HidePort = true
	c.Echo.HTTPErrorHandler = c.errorHandler

	c.Echo.Use(echomw.Recover())
	c.Echo.Use(traceIDMiddleware())
	c.Echo.Use(requestLogger(c.log))
	c.Echo.Use(echomw.BodyLimit(defaultBodyLimit))

	c.initRoutes(cfg.Metrics)
	return c, nil
}

func (c *Controller) initRoutes(metrics http.Handler) {
	c.Echo.GET("/health", c.healthCheck)
	if metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(metrics))
	}

	v1 := c.Echo.Group("/api/v1")

	v1.POST("/images/search", c.SearchImages)
	v1.DELETE("/images", c.DeleteImages)
	v1.GET("/images/:id/raw", c.GetImageRaw)
	v1.POST("/images/upload", c.UploadImages)

	v1.GET("/settings", c.GetSettings)
	v1.PATCH("/settings", c.UpdateSettings)

	v1.GET("/ocr/status", c.GetOCRStatus)
	v1.POST("/ocr/prepare", c.PrepareOCR)
	v1.POST("/ocr/pause", c.PauseOCR)
	v1.GET("/ocr/status/ws", c.StreamOCRStatus)

	if c.frames != nil {
		v1.GET("/frames/ws", c.HandleFrameFeed)
	}
}

func (c *Controller) healthCheck(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until ctx is done, then shuts down gracefully and waits for
// background work started by requests.
func (c *Controller) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		c.log.Info("http server starting", logger.String("address", c.listen))
		errCh <- c.Echo.Start(c.listen)
	}()

	select {
	case err := <-errCh:
		c.Shutdown()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryNetwork).
				Context("address", c.listen).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()
	c.Shutdown()
	if err := c.Echo.Shutdown(shutdownCtx); err != nil {
		c.log.Warn("http server shutdown incomplete", logger.Error(err))
	}
	c.log.Info("http server stopped")
	return nil
}

// Shutdown cancels background work and waits for it to return.
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// goBackground runs fn on the controller context, tracked for Shutdown.
func (c *Controller) goBackground(fn func(ctx context.Context)) {
	c.wg.Go(func() { fn(c.ctx) })
}
