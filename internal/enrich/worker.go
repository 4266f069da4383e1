// Package enrich runs the background loop that attaches recognition
// results to stored images, one record per tick.
package enrich

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/datastore/repository"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/observability/metrics"
	"github.com/clipvault/clipvault/internal/recognition"
)

// Store is the part of the image repository the worker needs.
type Store interface {
	FindUnenriched(ctx context.Context) (*entities.Image, error)
	UpdateOCR(ctx context.Context, id int64, result recognition.Result) error
}

// Analyzer is the recognition engine.
type Analyzer interface {
	Ready(ctx context.Context) bool
	Analyze(ctx context.Context, path string) (recognition.Result, error)
}

// Preferences supplies the ocr_feature switch.
type Preferences interface {
	Get() conf.Preferences
}

// Config holds the worker's collaborators.
type Config struct {
	Store       Store
	Analyzer    Analyzer
	Preferences Preferences
	// ScratchPath receives each image before analysis.
	ScratchPath string
	Interval    time.Duration
	Logger      logger.Logger
	Metrics     *metrics.OCRMetrics
}

// Outcome reports what a tick did.
type Outcome uint8

const (
	// OutcomeDisabled means ocr_feature is off.
	OutcomeDisabled Outcome = iota
	// OutcomeNotReady means the engine is not installed.
	OutcomeNotReady
	// OutcomeIdle means every record is enriched.
	OutcomeIdle
	// OutcomeEnriched means one record received a result.
	OutcomeEnriched
	// OutcomeFailed accompanies a non-nil error.
	OutcomeFailed
)

// Worker enriches records in the background.
type Worker struct {
	store    Store
	analyzer Analyzer
	prefs    Preferences
	scratch  string
	interval time.Duration
	log      logger.Logger
	metrics  *metrics.OCRMetrics

	// gate serializes recognitions, which share the scratch file.
	gate sync.Mutex
}

// New creates a Worker.
func New(cfg Config) *Worker {
	w := &Worker{
		store:    cfg.Store,
		analyzer: cfg.Analyzer,
		prefs:    cfg.Preferences,
		scratch:  cfg.ScratchPath,
		interval: cfg.Interval,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if w.log == nil {
		w.log = logger.NewNopLogger()
	}
	return w
}

// Tick enriches at most one record.
func (w *Worker) Tick(ctx context.Context) (Outcome, error) {
	if !w.prefs.Get().OCREnabled() {
		return OutcomeDisabled, nil
	}
	if !w.analyzer.Ready(ctx) {
		return OutcomeNotReady, nil
	}

	img, err := w.store.FindUnenriched(ctx)
	if errors.Is(err, repository.ErrImageNotFound) {
		return OutcomeIdle, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	result, err := w.Recognize(ctx, img.Image)
	if err != nil {
		return OutcomeFailed, errors.New(err).
			Component("enrich").
			Context("image_id", img.ID).
			Build()
	}

	if err := w.store.UpdateOCR(ctx, img.ID, result); err != nil {
		return OutcomeFailed, err
	}
	w.log.Debug("image enriched",
		logger.Int64("id", img.ID),
		logger.Int("code", result.Code),
		logger.Int("fragments", len(result.Data.Fragments())))
	return OutcomeEnriched, nil
}

// Recognize writes image to the scratch file and analyzes it. Calls are
// serialized process-wide.
func (w *Worker) Recognize(ctx context.Context, image []byte) (recognition.Result, error) {
	w.gate.Lock()
	defer w.gate.Unlock()

	if err := os.WriteFile(w.scratch, image, 0o600); err != nil {
		return recognition.Result{}, errors.New(err).
			Component("enrich").
			Category(errors.CategoryFileIO).
			Context("operation", "write-scratch").
			Context("path", w.scratch).
			Build()
	}
	return w.analyzer.Analyze(ctx, w.scratch)
}

// Run ticks every interval until ctx is done. Failures are logged; the
// record stays unenriched and is retried on a later tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("enrichment worker started", logger.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("enrichment worker stopped")
			return nil
		case <-ticker.C:
			outcome, err := w.Tick(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				w.metrics.RecordEnrich(metrics.StatusError)
				w.log.Warn("enrichment failed", logger.Error(err))
			case outcome == OutcomeEnriched:
				w.metrics.RecordEnrich(metrics.StatusSuccess)
			}
		}
	}
}
