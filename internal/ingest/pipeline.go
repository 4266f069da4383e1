// Package ingest turns captured frames into stored image records,
// collapsing consecutive captures of identical content.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/datastore/repository"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/observability/metrics"
)

// Store is the persistence the pipeline commits to.
type Store interface {
	Save(ctx context.Context, img *entities.Image, now int64) (repository.SaveOutcome, error)
}

// Config holds the pipeline's collaborators.
type Config struct {
	Store Store
	// ScratchPath is overwritten with every encoded frame.
	ScratchPath string
	Logger      logger.Logger
	Metrics     *metrics.StoreMetrics
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Pipeline encodes, hashes and commits frames.
type Pipeline struct {
	store   Store
	scratch string
	log     logger.Logger
	metrics *metrics.StoreMetrics
	now     func() time.Time

	// mu guards the scratch file from the write through the read-back.
	mu sync.Mutex
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil || cfg.ScratchPath == "" {
		return nil, errors.Newf("ingest pipeline requires a store and a scratch path").
			Component("ingest").
			Category(errors.CategoryConfiguration).
			Build()
	}
	p := &Pipeline{
		store:   cfg.Store,
		scratch: cfg.ScratchPath,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Clock,
	}
	if p.log == nil {
		p.log = logger.NewNopLogger()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Ingest encodes frame as PNG and commits it. Identical content to the
// newest record only advances that record's mtime.
func (p *Pipeline) Ingest(ctx context.Context, frame Frame) (repository.SaveOutcome, error) {
	start := time.Now()
	out, err := p.ingest(ctx, frame)
	switch {
	case err != nil:
		p.metrics.RecordIngest(metrics.OutcomeFailed, time.Since(start))
		p.log.Warn("ingestion failed",
			logger.Int("width", frame.Width),
			logger.Int("height", frame.Height),
			logger.Error(err))
	case out.Touched:
		p.metrics.RecordIngest(metrics.OutcomeTouched, time.Since(start))
		p.log.Debug("duplicate of newest record, touched",
			logger.Int64("id", out.ID),
			logger.Int64("mtime", out.MTime))
	default:
		p.metrics.RecordIngest(metrics.OutcomeInserted, time.Since(start))
		p.log.Info("image stored",
			logger.Int64("id", out.ID),
			logger.Int("width", frame.Width),
			logger.Int("height", frame.Height))
	}
	return out, err
}

func (p *Pipeline) ingest(ctx context.Context, frame Frame) (repository.SaveOutcome, error) {
	if err := frame.Validate(); err != nil {
		return repository.SaveOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return repository.SaveOutcome{}, err
	}

	encoded, err := p.encode(frame)
	if err != nil {
		return repository.SaveOutcome{}, err
	}

	return p.store.Save(ctx, &entities.Image{
		Image:  encoded,
		Size:   int64(len(encoded)),
		Width:  frame.Width,
		Height: frame.Height,
		Sum:    Sum(encoded),
	}, p.now().UnixMilli())
}

// encode writes the PNG to the scratch file and reads it back.
func (p *Pipeline) encode(frame Frame) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := imaging.Save(frame.Image(), p.scratch); err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryImageProcessing).
			Context("operation", "encode").
			Context("path", p.scratch).
			Build()
	}
	encoded, err := os.ReadFile(p.scratch)
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("operation", "read-scratch").
			Context("path", p.scratch).
			Build()
	}
	return encoded, nil
}

// IngestFrames commits frames in order and stops at the first failure.
func (p *Pipeline) IngestFrames(ctx context.Context, frames []Frame) ([]repository.SaveOutcome, error) {
	outcomes := make([]repository.SaveOutcome, 0, len(frames))
	for i := range frames {
		out, err := p.Ingest(ctx, frames[i])
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// IngestFiles decodes every file before committing any of them, so an
// unreadable file aborts the whole batch without side effects.
func (p *Pipeline) IngestFiles(ctx context.Context, paths []string) ([]repository.SaveOutcome, error) {
	frames := make([]Frame, 0, len(paths))
	for _, path := range paths {
		frame, err := DecodeFile(path)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return p.IngestFrames(ctx, frames)
}

// Sum returns the hex SHA-256 digest of encoded image bytes.
func Sum(encoded []byte) string {
	h := sha256.Sum256(encoded)
	return hex.EncodeToString(h[:])
}
