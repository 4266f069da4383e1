// Package ocr manages the external text-recognition engine: installation
// by resumable download and extraction, readiness verification, and
// running recognitions.
package ocr

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/httpclient"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/observability/metrics"
)

// integrityLabel prefixes the combined checksum line of "7z h".
const integrityLabel = "CRC32  for data and names"

// Config describes one engine installation.
type Config struct {
	URL       string
	TotalSize int64
	// Root holds both the engine directory and the download cache.
	Root            string
	DirName         string
	CacheName       string
	Executable      string
	Archiver        string
	IntegrityMarker string
	ChunkSize       int
	AnalyzeTimeout  time.Duration

	// Client is dedicated to the engine, which installs its response hook.
	Client  *httpclient.Client
	Runner  Runner
	Logger  logger.Logger
	Metrics *metrics.OCRMetrics
}

// ConfigFromSettings maps application settings to an engine Config.
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		URL:             s.OCR.URL,
		TotalSize:       s.OCR.TotalSize,
		Root:            s.DataDir,
		DirName:         s.OCR.DirName,
		CacheName:       s.OCR.CacheName,
		Executable:      s.OCR.Executable,
		Archiver:        s.OCR.Archiver,
		IntegrityMarker: s.OCR.IntegrityMarker,
		ChunkSize:       s.OCR.ChunkSize,
		AnalyzeTimeout:  s.OCR.AnalyzeTimeout,
	}
}

// Engine owns the installation state. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	client  *httpclient.Client
	runner  Runner
	log     logger.Logger
	dlLog   logger.Logger
	metrics *metrics.OCRMetrics

	// gate admits one Prepare at a time; losers return PrepareBusy.
	gate sync.Mutex
	// downloading is set while Prepare fetches or extracts.
	downloading atomic.Bool
	// ready caches a positive readiness probe for the process lifetime.
	ready atomic.Bool
	// fetched is the cache file size while downloading.
	fetched atomic.Int64

	pauseMu sync.Mutex
	pause   *pauseToken
}

// New creates an Engine. Missing collaborators get defaults.
func New(cfg Config) *Engine {
	e := &Engine{
		cfg:     cfg,
		client:  cfg.Client,
		runner:  cfg.Runner,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	if e.client == nil {
		e.client = httpclient.New(nil)
	}
	if e.runner == nil {
		e.runner = ExecRunner{}
	}
	if e.log == nil {
		e.log = logger.NewNopLogger()
	}
	if e.cfg.ChunkSize <= 0 {
		e.cfg.ChunkSize = 32 * 1024
	}
	e.dlLog = e.log.Module("download")
	e.client.SetAfterResponseHook(e.observeResponse)
	return e
}

// Dir returns the engine installation directory.
func (e *Engine) Dir() string {
	return filepath.Join(e.cfg.Root, e.cfg.DirName)
}

// CachePath returns the partial archive path.
func (e *Engine) CachePath() string {
	return filepath.Join(e.cfg.Root, e.cfg.CacheName)
}

// TotalSize returns the expected archive size in bytes.
func (e *Engine) TotalSize() int64 {
	return e.cfg.TotalSize
}

// Ready reports whether the engine is installed and verified. It is false
// while a download runs. A positive result is cached.
func (e *Engine) Ready(ctx context.Context) bool {
	if e.ready.Load() {
		return true
	}
	if e.downloading.Load() {
		return false
	}
	ok, err := e.verify(ctx)
	if err != nil {
		e.log.Debug("engine readiness probe failed", logger.Error(err))
		return false
	}
	if ok {
		e.ready.Store(true)
		e.metrics.SetState(StateReady.String())
	}
	return ok
}

// Status returns the current state and download percentage.
func (e *Engine) Status(ctx context.Context) Status {
	if e.Ready(ctx) {
		return Status{State: StateReady, Percent: 100}
	}
	if e.downloading.Load() {
		return Status{State: StateDownloading, Percent: e.percent(e.fetched.Load())}
	}
	return Status{State: StateIdle, Percent: e.percent(e.cachedSize())}
}

func (e *Engine) percent(have int64) float64 {
	if e.cfg.TotalSize <= 0 {
		return 0
	}
	return min(float64(have)/float64(e.cfg.TotalSize)*100, 100)
}

// cachedSize is the partial archive length on disk, 0 if absent.
func (e *Engine) cachedSize() int64 {
	info, err := os.Stat(e.CachePath())
	if err != nil {
		return 0
	}
	return info.Size()
}

// Prepare installs the engine unless it is ready or another Prepare runs.
// A pause request ends it with PreparePaused and the partial archive
// intact for the next call.
func (e *Engine) Prepare(ctx context.Context) (PrepareOutcome, error) {
	if !e.gate.TryLock() {
		return PrepareBusy, nil
	}
	defer e.gate.Unlock()

	if e.Ready(ctx) {
		return PrepareReady, nil
	}

	token := e.armPause()
	defer e.disarmPause()

	e.downloading.Store(true)
	e.metrics.SetState(StateDownloading.String())
	defer func() {
		e.downloading.Store(false)
		if !e.ready.Load() {
			e.metrics.SetState(StateIdle.String())
		}
	}()

	start := time.Now()
	complete, err := e.download(ctx, token)
	if err != nil {
		return PrepareFailed, err
	}
	if !complete {
		e.log.Info("engine download paused",
			logger.Float64("percent", e.percent(e.fetched.Load())))
		return PreparePaused, nil
	}

	if err := e.extract(ctx); err != nil {
		e.metrics.RecordExtract(metrics.StatusError)
		return PrepareFailed, err
	}
	e.metrics.RecordExtract(metrics.StatusSuccess)

	e.downloading.Store(false)
	if !e.Ready(ctx) {
		return PrepareFailed, errors.Newf("engine failed verification after extraction").
			Component("ocr").
			Category(errors.CategoryArchive).
			Context("dir", e.Dir()).
			Build()
	}
	e.log.Info("engine installed", logger.Duration("elapsed", time.Since(start)))
	return PrepareInstalled, nil
}

// Pause asks a running download to stop after its current chunk. It
// reports whether a download was running.
func (e *Engine) Pause() bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	if e.pause == nil {
		return false
	}
	e.pause.signal()
	return true
}

func (e *Engine) armPause() *pauseToken {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	e.pause = newPauseToken()
	return e.pause
}

func (e *Engine) disarmPause() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	e.pause = nil
}

// pauseToken is a one-shot signal scoped to a single download, so pause
// requests never leak into the next one.
type pauseToken struct {
	once sync.Once
	ch   chan struct{}
}

func newPauseToken() *pauseToken {
	return &pauseToken{ch: make(chan struct{})}
}

func (t *pauseToken) signal() {
	t.once.Do(func() { close(t.ch) })
}

func (t *pauseToken) requested() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}
