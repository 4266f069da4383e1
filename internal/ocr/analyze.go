package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/recognition"
)

// ErrNotReady is returned by Analyze before the engine is installed.
var ErrNotReady = errors.NewStd("recognition engine is not ready")

// Analyze runs the engine on the image at path and returns the first line
// of its output that parses as a result.
func (e *Engine) Analyze(ctx context.Context, path string) (recognition.Result, error) {
	if !e.Ready(ctx) {
		return recognition.Result{}, ErrNotReady
	}

	if e.cfg.AnalyzeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AnalyzeTimeout)
		defer cancel()
	}

	start := time.Now()
	exe := filepath.Join(e.Dir(), e.cfg.Executable)
	stdout, stderr, err := e.runner.Run(ctx, e.Dir(), exe, "-image_path="+path)
	e.metrics.ObserveAnalyze(time.Since(start))

	// the engine's exit status is not meaningful; only a failed spawn is
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return recognition.Result{}, errors.New(err).
			Component("ocr").
			Category(errors.CategoryCommandExecution).
			Context("operation", "analyze").
			Context("image", path).
			Context("stderr", string(stderr)).
			Build()
	}

	if res, ok := firstResult(stdout); ok {
		return res, nil
	}
	return recognition.Result{}, errors.Newf("engine output contains no recognition result").
		Component("ocr").
		Category(errors.CategoryFileParsing).
		Context("operation", "analyze").
		Context("image", path).
		Context("raw_output", string(stdout)).
		Build()
}

// firstResult scans line-delimited output, tolerating CRLF.
func firstResult(output []byte) (recognition.Result, bool) {
	for line := range bytes.SplitSeq(output, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if res, err := recognition.Parse(line); err == nil {
			return res, true
		}
	}
	return recognition.Result{}, false
}
