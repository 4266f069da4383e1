package ocr

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
)

// extract replaces any stale installation with the cached archive's
// contents. A non-zero archiver exit carries its stderr as diagnostic.
func (e *Engine) extract(ctx context.Context) error {
	if err := os.RemoveAll(e.Dir()); err != nil {
		e.log.Info("could not remove stale engine directory", logger.Error(err))
	}

	_, stderr, err := e.runner.Run(ctx, e.cfg.Root, e.cfg.Archiver, "x", "-y", "-o"+e.cfg.Root, e.CachePath())
	if err == nil {
		return nil
	}

	category := errors.CategoryCommandExecution
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		category = errors.CategoryArchive
	}
	return errors.New(err).
		Component("ocr").
		Category(category).
		Context("operation", "extract").
		Context("archive", e.CachePath()).
		Context("diagnostic", strings.TrimSpace(string(stderr))).
		Build()
}

// verify reports whether the engine directory exists and its content
// hash, as printed by "7z h", carries the expected marker.
func (e *Engine) verify(ctx context.Context) (bool, error) {
	info, err := os.Stat(e.Dir())
	if err != nil || !info.IsDir() {
		return false, nil
	}

	stdout, _, err := e.runner.Run(ctx, e.cfg.Root, e.cfg.Archiver, "h", e.Dir())
	if err != nil {
		return false, errors.New(err).
			Component("ocr").
			Category(errors.CategoryCommandExecution).
			Context("operation", "verify").
			Build()
	}
	return hasIntegrityMarker(stdout, e.cfg.IntegrityMarker), nil
}

func hasIntegrityMarker(output []byte, marker string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, integrityLabel) && strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
