package ocr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/observability/metrics"
)

const progressLogInterval = 5 * time.Second

// download appends the rest of the archive to the cache file. It returns
// false when a pause request stopped it early. Bytes already on disk are
// never truncated, except when the server ignores the range and resends
// the whole archive.
func (e *Engine) download(ctx context.Context, token *pauseToken) (bool, error) {
	have := e.cachedSize()
	e.fetched.Store(have)
	total := e.cfg.TotalSize
	if have >= total {
		return true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL, http.NoBody)
	if err != nil {
		return false, e.networkError(err, have)
	}
	if have > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", have, total-1))
	}

	resp, err := e.client.Stream(ctx, req)
	if err != nil {
		return false, e.networkError(err, have)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.dlLog.Debug("failed to close response body", logger.Error(cerr))
		}
	}()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		if have > 0 {
			e.dlLog.Warn("server ignored range request, restarting download",
				logger.Int64("discarded_bytes", have))
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			have = 0
			e.fetched.Store(0)
		}
	default:
		return false, e.networkError(fmt.Errorf("unexpected HTTP status %s", resp.Status), have)
	}

	file, err := os.OpenFile(e.CachePath(), flags, 0o644)
	if err != nil {
		return false, errors.New(err).
			Component("ocr").
			Category(errors.CategoryFileIO).
			Context("operation", "open-cache").
			Context("path", e.CachePath()).
			Build()
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			e.dlLog.Warn("failed to close archive cache", logger.Error(cerr))
		}
	}()

	e.dlLog.Info("downloading engine archive",
		logger.String("resume_from", humanize.IBytes(uint64(have))),
		logger.String("total", humanize.IBytes(uint64(total))))

	progress := rate.Sometimes{Interval: progressLogInterval}
	buf := make([]byte, e.cfg.ChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return false, errors.New(err).
					Component("ocr").
					Category(errors.CategoryFileIO).
					Context("operation", "append-cache").
					Context("offset", have).
					Build()
			}
			have += int64(n)
			e.fetched.Store(have)
			e.metrics.AddDownloaded(int64(n), have, total)
			progress.Do(func() {
				e.dlLog.Debug("download progress",
					logger.String("fetched", humanize.IBytes(uint64(have))),
					logger.Float64("percent", e.percent(have)))
			})
			if token.requested() {
				return false, nil
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return false, e.networkError(readErr, have)
		}
	}

	if have < total {
		return false, e.networkError(fmt.Errorf("stream ended at %d of %d bytes", have, total), have)
	}
	return true, nil
}

// observeResponse counts every archive request by outcome.
func (e *Engine) observeResponse(req *http.Request, resp *http.Response, err error) {
	if err != nil {
		e.metrics.RecordDownloadResponse(metrics.StatusError)
		return
	}
	e.metrics.RecordDownloadResponse(strconv.Itoa(resp.StatusCode))
	e.dlLog.Debug("archive response",
		logger.Int("status", resp.StatusCode),
		logger.String("range", req.Header.Get("Range")),
		logger.Int64("content_length", resp.ContentLength))
}

func (e *Engine) networkError(err error, offset int64) error {
	category := errors.CategoryNetwork
	if errors.Is(err, context.Canceled) {
		category = errors.CategoryCancellation
	}
	return errors.New(err).
		Component("ocr").
		Category(category).
		Context("operation", "download").
		Context("url", e.cfg.URL).
		Context("offset", offset).
		Build()
}
