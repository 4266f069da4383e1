package ocr

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/httpclient"
	"github.com/clipvault/clipvault/internal/observability/metrics"
)

const (
	testURL    = "https://example.invalid/engine.7z"
	testMarker = "170E28C3-00000029"
	testDir    = "engine"
)

var hashOutput = "7-Zip 23.01\n\nCRC32  for data:              1234ABCD-00000010\n" +
	"CRC32  for data and names:    " + testMarker + "\n\nEverything is Ok\n"

type fakeRunner struct {
	mu    sync.Mutex
	calls []string

	extractErr    error
	extractStderr string
	hashOut       string
	analyzeOut    string
	analyzeErr    error
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(append([]string{filepath.Base(name)}, args...), " "))

	switch {
	case len(args) > 0 && args[0] == "x":
		if f.extractErr != nil {
			return nil, []byte(f.extractStderr), f.extractErr
		}
		root := strings.TrimPrefix(args[2], "-o")
		return nil, nil, os.MkdirAll(filepath.Join(root, testDir), 0o755)
	case len(args) > 0 && args[0] == "h":
		return []byte(f.hashOut), nil, nil
	default:
		return []byte(f.analyzeOut), nil, f.analyzeErr
	}
}

func (f *fakeRunner) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func setupEngine(t *testing.T, url string, total int64, runner *fakeRunner) *Engine {
	t.Helper()
	return newTestEngine(t, url, total, runner, nil, nil)
}

// setupMockEngine serves the archive URL from an httpmock transport.
func setupMockEngine(t *testing.T, total int64, runner *fakeRunner) (*Engine, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	return newTestEngine(t, testURL, total, runner, mock, nil), mock
}

func newTestEngine(t *testing.T, url string, total int64, runner *fakeRunner, transport http.RoundTripper, m *metrics.OCRMetrics) *Engine {
	t.Helper()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	t.Cleanup(client.Close)
	return New(Config{
		URL:             url,
		TotalSize:       total,
		Root:            t.TempDir(),
		DirName:         testDir,
		CacheName:       ".engine.7z.cache",
		Executable:      "PaddleOCR-json.exe",
		Archiver:        "7z",
		IntegrityMarker: testMarker,
		ChunkSize:       8,
		Client:          client,
		Runner:          runner,
		Metrics:         m,
	})
}

func archive(total int) []byte {
	b := make([]byte, total)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestStatusSignal(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 111.1, Status{State: StateReady, Percent: 100}.Signal(), 1e-9)
	assert.InDelta(t, 40.0, Status{State: StateDownloading, Percent: 40}.Signal(), 1e-9)
	assert.InDelta(t, -71.1, Status{State: StateIdle, Percent: 40}.Signal(), 1e-9)
	assert.Less(t, Status{State: StateDownloading, Percent: 100}.Signal(), 100.0)
	assert.Negative(t, Status{State: StateIdle, Percent: 100}.Signal())
}

func TestDownloadResumesFromCachedLength(t *testing.T) {
	t.Parallel()
	data := archive(100)
	runner := &fakeRunner{hashOut: hashOutput}
	e, mock := setupMockEngine(t, int64(len(data)), runner)

	const have = 37
	require.NoError(t, os.WriteFile(e.CachePath(), data[:have], 0o644))

	var gotRange string
	mock.RegisterResponder(http.MethodGet, testURL, func(req *http.Request) (*http.Response, error) {
		gotRange = req.Header.Get("Range")
		return httpmock.NewBytesResponse(http.StatusPartialContent, data[have:]), nil
	})

	assert.Equal(t, StateIdle, e.Status(t.Context()).State)
	assert.InDelta(t, 37.0, e.Status(t.Context()).Percent, 1e-9)

	outcome, err := e.Prepare(t.Context())
	require.NoError(t, err)
	assert.Equal(t, PrepareInstalled, outcome)
	assert.Equal(t, "bytes=37-99", gotRange)

	got, err := os.ReadFile(e.CachePath())
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.True(t, e.Ready(t.Context()))
	assert.Equal(t, 1, runner.count("7z x"))
}

func TestFreshDownloadSendsNoRange(t *testing.T) {
	t.Parallel()
	data := archive(64)
	e, mock := setupMockEngine(t, int64(len(data)), &fakeRunner{hashOut: hashOutput})

	mock.RegisterResponder(http.MethodGet, testURL, func(req *http.Request) (*http.Response, error) {
		assert.Empty(t, req.Header.Get("Range"))
		return httpmock.NewBytesResponse(http.StatusOK, data), nil
	})

	outcome, err := e.Prepare(t.Context())
	require.NoError(t, err)
	assert.Equal(t, PrepareInstalled, outcome)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestDownloadResponsesAreCounted(t *testing.T) {
	t.Parallel()
	data := archive(32)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewOCRMetrics(reg)
	require.NoError(t, err)

	mock := httpmock.NewMockTransport()
	e := newTestEngine(t, testURL, int64(len(data)), &fakeRunner{hashOut: hashOutput}, mock, m)
	mock.RegisterResponder(http.MethodGet, testURL,
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusBadGateway, "bad gateway"),
			httpmock.NewBytesResponse(http.StatusOK, data),
		}))

	_, err = e.Prepare(t.Context())
	require.Error(t, err)
	outcome, err := e.Prepare(t.Context())
	require.NoError(t, err)
	assert.Equal(t, PrepareInstalled, outcome)

	expected := `
# HELP clipvault_ocr_download_responses_total Archive download responses by HTTP status code, or error
# TYPE clipvault_ocr_download_responses_total counter
clipvault_ocr_download_responses_total{status="200"} 1
clipvault_ocr_download_responses_total{status="502"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"clipvault_ocr_download_responses_total"))
}

func TestServerIgnoringRangeRestartsCleanly(t *testing.T) {
	t.Parallel()
	data := archive(50)
	e, mock := setupMockEngine(t, int64(len(data)), &fakeRunner{hashOut: hashOutput})
	require.NoError(t, os.WriteFile(e.CachePath(), []byte("garbage"), 0o644))

	mock.RegisterResponder(http.MethodGet, testURL, httpmock.NewBytesResponder(http.StatusOK, data))

	_, err := e.Prepare(t.Context())
	require.NoError(t, err)
	got, err := os.ReadFile(e.CachePath())
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadHTTPErrorKeepsPartialFile(t *testing.T) {
	t.Parallel()
	e, mock := setupMockEngine(t, 100, &fakeRunner{hashOut: hashOutput})
	require.NoError(t, os.WriteFile(e.CachePath(), make([]byte, 10), 0o644))

	mock.RegisterResponder(http.MethodGet, testURL, httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway"))

	outcome, err := e.Prepare(t.Context())
	require.Error(t, err)
	assert.Equal(t, PrepareFailed, outcome)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))

	info, err := os.Stat(e.CachePath())
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size())
	assert.Equal(t, StateIdle, e.Status(t.Context()).State)
}

// slowServer streams total bytes in small flushed chunks, honoring Range,
// and waits on release between chunks.
func slowServer(t *testing.T, data []byte, release <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := 0
		if rng := r.Header.Get("Range"); rng != "" {
			spec := strings.TrimPrefix(rng, "bytes=")
			from, _, _ := strings.Cut(spec, "-")
			start, _ = strconv.Atoi(from)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		flusher := w.(http.Flusher)
		for i := start; i < len(data); i += 4 {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
			end := min(i+4, len(data))
			if _, err := w.Write(data[i:end]); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPauseStopsWithinOneChunkAndResumes(t *testing.T) {
	t.Parallel()
	data := archive(400)
	release := make(chan struct{})
	srv := slowServer(t, data, release)
	runner := &fakeRunner{hashOut: hashOutput}
	e := setupEngine(t, srv.URL, int64(len(data)), runner)

	done := make(chan PrepareOutcome, 1)
	go func() {
		outcome, err := e.Prepare(context.Background())
		assert.NoError(t, err)
		done <- outcome
	}()

	for range 5 {
		release <- struct{}{}
	}
	require.Eventually(t, func() bool { return e.fetched.Load() >= 20 }, 2*time.Second, 5*time.Millisecond)

	status := e.Status(t.Context())
	assert.Equal(t, StateDownloading, status.State)
	assert.GreaterOrEqual(t, status.Signal(), 0.0)
	assert.Less(t, status.Signal(), 100.0)

	require.True(t, e.Pause())
	// one more chunk may be in flight
	select {
	case release <- struct{}{}:
	case <-time.After(100 * time.Millisecond):
	}

	var outcome PrepareOutcome
	select {
	case outcome = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("download did not stop after pause")
	}
	assert.Equal(t, PreparePaused, outcome)
	assert.False(t, e.Pause(), "no download left to pause")

	info, err := os.Stat(e.CachePath())
	require.NoError(t, err)
	paused := info.Size()
	assert.GreaterOrEqual(t, paused, int64(20))
	assert.LessOrEqual(t, paused, int64(24), "writes stop within one chunk")

	time.Sleep(50 * time.Millisecond)
	info, err = os.Stat(e.CachePath())
	require.NoError(t, err)
	assert.Equal(t, paused, info.Size(), "file never changes after pause")

	idle := e.Status(t.Context())
	assert.Equal(t, StateIdle, idle.State)
	assert.Negative(t, idle.Signal())
	assert.Zero(t, runner.count("7z x"), "paused downloads are not extracted")

	close(release)
	outcome, err = e.Prepare(t.Context())
	require.NoError(t, err)
	assert.Equal(t, PrepareInstalled, outcome)

	got, err := os.ReadFile(e.CachePath())
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestConcurrentPrepareIsNoOp(t *testing.T) {
	t.Parallel()
	data := archive(40)
	release := make(chan struct{})
	srv := slowServer(t, data, release)
	e := setupEngine(t, srv.URL, int64(len(data)), &fakeRunner{hashOut: hashOutput})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Prepare(context.Background())
	}()
	require.Eventually(t, func() bool { return e.downloading.Load() }, time.Second, time.Millisecond)

	outcome, err := e.Prepare(t.Context())
	require.NoError(t, err)
	assert.Equal(t, PrepareBusy, outcome)
	assert.False(t, e.Ready(t.Context()), "never ready while downloading")

	close(release)
	<-done
	assert.True(t, e.Ready(t.Context()))

	outcome, err = e.Prepare(t.Context())
	require.NoError(t, err)
	assert.Equal(t, PrepareReady, outcome)
}

func TestExtractFailureCarriesDiagnostic(t *testing.T) {
	t.Parallel()
	data := archive(16)
	runner := &fakeRunner{
		hashOut:       hashOutput,
		extractErr:    &exec.ExitError{},
		extractStderr: "ERROR: Data Error : engine.7z\n",
	}
	e, mock := setupMockEngine(t, int64(len(data)), runner)
	mock.RegisterResponder(http.MethodGet, testURL, httpmock.NewBytesResponder(http.StatusOK, data))

	outcome, err := e.Prepare(t.Context())
	require.Error(t, err)
	assert.Equal(t, PrepareFailed, outcome)
	assert.True(t, errors.IsCategory(err, errors.CategoryArchive))
	diag, ok := errors.ContextValue(err, "diagnostic")
	require.True(t, ok)
	assert.Equal(t, "ERROR: Data Error : engine.7z", diag)
}

func TestExtractRemovesStaleInstall(t *testing.T) {
	t.Parallel()
	data := archive(16)
	e, mock := setupMockEngine(t, int64(len(data)), &fakeRunner{hashOut: "CRC32  for data and names: WRONG\n"})
	stale := filepath.Join(e.Dir(), "stale.dll")
	require.NoError(t, os.MkdirAll(e.Dir(), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	mock.RegisterResponder(http.MethodGet, testURL, httpmock.NewBytesResponder(http.StatusOK, data))

	_, err := e.Prepare(t.Context())
	require.Error(t, err, "verification fails with a wrong marker")
	assert.NoFileExists(t, stale)
}

func TestReadinessIsCached(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{hashOut: hashOutput}
	e := setupEngine(t, testURL, 10, runner)

	assert.False(t, e.Ready(t.Context()), "no directory")
	assert.Zero(t, runner.count("7z h"))

	require.NoError(t, os.MkdirAll(e.Dir(), 0o755))
	assert.True(t, e.Ready(t.Context()))
	assert.True(t, e.Ready(t.Context()))
	assert.Equal(t, 1, runner.count("7z h"))

	require.NoError(t, os.RemoveAll(e.Dir()))
	assert.True(t, e.Ready(t.Context()), "ready never downgrades")
	assert.Equal(t, StateReady, e.Status(t.Context()).State)
}

func TestHasIntegrityMarker(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"match", hashOutput, true},
		{"crlf", strings.ReplaceAll(hashOutput, "\n", "\r\n"), true},
		{"data only line", "CRC32  for data: " + testMarker + "\n", false},
		{"wrong marker", "CRC32  for data and names: 00000000-00000029\n", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasIntegrityMarker([]byte(tt.output), testMarker))
		})
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	t.Run("not ready", func(t *testing.T) {
		e := setupEngine(t, testURL, 10, &fakeRunner{})
		_, err := e.Analyze(t.Context(), "cache.2.png")
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("first parseable line", func(t *testing.T) {
		runner := &fakeRunner{
			hashOut: hashOutput,
			analyzeOut: "OCR init completed.\r\n" +
				`{"code":100,"data":[{"box":[[0,0],[9,0],[9,9],[0,9]],"score":0.9,"text":"Hi"}]}` + "\r\n" +
				`{"code":100,"data":"second"}` + "\r\n",
			analyzeErr: &exec.ExitError{},
		}
		e := setupEngine(t, testURL, 10, runner)
		require.NoError(t, os.MkdirAll(e.Dir(), 0o755))

		res, err := e.Analyze(t.Context(), "/data/cache.2.png")
		require.NoError(t, err)
		assert.True(t, res.Contains("Hi"))
		assert.Equal(t, 1, runner.count("PaddleOCR-json.exe -image_path=/data/cache.2.png"))
	})

	t.Run("no result attaches raw output", func(t *testing.T) {
		runner := &fakeRunner{hashOut: hashOutput, analyzeOut: "OCR init completed.\r\nsegfault\r\n"}
		e := setupEngine(t, testURL, 10, runner)
		require.NoError(t, os.MkdirAll(e.Dir(), 0o755))

		_, err := e.Analyze(t.Context(), "x.png")
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
		raw, ok := errors.ContextValue(err, "raw_output")
		require.True(t, ok)
		assert.Contains(t, raw, "segfault")
	})

	t.Run("spawn failure", func(t *testing.T) {
		runner := &fakeRunner{hashOut: hashOutput, analyzeErr: exec.ErrNotFound}
		e := setupEngine(t, testURL, 10, runner)
		require.NoError(t, os.MkdirAll(e.Dir(), 0o755))

		_, err := e.Analyze(t.Context(), "x.png")
		assert.True(t, errors.IsCategory(err, errors.CategoryCommandExecution))
	})
}

func TestFirstResultSkipsBlankLines(t *testing.T) {
	t.Parallel()
	res, ok := firstResult(bytes.Join([][]byte{nil, []byte("  "), []byte(`{"code":101,"data":"none"}`)}, []byte("\n")))
	require.True(t, ok)
	assert.Equal(t, 101, res.Code)
}
