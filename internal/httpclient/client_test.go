package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStreamServer serves chunks with a flush and a pause between each,
// the way a slow archive mirror delivers.
func setupStreamServer(t *testing.T, pause time.Duration, chunks ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for _, chunk := range chunks {
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(pause):
			}
			_, _ = io.WriteString(w, chunk)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func setupClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := New(cfg)
	t.Cleanup(client.Close)
	return client
}

func newGet(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	return req
}

func closeBody(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		t.Logf("failed to close response body: %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client := New(nil)
		assert.Equal(t, defaultUserAgent, client.userAgent)
		assert.IsType(t, &http.Transport{}, client.client.Transport)
	})

	t.Run("custom config is not mutated", func(t *testing.T) {
		cfg := Config{UserAgent: "TestAgent/1.0"}
		client := New(&cfg)

		assert.Equal(t, "TestAgent/1.0", client.userAgent)
		assert.Zero(t, cfg.MaxIdleConns)
	})

	t.Run("custom transport", func(t *testing.T) {
		mock := httpmock.NewMockTransport()
		mock.RegisterResponder(http.MethodGet, "https://mirror.test/archive.7z",
			httpmock.NewStringResponder(http.StatusOK, "archive"))
		client := setupClient(t, &Config{Transport: mock})

		resp, err := client.Stream(t.Context(), newGet(t, t.Context(), "https://mirror.test/archive.7z"))
		require.NoError(t, err)
		defer closeBody(t, resp)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "archive", string(body))
		assert.Equal(t, 1, mock.GetTotalCallCount())
	})
}

func TestStream_UserAgent(t *testing.T) {
	var received []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = append(received, r.Header.Get("User-Agent"))
	}))
	t.Cleanup(server.Close)
	client := setupClient(t, &Config{UserAgent: "CustomAgent/2.0"})

	resp, err := client.Stream(t.Context(), newGet(t, t.Context(), server.URL))
	require.NoError(t, err)
	closeBody(t, resp)

	req := newGet(t, t.Context(), server.URL)
	req.Header.Set("User-Agent", "Explicit/1.0")
	resp, err = client.Stream(t.Context(), req)
	require.NoError(t, err)
	closeBody(t, resp)

	assert.Equal(t, []string{"CustomAgent/2.0", "Explicit/1.0"}, received)
}

func TestStream_SlowBodyIsNotCutOff(t *testing.T) {
	server := setupStreamServer(t, 50*time.Millisecond, "first-", "second")
	client := setupClient(t, &Config{ResponseHeaderTimeout: 20 * time.Millisecond})

	resp, err := client.Stream(t.Context(), newGet(t, t.Context(), server.URL))
	require.NoError(t, err)
	defer closeBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(body))
}

func TestStream_ContextCancellation(t *testing.T) {
	server := setupStreamServer(t, time.Second, "never")
	client := setupClient(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	resp, err := client.Stream(ctx, newGet(t, ctx, server.URL))
	defer closeBody(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_ResponseHook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
	}))
	client := setupClient(t, nil)

	var (
		seenRange  string
		seenStatus int
		seenErr    error
	)
	client.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error) {
		seenRange = req.Header.Get("Range")
		seenErr = err
		if err == nil {
			seenStatus = resp.StatusCode
		}
	})

	req := newGet(t, t.Context(), server.URL)
	req.Header.Set("Range", "bytes=10-20")
	resp, err := client.Stream(t.Context(), req)
	require.NoError(t, err)
	closeBody(t, resp)

	assert.Equal(t, "bytes=10-20", seenRange)
	assert.Equal(t, http.StatusPartialContent, seenStatus)
	assert.NoError(t, seenErr)

	server.Close()
	resp, err = client.Stream(t.Context(), newGet(t, t.Context(), server.URL))
	closeBody(t, resp)
	require.Error(t, err)
	assert.Error(t, seenErr)
}

func TestStream_NilRequest(t *testing.T) {
	_, err := setupClient(t, nil).Stream(t.Context(), nil)
	assert.Error(t, err)
}
