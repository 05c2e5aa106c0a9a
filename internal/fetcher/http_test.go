package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// statusServer answers with the given codes in order, repeating the last one.
func statusServer(t *testing.T, codes ...int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&hits, 1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(codes[n])
		io.WriteString(w, "<html><body>ok</body></html>")
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestFetcher(rec *sleepRecorder) *HTTPFetcher {
	return NewHTTPFetcher(DefaultHTTPOptions(), quietLogger()).WithSleep(rec.sleep)
}

func TestHTTPFetcherSuccessFirstAttempt(t *testing.T) {
	srv, hits := statusServer(t, http.StatusOK)
	rec := &sleepRecorder{}

	res, err := newTestFetcher(rec).Fetch(context.Background(), Request{URL: srv.URL, MaxRetries: 3, BaseDelay: time.Second})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(res.Body), "ok")
	assert.Equal(t, "text/html", res.ContentType)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
	assert.Empty(t, rec.waits)
}

func TestHTTPFetcherSendsBrowserIdentity(t *testing.T) {
	var ua, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newTestFetcher(&sleepRecorder{}).Fetch(context.Background(), Request{URL: srv.URL, MaxRetries: 1})
	require.NoError(t, err)

	assert.Contains(t, ua, "Mozilla/5.0")
	assert.Contains(t, accept, "text/html")
}

func TestHTTPFetcherLinearBackoff(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusOK)
	rec := &sleepRecorder{}

	res, err := newTestFetcher(rec).Fetch(context.Background(), Request{URL: srv.URL, MaxRetries: 4, BaseDelay: time.Second})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Attempts)
	assert.EqualValues(t, 4, atomic.LoadInt32(hits))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, rec.waits)
}

func TestHTTPFetcherBlockedBackoff(t *testing.T) {
	srv, _ := statusServer(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusForbidden, http.StatusOK)
	rec := &sleepRecorder{}

	_, err := newTestFetcher(rec).Fetch(context.Background(), Request{URL: srv.URL, MaxRetries: 4, BaseDelay: time.Second})
	require.NoError(t, err)

	require.Len(t, rec.waits, 3)
	assert.Equal(t, time.Second, rec.waits[0])
	assert.Equal(t, 2*time.Second, rec.waits[1])
	assert.GreaterOrEqual(t, rec.waits[2], 2*time.Second, "wait after 403 must be at least double the base delay")
}

func TestHTTPFetcherExhausted(t *testing.T) {
	srv, hits := statusServer(t, http.StatusNotFound)
	rec := &sleepRecorder{}

	res, err := newTestFetcher(rec).Fetch(context.Background(), Request{URL: srv.URL, MaxRetries: 3, BaseDelay: 10 * time.Millisecond})
	require.Error(t, err)
	assert.Nil(t, res)

	assert.True(t, errors.Is(err, ErrExhausted))

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ReasonExhausted, fe.Reason)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	require.NotNil(t, fe.Last)
	assert.Equal(t, ReasonHTTP, fe.Last.Reason)

	assert.EqualValues(t, 3, atomic.LoadInt32(hits), "at most MaxRetries attempts")
	assert.Len(t, rec.waits, 2)
}

func TestHTTPFetcherConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &sleepRecorder{}
	_, err := newTestFetcher(rec).Fetch(context.Background(), Request{URL: url, MaxRetries: 2, BaseDelay: time.Millisecond})
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ReasonExhausted, fe.Reason)
	require.NotNil(t, fe.Last)
	assert.Equal(t, ReasonConnection, fe.Last.Reason)
}

func TestHTTPFetcherRejectsInvalidRequest(t *testing.T) {
	_, err := newTestFetcher(&sleepRecorder{}).Fetch(context.Background(), Request{URL: "http://example.com", MaxRetries: 0})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestHTTPFetcherStopsOnCancelledContext(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	f := NewHTTPFetcher(DefaultHTTPOptions(), quietLogger()).WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := f.Fetch(ctx, Request{URL: srv.URL, MaxRetries: 5, BaseDelay: time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
}
