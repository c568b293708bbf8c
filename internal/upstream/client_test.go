package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impactweather/internal/types"
)

func newTestClient(t *testing.T, policy RetryPolicy, opts ...ClientOption) (*Client, *Scheduler) {
	t.Helper()

	s := NewScheduler(4, 0, discardLogger())
	t.Cleanup(s.Close)

	base := []ClientOption{
		WithSleepFunc(func(time.Duration) {}),
		WithJitterFunc(func() float64 { return 0.5 }), // jitter multiplier 1.0
	}
	c := NewClient(nil, s, "test", policy, "impact-weather-map/1.0", append(base, opts...)...)
	return c, s
}

func TestClientSuccessFirstAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "impact-weather-map/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, DefaultRetryPolicy())

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var delays []time.Duration
	c, _ := newTestClient(t, RetryPolicy{MaxRetries: 3, BackoffBase: 500 * time.Millisecond},
		WithSleepFunc(func(d time.Duration) {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
		}),
	)

	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(4), calls.Load())

	// With jitter pinned to 1.0 the delays are the pure exponential series.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
	}, delays)
}

func TestClientExhaustsRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, RetryPolicy{MaxRetries: 3, BackoffBase: time.Millisecond})

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	assert.Contains(t, appErr.Message, "502")

	// Initial attempt plus exactly MaxRetries retries.
	assert.Equal(t, int32(4), calls.Load())
}

func TestClientRateLimitedAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, RetryPolicy{MaxRetries: 2, BackoffBase: time.Millisecond})

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}

func TestClientPermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	longBody := strings.Repeat("x", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(longBody))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, DefaultRetryPolicy())

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamStatus, appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.Details["status"])

	body, ok := appErr.Details["body"].(string)
	require.True(t, ok)
	assert.Len(t, body, bodySnippetLen)
}

func TestClientBackoffJitterBounds(t *testing.T) {
	c, _ := newTestClient(t, RetryPolicy{MaxRetries: 3, BackoffBase: 500 * time.Millisecond},
		WithJitterFunc(func() float64 { return 0 }),
	)
	assert.Equal(t, 400*time.Millisecond, c.backoff(0))

	c2, _ := newTestClient(t, RetryPolicy{MaxRetries: 3, BackoffBase: 500 * time.Millisecond},
		WithJitterFunc(func() float64 { return 1 }),
	)
	assert.Equal(t, 600*time.Millisecond, c2.backoff(0))
	assert.Equal(t, 1200*time.Millisecond, c2.backoff(1))
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, RetryPolicy{MaxRetries: 6, BackoffBase: time.Millisecond})

	// 6 consecutive failures trip the breaker; the 7th attempt sees the open
	// state and maps it without touching the upstream.
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}
