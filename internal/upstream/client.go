package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"impactweather/internal/types"
)

// bodySnippetLen is how many bytes of an error response body are carried in
// diagnostics.
const bodySnippetLen = 120

// RetryPolicy configures the retry behavior for the Client. A request is
// attempted 1+MaxRetries times; the delay before retry n (0-based) is
// BackoffBase * 2^n, scaled by a uniform jitter multiplier in [0.8, 1.2].
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
}

// DefaultRetryPolicy returns the stock retry policy for upstream API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
	}
}

// Client wraps an *http.Client, a Scheduler, and a circuit breaker to enforce
// consistent resilience on all outbound GETs. Retries on 429, 5xx, and
// network failures; other non-2xx statuses surface immediately as permanent
// errors carrying the status and a truncated response body.
//
// The full retry loop of one logical request runs as a single scheduler
// task, so backoff waits hold the concurrency slot. This matches the global
// throttling intent: a struggling upstream is not hammered by freed slots.
type Client struct {
	http      *http.Client
	scheduler *Scheduler
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	sleepFn   func(time.Duration)
	jitterFn  func() float64 // uniform in [0,1); injectable for tests
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithSleepFunc overrides the sleep used between retries. Intended for tests.
func WithSleepFunc(fn func(time.Duration)) ClientOption {
	return func(c *Client) { c.sleepFn = fn }
}

// WithJitterFunc overrides the jitter source. Intended for tests.
func WithJitterFunc(fn func() float64) ClientOption {
	return func(c *Client) { c.jitterFn = fn }
}

// WithBreaker replaces the default circuit breaker. Useful for sharing one
// breaker across clients or disabling trip thresholds in tests.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// NewClient creates a Client with the given transport, scheduler, breaker
// name, retry policy, and User-Agent string.
func NewClient(
	httpClient *http.Client,
	scheduler *Scheduler,
	breakerName string,
	policy RetryPolicy,
	userAgent string,
	opts ...ClientOption,
) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	c := &Client{
		http:      httpClient,
		scheduler: scheduler,
		breaker:   cb,
		policy:    policy,
		userAgent: userAgent,
		sleepFn:   time.Sleep,
		jitterFn:  rand.Float64,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get performs a rate-limited, retrying HTTP GET. On success it returns the
// response with an unread body; the caller is responsible for closing it.
// The optional header is merged into the request.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	return c.scheduler.Schedule(ctx, func() (*http.Response, error) {
		return c.doWithRetries(ctx, url, header)
	})
}

// GetJSON performs a rate-limited, retrying GET and decodes the JSON
// response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	resp, err := c.Get(ctx, url, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeValidationMalformedPayload,
			"decoding upstream response body",
			err,
		)
	}
	return nil
}

// doWithRetries runs the attempt loop for one logical request. It is
// executed inside a scheduler task.
func (c *Client) doWithRetries(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	var lastStatus int
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if reqErr != nil {
				return nil, reqErr
			}
			for k, vs := range header {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
			if c.userAgent != "" {
				req.Header.Set("User-Agent", c.userAgent)
			}
			if traceID := types.GetRequestID(ctx); traceID != "" {
				req.Header.Set("X-Request-ID", traceID)
			}

			r, doErr := c.http.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 429 and 5xx are transient: errors for the breaker and the
			// retry loop.
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})

		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			// Permanent non-2xx: surface immediately with status and a
			// truncated body snippet for diagnostics.
			snippet := readSnippet(resp.Body, bodySnippetLen)
			resp.Body.Close()
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeUpstreamStatus,
				fmt.Sprintf("upstream returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
				nil,
				map[string]any{
					"status": resp.StatusCode,
					"body":   snippet,
				},
			)
		}

		lastErr = err
		if resp != nil {
			lastStatus = resp.StatusCode
			resp.Body.Close()
		} else if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			lastStatus = 0 // network-level failure
		}

		// An open breaker is not retried: backoff cannot help until the
		// breaker's own timeout elapses.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, types.NewAppError(
				types.ErrCodeUpstreamRateLimited,
				"circuit breaker is open; upstream unavailable",
				err,
			)
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt >= c.policy.MaxRetries {
			return nil, c.mapExhausted(lastStatus, lastErr)
		}

		c.sleepFn(c.backoff(attempt))
	}
}

// backoff computes the retry delay for the given 0-based attempt:
// BackoffBase * 2^attempt scaled by a uniform multiplier in [0.8, 1.2].
func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.policy.BackoffBase) * math.Pow(2, float64(attempt))
	jitter := 0.8 + 0.4*c.jitterFn()
	return time.Duration(base * jitter)
}

// mapExhausted translates the terminal failure after exhausted retries into
// a domain error.
func (c *Client) mapExhausted(status int, err error) *types.AppError {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"upstream rate limit exceeded after retries",
			err,
		)
	case status >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", status),
			err,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"upstream request failed after retries",
			err,
		)
	}
}

// readSnippet reads up to n bytes from r, swallowing read errors: the
// snippet is diagnostic only.
func readSnippet(r io.Reader, n int) string {
	if r == nil {
		return ""
	}
	buf := make([]byte, n)
	read, _ := io.ReadFull(r, buf)
	return string(buf[:read])
}
