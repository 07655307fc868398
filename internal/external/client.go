// Package external holds the clients for services that live outside this
// process. Every outbound HTTP call goes through BaseClient, which applies
// circuit breaking, retries with backoff, request correlation headers and
// mapping of transport failures to types.AppError.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"peakload/internal/types"

	"github.com/sony/gobreaker/v2"
)

// maxErrorBody caps how much of a failed response body is kept in error details.
const maxErrorBody = 512

// RetryPolicy configures the retry behavior for the BaseClient.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the defaults for calls to internal sidecars.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BreakerSettings configures the circuit breaker of a BaseClient.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// DefaultBreakerSettings returns breaker settings that trip after five
// consecutive failures and probe again after thirty seconds.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:                name,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BaseClient wraps an *http.Client and a circuit breaker.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     SleepFunc
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the wait between retries. Tests use it to avoid
// real delays.
func WithSleepFunc(fn SleepFunc) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBreaker builds the circuit breaker used by BaseClient.
func NewBreaker(s BreakerSettings) *gobreaker.CircuitBreaker[*http.Response] {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// NewBaseClient creates a BaseClient.
func NewBaseClient(
	httpClient *http.Client,
	breaker BreakerSettings,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	bc := &BaseClient{
		client:      httpClient,
		breaker:     NewBreaker(breaker),
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     contextSleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes req, retrying on 429 and 5xx responses and on transport errors.
//
// Any response that is not retryable (2xx, 3xx, 4xx other than 429) is
// returned as-is and the caller must close its body. Exhausted retries, an
// open breaker or a cancelled context produce a *types.AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if id := types.GetRunID(ctx); id != "" {
		req.Header.Set("X-Run-ID", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to read request body for retry support",
				err,
			)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastResp = nil
		if resp != nil {
			if attempt < maxAttempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts-1 {
			if sleepErr := c.sleepFn(ctx, c.computeBackoff(attempt, resp)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// RequestOption mutates an outgoing request before it is sent.
type RequestOption func(*http.Request)

// WithBearerToken sets the Authorization header when token is non-empty.
func WithBearerToken(token string) RequestOption {
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// DoJSON sends in as a JSON body (nil for no body) and decodes a 2xx response
// into out (nil to discard). Non-2xx responses become an AppError carrying the
// status and the head of the response body.
func (c *BaseClient) DoJSON(ctx context.Context, method, url string, in, out any, opts ...RequestOption) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode request", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		head, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d", resp.StatusCode),
			nil,
			map[string]any{
				"status": resp.StatusCode,
				"body":   string(head),
			},
		)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to decode upstream response", err)
	}
	return nil
}

// computeBackoff honors Retry-After when present, otherwise applies
// exponential backoff with jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, c.retryPolicy.MaxWait)
			}
			if t, err := http.ParseTime(retryAfter); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return c.retryPolicy.MinWait
				}
				return min(wait, c.retryPolicy.MaxWait)
			}
		}
	}

	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	base = math.Min(base, float64(c.retryPolicy.MaxWait))

	minWait := float64(c.retryPolicy.MinWait)
	if base <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"circuit breaker is open; upstream service unavailable",
			err,
		)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request cancelled", err)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(
				types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode),
				err,
			)
		}
	}

	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}
