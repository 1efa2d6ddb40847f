package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/teleologic/telos/pkg/errors"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second

	// Conservative client-side limit so a burst of fallback invocations
	// cannot trip provider rate limits.
	defaultRateLimit = rate.Limit(2)
	defaultBurstSize = 10
)

// DefaultTransport returns an http.Transport with tuned connection pool settings.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// httpClient wraps retries and rate limiting shared by the HTTP providers.
type httpClient struct {
	client      *http.Client
	rateLimiter *rate.Limiter
}

func newHTTPClient(timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &httpClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: DefaultTransport(),
		},
		rateLimiter: rate.NewLimiter(defaultRateLimit, defaultBurstSize),
	}
}

// postJSON sends a JSON body and retries on 429 and 5xx with exponential
// backoff. The request body is replayed from the buffered payload on retry.
func (c *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, payload []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), errors.ErrCodeModelTimeout, "model call cancelled")
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeModelRateLimit, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeModelAPIError, "build request")
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), errors.ErrCodeModelTimeout, "model call timed out").
					WithRetryable(true)
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
			continue
		default:
			return nil, errors.New(errors.ErrCodeModelAPIError,
				fmt.Sprintf("model API returned %d", resp.StatusCode)).
				WithContext("body", truncate(string(body), 200))
		}
	}

	return nil, errors.Wrap(lastErr, errors.ErrCodeModelAPIError, "model call failed after retries").
		WithRetryable(true)
}

// calculateBackoff returns an exponential delay with jitter for the attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay/2 + jitter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
