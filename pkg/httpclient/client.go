// Package httpclient provides an HTTP client with bounded exponential
// backoff, adapted from the retry/backoff client the teacher repo uses to
// talk to rate-limited LLM and tool-server HTTP endpoints.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Client wraps http.Client with bounded exponential-backoff retry for
// transient failures (429, 5xx, network errors).
type Client struct {
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }
func WithMaxRetries(n int) Option          { return func(cl *Client) { cl.maxRetries = n } }
func WithBaseDelay(d time.Duration) Option { return func(cl *Client) { cl.baseDelay = d } }
func WithMaxDelay(d time.Duration) Option  { return func(cl *Client) { cl.maxDelay = d } }

// New builds a Client with sane defaults: 3 retries, 1s base delay, 30s cap.
func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// isRetryable reports whether a status code is worth retrying.
func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// Do executes req, retrying transient failures with exponential backoff
// plus jitter, bounded by c.maxDelay. The request body, if any, must be
// re-creatable via req.GetBody (set automatically by http.NewRequest for
// common body types).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpclient: rebuild body for retry: %w", err)
				}
				req.Body = body
			}
			if err := sleepCtx(req.Context(), c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			continue
		}
		if !isRetryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		delay := retryAfter(resp.Header, c.backoff(attempt+1))
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err := sleepCtx(req.Context(), delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.baseDelay) * math.Pow(2, float64(attempt-1)))
	d += time.Duration(rand.Int63n(int64(c.baseDelay))) // jitter
	if d > c.maxDelay {
		d = c.maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
