// Package httpx implements the authenticated request policy shared by every
// remote service client: bearer attach, rate-limit waits, one token refresh
// on 401 followed by one anonymous retry, and capped exponential backoff on
// server errors.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrExhausted is returned when the attempt ceiling is hit without a
// conclusive response.
var ErrExhausted = errors.New("httpx: retry attempts exhausted")

// TokenProvider supplies and refreshes the bearer token for one service.
// Token returning "" means the request goes out unauthenticated.
type TokenProvider interface {
	Token() string
	Refresh(ctx context.Context) error
}

// BackoffStrategy defines retry delay behavior.
type BackoffStrategy interface {
	Duration(attempt int) time.Duration
}

// ExponentialBackoff implements capped exponential backoff.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func (b *ExponentialBackoff) Duration(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(b.InitialInterval) * math.Pow(b.Multiplier, float64(attempt-1))
	if delay > float64(b.MaxInterval) {
		return b.MaxInterval
	}
	return time.Duration(delay)
}

var defaultBackoff = ExponentialBackoff{
	InitialInterval: 1 * time.Second,
	MaxInterval:     30 * time.Second,
	Multiplier:      2.0,
}

// HTTPClient interface for flexibility and testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client executes requests under the retry contract. Zero values fall back
// to sane defaults.
type Client struct {
	HTTPClient HTTPClient
	Tokens     TokenProvider
	MaxRetries int
	Backoff    BackoffStrategy

	sleep func(d time.Duration, done <-chan struct{}) error
}

// New returns a Client over base with maxRetries additional attempts.
func New(base HTTPClient, tokens TokenProvider, maxRetries int) *Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &Client{
		HTTPClient: base,
		Tokens:     tokens,
		MaxRetries: maxRetries,
	}
}

func (c *Client) backoff() BackoffStrategy {
	if c.Backoff != nil {
		return c.Backoff
	}
	return &defaultBackoff
}

func (c *Client) wait(d time.Duration, done <-chan struct{}) error {
	if c.sleep != nil {
		return c.sleep(d, done)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-done:
		return errors.New("httpx: request cancelled")
	}
}

// Do sends the request, following the retry policy. The body of a retried
// request is rewound from a buffered copy, so callers may pass any body.
// Responses with status < 500 other than 401/429 are returned to the caller
// as-is, success or not.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
		body = b
	}

	ctx := req.Context()
	refreshed := false
	anonymous := false
	var lastErr error

	maxAttempts := 1 + c.MaxRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r := req.Clone(ctx)
		if body != nil {
			r.Body = io.NopCloser(strings.NewReader(string(body)))
			r.ContentLength = int64(len(body))
		}
		c.authorize(r, anonymous)

		resp, err := c.HTTPClient.Do(r)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err := c.wait(c.backoff().Duration(attempt), ctx.Done()); err != nil {
				return nil, lastErr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp)
			if wait <= 0 {
				wait = c.backoff().Duration(attempt)
			}
			drain(resp)
			lastErr = fmt.Errorf("httpx: rate limited (429)")
			if err := c.wait(wait, ctx.Done()); err != nil {
				return nil, lastErr
			}

		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp)
			lastErr = fmt.Errorf("httpx: unauthorized (401)")
			switch {
			case !refreshed && c.Tokens != nil:
				refreshed = true
				if err := c.Tokens.Refresh(ctx); err != nil {
					// Refresh failed, fall through to one anonymous try.
					anonymous = true
				}
			case !anonymous:
				anonymous = true
			default:
				return nil, lastErr
			}

		case resp.StatusCode >= 500:
			drain(resp)
			lastErr = fmt.Errorf("httpx: server error (%d)", resp.StatusCode)
			if err := c.wait(c.backoff().Duration(attempt), ctx.Done()); err != nil {
				return nil, lastErr
			}

		default:
			// 2xx, 3xx and remaining 4xx are terminal.
			return resp, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
	}
	return nil, ErrExhausted
}

func (c *Client) authorize(r *http.Request, anonymous bool) {
	if anonymous {
		r.Header.Del("Authorization")
		return
	}
	if c.Tokens == nil || r.Header.Get("Authorization") != "" {
		return
	}
	if tok := c.Tokens.Token(); tok != "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
}

// retryAfter parses the Retry-After header, seconds form only.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
