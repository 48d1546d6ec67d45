package main

import (
	"net/http"
	"time"

	"github.com/animedb/animedb-helper/internal/auth"
)

// loggingRoundTripper wraps an http.RoundTripper and logs HTTP requests/responses in verbose mode.
type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *Logger
}

// newLoggingRoundTripper creates a new logging round tripper.
func newLoggingRoundTripper(base http.RoundTripper, logger *Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingRoundTripper{base: base, logger: logger}
}

// RoundTrip executes a single HTTP transaction and logs the request/response.
func (l *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := l.base.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.DebugHTTP("%s %s failed: %v (took %v)", req.Method, req.URL, err, elapsed)
		return nil, err
	}

	l.logger.DebugHTTP("%s %s -> %d (took %v)", req.Method, req.URL, resp.StatusCode, elapsed)
	return resp, nil
}

// bearerTransport attaches the stored access token to every request. It is
// used for the MyAnimeList SDK client, which takes a plain *http.Client.
type bearerTransport struct {
	base   http.RoundTripper
	tokens *auth.Provider
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if tok := t.tokens.Token(); tok != "" {
		clone := req.Clone(req.Context())
		clone.Header.Set("Authorization", "Bearer "+tok)
		req = clone
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
