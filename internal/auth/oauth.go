package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/animedb/animedb-helper/internal/library"
)

// CodeFlow runs the authorization-code grant with a localhost callback
// server. AniList and MAL both use this flow.
type CodeFlow struct {
	store   *Store
	service library.Source
	opts    []oauth2.AuthCodeOption

	stateMu sync.RWMutex
	state   string

	Config *oauth2.Config
}

// NewCodeFlow builds a flow for service. redirectURI must match the
// registered application callback, normally http://localhost:<port>/callback.
func NewCodeFlow(store *Store, service library.Source, cfg *oauth2.Config, opts ...oauth2.AuthCodeOption) *CodeFlow {
	return &CodeFlow{
		store:   store,
		service: service,
		opts:    opts,
		state:   randState(32),
		Config:  cfg,
	}
}

// AuthURL returns the provider URL the user must open in a browser.
func (f *CodeFlow) AuthURL() string {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.Config.AuthCodeURL(f.state, f.opts...)
}

// Exchange trades the callback code for a token and persists it.
func (f *CodeFlow) Exchange(ctx context.Context, code string) error {
	token, err := f.Config.Exchange(ctx, code, f.opts...)
	if err != nil {
		return fmt.Errorf("exchange code for %s: %w", f.service, err)
	}
	return f.store.Save(f.service, fromToken(token))
}

// Refresh renews the stored credential through the provider token endpoint
// and persists the replacement.
func (f *CodeFlow) Refresh(ctx context.Context, current *Credential) (*Credential, error) {
	t, err := f.Config.TokenSource(ctx, current.toToken()).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh %s token: %w", f.service, err)
	}
	renewed := fromToken(t)
	if err := f.store.Save(f.service, renewed); err != nil {
		return nil, err
	}
	return renewed, nil
}

// Login serves the callback on port, prints the auth URL, and blocks until
// the exchange completes or ctx is cancelled. The state parameter guards the
// callback against CSRF.
func (f *CodeFlow) Login(ctx context.Context, port string) error {
	done := make(chan error, 1)

	server := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		state := r.URL.Query().Get("state")
		if state == "" {
			http.Error(w, "State parameter missing", http.StatusBadRequest)
			return
		}
		f.stateMu.RLock()
		expected := f.state
		f.stateMu.RUnlock()
		if state != expected {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			log.Printf("[auth] State mismatch on %s callback", f.service)
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Code parameter missing", http.StatusBadRequest)
			return
		}

		if err := f.Exchange(reqCtx, code); err != nil {
			http.Error(w, "Error exchanging code for token", http.StatusInternalServerError)
			log.Printf("[auth] Exchange failed for %s: %v", f.service, err)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><body>Authorization successful. You can close this window.<br><script>window.close();</script></body></html>`))
		done <- nil
	})
	server.Handler = mux

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			done <- fmt.Errorf("callback server: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[auth] Callback server shutdown: %v", err)
		}
	}()

	log.Printf("[auth] Navigate to the following URL to authorize %s: %s", f.service, f.AuthURL())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func randState(n int) string {
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
