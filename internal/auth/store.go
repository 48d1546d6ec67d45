// Package auth persists per-service OAuth credentials and implements the two
// login flows the tracked services use: authorization-code with a localhost
// callback, and device-code polling.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/animedb/animedb-helper/internal/library"
)

// ErrNotAuthenticated is returned when no credential is stored for a service.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// refreshWindow is how close to expiry a credential must be before the
// background refresh touches it.
const refreshWindow = time.Hour

// Credential is the stored token set for one service.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the access token is past its expiry. Credentials
// without an expiry never expire locally.
func (c *Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// NeedsRefresh reports whether the credential expires within the refresh
// window and has a refresh token to renew with.
func (c *Credential) NeedsRefresh() bool {
	if c.RefreshToken == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(c.ExpiresAt) < refreshWindow
}

// fromToken converts an oauth2 token into the stored form.
func fromToken(t *oauth2.Token) *Credential {
	return &Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    t.Expiry,
	}
}

// toToken converts a stored credential back for the oauth2 package.
func (c *Credential) toToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.ExpiresAt,
	}
}

// Store keeps one JSON credential file per service under a directory.
type Store struct {
	mu  sync.RWMutex
	dir string
}

// NewStore creates the credential directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, "animedb-helper", "credentials")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(service library.Source) string {
	return filepath.Join(s.dir, string(service)+".json")
}

// Load returns the stored credential, or ErrNotAuthenticated.
func (s *Store) Load(service library.Source) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(service)) // #nosec G304 - path is inside the credential dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("read credential for %s: %w", service, err)
	}
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode credential for %s: %w", service, err)
	}
	if c.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}
	return &c, nil
}

// Save persists the credential for service.
func (s *Store) Save(service library.Source, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential for %s: %w", service, err)
	}
	if err := os.WriteFile(s.path(service), data, 0o600); err != nil {
		return fmt.Errorf("write credential for %s: %w", service, err)
	}
	return nil
}

// Revoke deletes the stored credential. Revoking an absent credential is
// not an error.
func (s *Store) Revoke(service library.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(service)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("revoke credential for %s: %w", service, err)
	}
	return nil
}

// IsAuthenticated reports whether a credential exists for service.
func (s *Store) IsAuthenticated(service library.Source) bool {
	_, err := s.Load(service)
	return err == nil
}

// Authenticated lists services with a stored credential, in canonical order.
func (s *Store) Authenticated() []library.Source {
	var out []library.Source
	for _, svc := range library.Sources {
		if s.IsAuthenticated(svc) {
			out = append(out, svc)
		}
	}
	return out
}

// RefreshFunc renews a credential, returning the replacement.
type RefreshFunc func(ctx context.Context, current *Credential) (*Credential, error)

// RefreshAll renews every stored credential that is close to expiry, using
// the per-service refresh functions. Failures are logged and skipped so one
// dead service does not block the rest.
func (s *Store) RefreshAll(ctx context.Context, refreshers map[library.Source]RefreshFunc) {
	for _, service := range library.Sources {
		refresh, ok := refreshers[service]
		if !ok {
			continue
		}
		cred, err := s.Load(service)
		if err != nil {
			continue
		}
		if !cred.NeedsRefresh() {
			continue
		}
		renewed, err := refresh(ctx, cred)
		if err != nil {
			log.Printf("[auth] Failed to refresh %s token: %v", service, err)
			continue
		}
		if err := s.Save(service, renewed); err != nil {
			log.Printf("[auth] Failed to save refreshed %s token: %v", service, err)
		}
	}
}
