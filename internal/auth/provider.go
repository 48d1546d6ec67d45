package auth

import (
	"context"
	"sync"

	"github.com/animedb/animedb-helper/internal/library"
)

// Provider adapts the store plus a service refresh function to the bearer
// token contract of internal/httpx.
type Provider struct {
	mu      sync.Mutex
	store   *Store
	service library.Source
	refresh RefreshFunc
}

// NewProvider binds a token provider to one service. refresh may be nil for
// services whose tokens cannot be renewed.
func NewProvider(store *Store, service library.Source, refresh RefreshFunc) *Provider {
	return &Provider{store: store, service: service, refresh: refresh}
}

// Token returns the current access token, or "" when unauthenticated.
func (p *Provider) Token() string {
	cred, err := p.store.Load(p.service)
	if err != nil {
		return ""
	}
	return cred.AccessToken
}

// Refresh renews and persists the credential.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, err := p.store.Load(p.service)
	if err != nil {
		return err
	}
	if p.refresh == nil {
		return ErrNotAuthenticated
	}
	renewed, err := p.refresh(ctx, cred)
	if err != nil {
		return err
	}
	return p.store.Save(p.service, renewed)
}
