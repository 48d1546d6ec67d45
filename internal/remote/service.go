// Package remote holds the clients for the tracked list services and the
// metadata providers, behind one Service interface so the sync engine can
// treat AniList, MyAnimeList and Trakt uniformly.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/animedb/animedb-helper/internal/library"
)

var (
	// ErrNotFound is returned when a service has no record for an ID.
	ErrNotFound = errors.New("remote: not found")

	// ErrNotSupported marks an operation a service does not implement.
	// Callers treat it as a no-op, not a failure.
	ErrNotSupported = errors.New("remote: operation not supported")
)

// ListEntry is one item of a user's remote list.
type ListEntry struct {
	Media     Media
	Status    library.Status
	Progress  int
	Score     float64
	UpdatedAt time.Time
}

// Service is one remote tracking service.
type Service interface {
	Name() library.Source

	// FetchWatchlist returns the user's full list on the service.
	FetchWatchlist(ctx context.Context) ([]ListEntry, error)

	// FetchDetails returns metadata for one title by service-native ID.
	FetchDetails(ctx context.Context, id string) (*Media, error)

	// Search looks up titles by name.
	Search(ctx context.Context, query string) ([]Media, error)

	// PushProgress writes watch state for one title back to the service.
	PushProgress(ctx context.Context, id string, episode int, status library.Status, score float64) error

	// PushWatchlistAdd adds a title to the user's remote list. Services
	// without a plan-to-watch concept return ErrNotSupported.
	PushWatchlistAdd(ctx context.Context, item library.WatchlistItem) error
}

// Registry holds the configured services in canonical source order.
type Registry struct {
	services map[library.Source]Service
}

// NewRegistry indexes the given services. A nil service is skipped.
func NewRegistry(services ...Service) *Registry {
	r := &Registry{services: make(map[library.Source]Service)}
	for _, s := range services {
		if s != nil {
			r.services[s.Name()] = s
		}
	}
	return r
}

// Get returns the service for source.
func (r *Registry) Get(source library.Source) (Service, bool) {
	s, ok := r.services[source]
	return s, ok
}

// Enabled returns the registered services in canonical order.
func (r *Registry) Enabled() []Service {
	out := make([]Service, 0, len(r.services))
	for _, source := range library.Sources {
		if s, ok := r.services[source]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int { return len(r.services) }
