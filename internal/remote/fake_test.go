package remote

import (
	"context"

	"github.com/animedb/animedb-helper/internal/library"
)

type fakeService struct {
	name      library.Source
	watchlist []ListEntry
	pushed    []string
	err       error
}

func (f *fakeService) Name() library.Source { return f.name }

func (f *fakeService) FetchWatchlist(_ context.Context) ([]ListEntry, error) {
	return f.watchlist, f.err
}

func (f *fakeService) FetchDetails(_ context.Context, id string) (*Media, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Media{ID: id, Source: f.name}, nil
}

func (f *fakeService) Search(_ context.Context, _ string) ([]Media, error) {
	return nil, f.err
}

func (f *fakeService) PushProgress(_ context.Context, id string, _ int, _ library.Status, _ float64) error {
	f.pushed = append(f.pushed, id)
	return f.err
}

func (f *fakeService) PushWatchlistAdd(_ context.Context, item library.WatchlistItem) error {
	f.pushed = append(f.pushed, item.ID)
	return f.err
}
