package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animedb/animedb-helper/internal/library"
	"github.com/animedb/animedb-helper/internal/remote"
)

type fakeService struct {
	name      library.Source
	watchlist []remote.ListEntry
	fetchErr  error
	pushErr   error
	failures  int
	panics    bool

	mu       sync.Mutex
	fetches  int
	pushes   []string
	listAdds []string
}

func (f *fakeService) Name() library.Source { return f.name }

func (f *fakeService) FetchWatchlist(ctx context.Context) ([]remote.ListEntry, error) {
	if f.panics {
		panic("fetch blew up")
	}
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	return f.watchlist, f.fetchErr
}

func (f *fakeService) FetchDetails(ctx context.Context, id string) (*remote.Media, error) {
	return nil, remote.ErrNotFound
}

func (f *fakeService) Search(ctx context.Context, query string) ([]remote.Media, error) {
	return nil, nil
}

func (f *fakeService) PushProgress(ctx context.Context, id string, episode int, status library.Status, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("transient")
	}
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, fmt.Sprintf("%s/%d/%s/%.1f", id, episode, status, score))
	return nil
}

func (f *fakeService) PushWatchlistAdd(ctx context.Context, item library.WatchlistItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.listAdds = append(f.listAdds, item.ID)
	return nil
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches + len(f.pushes) + len(f.listAdds)
}

func newTestStore(t *testing.T) *library.Store {
	t.Helper()
	s, err := library.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSyncAllNoServices(t *testing.T) {
	t.Parallel()

	e := New(newTestStore(t), remote.NewRegistry(), Options{Watchlist: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.ErrorIs(t, res.Err, ErrNoServices)
	assert.False(t, res.Cancelled)
}

func TestSyncAllNoStages(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList}
	e := New(newTestStore(t), remote.NewRegistry(svc), Options{})
	res := e.SyncAll(context.Background(), nil, nil)

	require.ErrorIs(t, res.Err, ErrNoStages)
	assert.Zero(t, svc.callCount())
}

func TestSyncAllCancelledBeforeFirstStage(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList}
	e := New(newTestStore(t), remote.NewRegistry(svc), Options{Watchlist: true, History: true})

	token := NewCancelToken()
	token.Cancel()
	res := e.SyncAll(context.Background(), nil, token)

	require.True(t, res.Cancelled)
	assert.Contains(t, res.Message, "watchlist")
	assert.Zero(t, svc.callCount(), "no remote call after cancellation")
}

func TestSyncAllWatchlistPullAndPush(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.AddToWatchlist(library.WatchlistItem{ID: "100", Title: "Tracked", Source: library.SourceAniList})

	svc := &fakeService{
		name: library.SourceAniList,
		watchlist: []remote.ListEntry{
			{
				Media:    remote.Media{ID: "200", Source: library.SourceAniList, Title: "Remote only", Episodes: 12},
				Status:   library.StatusWatching,
				Progress: 6,
				Score:    8,
			},
		},
	}
	e := New(store, remote.NewRegistry(svc), Options{Watchlist: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err)
	sr := res.Watchlist.Services[library.SourceAniList]
	require.NotNil(t, sr)
	assert.Equal(t, 1, sr.Pulled)
	assert.Equal(t, 1, sr.Processed)
	assert.Equal(t, 1, sr.Synced)
	assert.Empty(t, sr.Errors)
	assert.Equal(t, []string{"100"}, svc.listAdds)

	pulled := store.GetStatus("200", library.SourceAniList)
	require.NotNil(t, pulled)
	assert.Equal(t, library.StatusWatching, pulled.Status)
	assert.Equal(t, 12, pulled.TotalEpisodes)
	assert.InDelta(t, 50.0, pulled.Progress, 0.01)
}

func TestSyncAllWatchlistPullNeverOverwritesLocal(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.AddOrUpdate("200", library.SourceAniList, library.Upsert{
		Status:   library.StatusCompleted,
		Progress: 100,
	})

	svc := &fakeService{
		name: library.SourceAniList,
		watchlist: []remote.ListEntry{
			{Media: remote.Media{ID: "200", Source: library.SourceAniList}, Status: library.StatusWatching, Progress: 1},
		},
	}
	e := New(store, remote.NewRegistry(svc), Options{Watchlist: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err)
	assert.Zero(t, res.Watchlist.Services[library.SourceAniList].Pulled)
	assert.Equal(t, library.StatusCompleted, store.GetStatus("200", library.SourceAniList).Status)
}

func TestSyncAllHistoryPushesOwnedEventsOnce(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.MarkEpisodeWatched("100", library.SourceAniList, 1, 12)
	store.MarkEpisodeWatched("100", library.SourceAniList, 2, 12)
	store.MarkEpisodeWatched("100", library.SourceAniList, 2, 12) // rewatch
	store.MarkEpisodeWatched("300", library.SourceMAL, 5, 0)

	al := &fakeService{name: library.SourceAniList}
	ml := &fakeService{name: library.SourceMAL}
	e := New(store, remote.NewRegistry(al, ml), Options{History: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err)
	assert.Len(t, al.pushes, 2, "duplicate event pushed once")
	assert.Len(t, ml.pushes, 1)

	sr := res.History.Services[library.SourceAniList]
	assert.Equal(t, 2, sr.Processed, "only distinct owned events counted")
	assert.Equal(t, 2, sr.Synced)
	assert.Equal(t, 1, res.History.Services[library.SourceMAL].Processed)
}

func TestSyncAllCountsOnlyOwnedItems(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.AddToWatchlist(library.WatchlistItem{ID: "100", Source: library.SourceAniList})
	store.AddToWatchlist(library.WatchlistItem{ID: "300", Source: library.SourceMAL})
	store.AddToWatchlist(library.WatchlistItem{ID: "400", Source: library.SourceMAL})

	al := &fakeService{name: library.SourceAniList}
	ml := &fakeService{name: library.SourceMAL}
	e := New(store, remote.NewRegistry(al, ml), Options{Watchlist: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Watchlist.Services[library.SourceAniList].Processed)
	assert.Equal(t, 2, res.Watchlist.Services[library.SourceMAL].Processed)
}

func TestSyncAllHistoryFilter(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.MarkEpisodeWatched("100", library.SourceAniList, 1, 12)
	store.MarkEpisodeWatched("100", library.SourceAniList, 2, 12)
	store.MarkEpisodeWatched("300", library.SourceAniList, 7, 12)

	svc := &fakeService{name: library.SourceAniList}
	e := New(store, remote.NewRegistry(svc), Options{
		History: true,
		HistoryFilter: &HistoryFilter{
			AnimeID: "100",
			Source:  library.SourceAniList,
			Episode: 2,
		},
	})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err)
	require.Len(t, svc.pushes, 1)
	assert.Contains(t, svc.pushes[0], "100/2/")
}

func TestSyncAllRatings(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.AddOrUpdate("100", library.SourceAniList, library.Upsert{Status: library.StatusCompleted, Score: 9})
	store.AddOrUpdate("200", library.SourceAniList, library.Upsert{Status: library.StatusWatching})

	svc := &fakeService{name: library.SourceAniList}
	e := New(store, remote.NewRegistry(svc), Options{Ratings: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err)
	sr := res.Ratings.Services[library.SourceAniList]
	assert.Equal(t, 2, sr.Processed)
	assert.Equal(t, 1, sr.Synced, "unscored entry skipped")
	require.Len(t, svc.pushes, 1)
	assert.Contains(t, svc.pushes[0], "100/0/COMPLETED/9.0")
}

func TestSyncAllPartialFailureCollected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.AddToWatchlist(library.WatchlistItem{ID: "100", Source: library.SourceAniList})
	store.AddToWatchlist(library.WatchlistItem{ID: "300", Source: library.SourceMAL})

	al := &fakeService{name: library.SourceAniList, pushErr: errors.New("boom")}
	ml := &fakeService{name: library.SourceMAL}
	e := New(store, remote.NewRegistry(al, ml), Options{Watchlist: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err, "per-item failure never fails the run")
	assert.NotEmpty(t, res.Watchlist.Services[library.SourceAniList].Errors)
	assert.Equal(t, 1, res.Watchlist.Services[library.SourceMAL].Synced)
	assert.Equal(t, []string{"300"}, ml.listAdds)
}

func TestSyncAllNotSupportedIsNotAFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.AddToWatchlist(library.WatchlistItem{ID: "100", Source: library.SourceTrakt})

	svc := &fakeService{name: library.SourceTrakt, pushErr: remote.ErrNotSupported}
	e := New(store, remote.NewRegistry(svc), Options{Watchlist: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err)
	sr := res.Watchlist.Services[library.SourceTrakt]
	assert.Equal(t, 1, sr.Processed)
	assert.Zero(t, sr.Synced)
	assert.Empty(t, sr.Errors)
}

func TestSyncAllPanicBecomesError(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList, panics: true}
	e := New(newTestStore(t), remote.NewRegistry(svc), Options{Watchlist: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panicked")
}

func TestSyncAllProgressCallback(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList}
	e := New(newTestStore(t), remote.NewRegistry(svc), Options{Watchlist: true, History: true})

	type step struct {
		message string
		percent int
	}
	var steps []step
	res := e.SyncAll(context.Background(), func(message string, percent int) {
		steps = append(steps, step{message, percent})
	}, nil)

	require.NoError(t, res.Err)
	require.Equal(t, []step{
		{"Syncing watchlist", 0},
		{"Syncing history", 50},
		{"Sync complete", 100},
	}, steps)
}

func TestSyncAllRetriesTransientPushFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.MarkEpisodeWatched("100", library.SourceAniList, 1, 12)

	svc := &fakeService{name: library.SourceAniList, failures: 1}
	e := New(store, remote.NewRegistry(svc), Options{History: true})
	res := e.SyncAll(context.Background(), nil, nil)

	require.NoError(t, res.Err)
	sr := res.History.Services[library.SourceAniList]
	assert.Equal(t, 1, sr.Synced)
	assert.Empty(t, sr.Errors)
}

func TestStageResultTotalsAndErrors(t *testing.T) {
	t.Parallel()

	sr := &StageResult{Services: map[library.Source]*ServiceResult{
		library.SourceAniList: {Processed: 2, Synced: 1, Errors: []string{"100: boom"}},
		library.SourceMAL:     {Processed: 3, Synced: 3},
	}}

	processed, synced := sr.Totals()
	assert.Equal(t, 5, processed)
	assert.Equal(t, 4, synced)
	assert.Equal(t, []string{"anilist: 100: boom"}, sr.Errors())
}

func TestCancelToken(t *testing.T) {
	t.Parallel()

	token := NewCancelToken()
	assert.False(t, token.Cancelled())

	token.Cancel()
	token.Cancel()
	assert.True(t, token.Cancelled())

	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel not closed")
	}

	var nilToken *CancelToken
	assert.False(t, nilToken.Cancelled())
}
