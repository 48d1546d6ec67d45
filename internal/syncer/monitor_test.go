package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animedb/animedb-helper/internal/auth"
	"github.com/animedb/animedb-helper/internal/library"
	"github.com/animedb/animedb-helper/internal/remote"
)

func newTestMonitor(t *testing.T, svc remote.Service) (*Monitor, *library.Store) {
	t.Helper()

	store := newTestStore(t)
	engine := New(store, remote.NewRegistry(svc), Options{Watchlist: true, History: true})
	creds, err := auth.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewMonitor(engine, store, creds), store
}

func TestMonitorWakeRunsDueSync(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList}
	m, _ := newTestMonitor(t, svc)

	m.wake(context.Background())

	res := m.LastResult()
	require.NotNil(t, res)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, svc.fetches)

	m.wake(context.Background())
	assert.Equal(t, 1, svc.fetches, "second wake inside the interval does not sync again")
}

func TestMonitorSyncDueAfterInterval(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList}
	m, _ := newTestMonitor(t, svc)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.wake(context.Background())
	require.Equal(t, 1, svc.fetches)

	m.now = func() time.Time { return base.Add(m.SyncInterval) }
	m.wake(context.Background())
	assert.Equal(t, 2, svc.fetches)
}

func TestMonitorFailedSyncRetriesNextWake(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	engine := New(store, remote.NewRegistry(), Options{Watchlist: true})
	m := NewMonitor(engine, store, nil)

	m.wake(context.Background())
	require.Error(t, m.LastResult().Err)

	m.mu.Lock()
	lastSync := m.lastSync
	m.mu.Unlock()
	assert.True(t, lastSync.IsZero(), "failed run does not advance the sync clock")
}

func TestMonitorSkipsOverlappingWake(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList}
	m, _ := newTestMonitor(t, svc)

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	m.wake(context.Background())
	assert.Zero(t, svc.callCount(), "wake during an in-flight cycle is a no-op")
}

func TestMonitorDailyMaintenance(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList}
	m, store := newTestMonitor(t, svc)
	m.HistoryMax = 2

	for ep := 1; ep <= 5; ep++ {
		store.MarkEpisodeWatched("100", library.SourceAniList, ep, 12)
	}

	refreshed := 0
	m.Refreshers = map[library.Source]auth.RefreshFunc{
		library.SourceAniList: func(ctx context.Context, current *auth.Credential) (*auth.Credential, error) {
			refreshed++
			assert.Equal(t, "renew-me", current.RefreshToken)
			return &auth.Credential{AccessToken: "fresh", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
		},
	}
	require.NoError(t, m.creds.Save(library.SourceAniList, &auth.Credential{
		AccessToken:  "stale",
		RefreshToken: "renew-me",
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}))

	base := time.Now()
	m.now = func() time.Time { return base }
	m.wake(context.Background())

	assert.Equal(t, 1, refreshed)
	assert.Len(t, store.GetWatchHistory(0), 2)

	cred, err := m.creds.Load(library.SourceAniList)
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.AccessToken)

	// Within the same day nothing maintenance-related runs again.
	m.now = func() time.Time { return base.Add(time.Hour) }
	store.MarkEpisodeWatched("100", library.SourceAniList, 6, 12)
	m.wake(context.Background())
	assert.Equal(t, 1, refreshed)
	assert.Len(t, store.GetWatchHistory(0), 3)
}

func TestMonitorStartStop(t *testing.T) {
	t.Parallel()

	svc := &fakeService{name: library.SourceAniList}
	m, _ := newTestMonitor(t, svc)
	m.WakeInterval = 10 * time.Millisecond

	m.Start()
	m.Start() // second Start is a no-op

	require.Eventually(t, func() bool {
		return m.LastResult() != nil
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop() // second Stop is a no-op

	fetched := svc.fetches
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetched, svc.fetches, "no wakes after Stop")
}
