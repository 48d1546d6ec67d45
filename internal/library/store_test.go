package library

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	s, err := Open(tmpDir)
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, 0, s.Len())
}

func TestOpen_EmptyDir(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	assert.Error(t, err)
}

func TestOpen_CorruptDocumentStartsEmpty(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	err := os.WriteFile(filepath.Join(tmpDir, libraryFile), []byte("{not json"), 0o600)
	require.NoError(t, err)

	s, err := Open(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestOpen_RepairsNullMaps(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	doc := `{"version": 1, "anime": {
		"anilist_9": {
			"id": "9", "source": "anilist", "status": "WATCHING",
			"total_episodes": 12,
			"watched_episodes": null,
			"episode_progress": null
		},
		"anilist_null": null
	}}`
	err := os.WriteFile(filepath.Join(tmpDir, libraryFile), []byte(doc), 0o600)
	require.NoError(t, err)

	s, err := Open(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.UpdateEpisodeProgress("9", SourceAniList, 3, 0.4, 12))
	assert.InDelta(t, 0.4, s.GetEpisodeProgress("9", SourceAniList, 3), 1e-9)

	assert.True(t, s.MarkEpisodeWatched("9", SourceAniList, 1, 12))
	assert.Equal(t, 1.0, s.GetEpisodeProgress("9", SourceAniList, 1))
}

func TestStore_AddOrUpdate(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	ok := s.AddOrUpdate("123", SourceAniList, Upsert{
		Status:        StatusPlanning,
		TotalEpisodes: 12,
	})
	assert.True(t, ok)

	e := s.GetStatus("123", SourceAniList)
	require.NotNil(t, e)
	assert.Equal(t, StatusPlanning, e.Status)
	assert.Equal(t, 12, e.TotalEpisodes)
	assert.False(t, e.AddedAt.IsZero())
}

func TestStore_AddOrUpdate_Idempotent(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.AddOrUpdate("123", SourceAniList, Upsert{Status: StatusPlanning, TotalEpisodes: 12}))
	added := s.GetStatus("123", SourceAniList).AddedAt

	require.True(t, s.AddOrUpdate("123", SourceAniList, Upsert{Status: StatusWatching, TotalEpisodes: 12, Score: 8}))

	assert.Equal(t, 1, s.Len())
	e := s.GetStatus("123", SourceAniList)
	assert.Equal(t, StatusWatching, e.Status)
	assert.Equal(t, 8.0, e.Score)
	assert.Equal(t, added, e.AddedAt)
}

func TestStore_AddOrUpdate_InvalidSource(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.False(t, s.AddOrUpdate("123", Source("netflix"), Upsert{}))
	assert.False(t, s.AddOrUpdate("", SourceAniList, Upsert{}))
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.AddOrUpdate("123", SourceMAL, Upsert{Status: StatusWatching}))

	assert.True(t, s.Remove("123", SourceMAL))
	assert.Nil(t, s.GetStatus("123", SourceMAL))
	assert.False(t, s.Remove("123", SourceMAL))
}

func TestStore_MarkEpisodeWatched_CompletesSeries(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.AddOrUpdate("123", SourceAniList, Upsert{Status: StatusWatching, TotalEpisodes: 12}))
	for ep := 1; ep <= 11; ep++ {
		require.True(t, s.MarkEpisodeWatched("123", SourceAniList, ep, 12))
	}

	e := s.GetStatus("123", SourceAniList)
	assert.InDelta(t, 91.67, e.Progress, 0.01)
	assert.Equal(t, StatusWatching, e.Status)

	require.True(t, s.MarkEpisodeWatched("123", SourceAniList, 12, 12))

	e = s.GetStatus("123", SourceAniList)
	assert.Equal(t, 100.0, e.Progress)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.Len(t, s.GetWatchHistory(0), 12)
}

func TestStore_MarkEpisodeWatched_CreatesEntry(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.MarkEpisodeWatched("55", SourceMAL, 3, 24))

	e := s.GetStatus("55", SourceMAL)
	require.NotNil(t, e)
	assert.Equal(t, StatusWatching, e.Status)
	assert.InDelta(t, 4.17, e.Progress, 0.01)
	assert.True(t, e.WatchedEpisodes[3])
}

func TestStore_MarkEpisodeWatched_Monotonic(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.MarkEpisodeWatched("55", SourceMAL, 3, 24))
	// Rewinding the episode afterwards must not unmark it.
	require.True(t, s.UpdateEpisodeProgress("55", SourceMAL, 3, 0.1, 24))

	assert.Equal(t, 1.0, s.GetEpisodeProgress("55", SourceMAL, 3))
	e := s.GetStatus("55", SourceMAL)
	assert.True(t, e.WatchedEpisodes[3])
	assert.InDelta(t, 4.17, e.Progress, 0.01)
}

func TestStore_MarkEpisodeWatched_UnknownTotal(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.MarkEpisodeWatched("55", SourceMAL, 7, 0))

	e := s.GetStatus("55", SourceMAL)
	assert.Equal(t, 7.0, e.Progress)
	assert.Equal(t, StatusWatching, e.Status)
}

func TestStore_UpdateEpisodeProgress(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.AddOrUpdate("123", SourceAniList, Upsert{Status: StatusPlanning, TotalEpisodes: 12}))
	require.True(t, s.MarkEpisodeWatched("123", SourceAniList, 1, 12))
	require.True(t, s.MarkEpisodeWatched("123", SourceAniList, 2, 12))

	require.True(t, s.UpdateEpisodeProgress("123", SourceAniList, 3, 0.4, 12))

	e := s.GetStatus("123", SourceAniList)
	assert.InDelta(t, 20.0, e.Progress, 0.001)
	assert.Equal(t, StatusWatching, e.Status)
	assert.Equal(t, 0.4, s.GetEpisodeProgress("123", SourceAniList, 3))
}

func TestStore_UpdateEpisodeProgress_Untracked(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.False(t, s.UpdateEpisodeProgress("999", SourceAniList, 1, 0.5, 12))
}

func TestStore_UpdateEpisodeProgress_ClampsFraction(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.AddOrUpdate("123", SourceAniList, Upsert{Status: StatusWatching, TotalEpisodes: 10}))
	require.True(t, s.UpdateEpisodeProgress("123", SourceAniList, 1, 1.7, 10))

	assert.Equal(t, 1.0, s.GetEpisodeProgress("123", SourceAniList, 1))
}

func TestStore_CompletedIsSticky(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.AddOrUpdate("123", SourceAniList, Upsert{Status: StatusCompleted, Progress: 100, TotalEpisodes: 12}))
	require.True(t, s.UpdateEpisodeProgress("123", SourceAniList, 1, 0.5, 12))

	assert.Equal(t, StatusCompleted, s.GetStatus("123", SourceAniList).Status)
}

func TestStore_Reload(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	s, err := Open(tmpDir)
	require.NoError(t, err)
	require.True(t, s.AddOrUpdate("123", SourceAniList, Upsert{Status: StatusWatching, TotalEpisodes: 12}))
	require.True(t, s.MarkEpisodeWatched("123", SourceAniList, 5, 12))
	require.True(t, s.AddToWatchlist(WatchlistItem{ID: "77", Title: "Mushishi", Source: SourceMAL}))

	reloaded, err := Open(tmpDir)
	require.NoError(t, err)

	e := reloaded.GetStatus("123", SourceAniList)
	require.NotNil(t, e)
	assert.True(t, e.WatchedEpisodes[5])
	assert.InDelta(t, 8.33, e.Progress, 0.01)
	assert.Len(t, reloaded.GetWatchHistory(0), 1)
	assert.True(t, reloaded.InWatchlist("77", SourceMAL))
}

func TestStore_GetStatus_ReturnsCopy(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.MarkEpisodeWatched("123", SourceAniList, 1, 12))

	e := s.GetStatus("123", SourceAniList)
	e.WatchedEpisodes[2] = true

	assert.False(t, s.GetStatus("123", SourceAniList).WatchedEpisodes[2])
}

func TestStore_List(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.AddOrUpdate("1", SourceAniList, Upsert{Status: StatusWatching}))
	require.True(t, s.AddOrUpdate("2", SourceAniList, Upsert{Status: StatusCompleted}))
	require.True(t, s.AddOrUpdate("3", SourceMAL, Upsert{Status: StatusWatching}))

	assert.Len(t, s.List(""), 3)
	assert.Len(t, s.List(StatusWatching), 2)
	assert.Len(t, s.List(StatusDropped), 0)
}

func TestStore_GetContinueWatching(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	require.True(t, s.MarkEpisodeWatched("old", SourceAniList, 1, 12))
	require.True(t, s.MarkEpisodeWatched("recent", SourceAniList, 1, 12))
	// Completed entries never show up.
	require.True(t, s.AddOrUpdate("done", SourceAniList, Upsert{Status: StatusWatching, TotalEpisodes: 2}))
	require.True(t, s.MarkEpisodeWatched("done", SourceAniList, 1, 2))
	require.True(t, s.MarkEpisodeWatched("done", SourceAniList, 2, 2))

	items := s.GetContinueWatching(0)
	require.Len(t, items, 2)
	assert.Equal(t, "recent", items[0].Entry.ID)
	assert.Equal(t, 2, items[0].NextEpisode)
	assert.Equal(t, "old", items[1].Entry.ID)

	items = s.GetContinueWatching(1)
	assert.Len(t, items, 1)
}

func TestStore_GetRecentlyWatched(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.True(t, s.MarkEpisodeWatched("a", SourceAniList, 1, 12))
	require.True(t, s.MarkEpisodeWatched("b", SourceAniList, 1, 12))
	require.True(t, s.MarkEpisodeWatched("a", SourceAniList, 2, 12))

	recent := s.GetRecentlyWatched(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "a", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)
}

func TestStore_History(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for ep := 1; ep <= 5; ep++ {
		require.True(t, s.MarkEpisodeWatched("a", SourceAniList, ep, 12))
	}

	hist := s.GetWatchHistory(2)
	require.Len(t, hist, 2)
	assert.Equal(t, 5, hist[0].Episode)
	assert.Equal(t, 4, hist[1].Episode)

	assert.True(t, s.PruneHistory(3))
	assert.Len(t, s.GetWatchHistory(0), 3)
	assert.False(t, s.PruneHistory(3))

	assert.True(t, s.ClearHistory())
	assert.Len(t, s.GetWatchHistory(0), 0)
}

func TestStore_Watchlist(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	item := WatchlistItem{ID: "42", Title: "Monster", Source: SourceAniList}
	assert.True(t, s.AddToWatchlist(item))
	assert.False(t, s.AddToWatchlist(item), "duplicate add is rejected")
	assert.True(t, s.InWatchlist("42", SourceAniList))
	assert.False(t, s.InWatchlist("42", SourceMAL))

	assert.False(t, s.ToggleWatchlist(item), "toggle removes existing item")
	assert.False(t, s.InWatchlist("42", SourceAniList))
	assert.True(t, s.ToggleWatchlist(item), "toggle re-adds item")

	assert.True(t, s.RemoveFromWatchlist("42", SourceAniList))
	assert.False(t, s.RemoveFromWatchlist("42", SourceAniList))
	assert.Len(t, s.Watchlist(), 0)
}

func TestStore_DocumentFormat(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	s, err := Open(tmpDir)
	require.NoError(t, err)
	require.True(t, s.AddOrUpdate("123", SourceAniList, Upsert{Status: StatusWatching, TotalEpisodes: 12}))

	data, err := os.ReadFile(filepath.Join(tmpDir, libraryFile))
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "version")
	assert.Contains(t, doc, "anime")
	assert.Contains(t, doc, "last_updated")
}
