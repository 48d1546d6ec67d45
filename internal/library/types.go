// Package library implements the local source of truth for per-anime watch
// state: tracked entries, the append-only watch history log, and the local
// watchlist. All three are persisted as whole-document JSON files.
package library

import (
	"fmt"
	"time"
)

// Source identifies which external service an anime ID belongs to.
type Source string

const (
	SourceAniList Source = "anilist"
	SourceMAL     Source = "mal"
	SourceTrakt   Source = "trakt"
)

// Sources lists the tracked services in their fixed visit order.
var Sources = []Source{SourceAniList, SourceMAL, SourceTrakt}

// Valid reports whether s is one of the tracked services.
func (s Source) Valid() bool {
	switch s {
	case SourceAniList, SourceMAL, SourceTrakt:
		return true
	}
	return false
}

// Status is the tracked watch status of a library entry.
type Status string

const (
	StatusPlanning  Status = "PLANNING"
	StatusWatching  Status = "WATCHING"
	StatusCompleted Status = "COMPLETED"
	StatusPaused    Status = "PAUSED"
	StatusDropped   Status = "DROPPED"
	StatusRepeating Status = "REPEATING"
)

// Entry is one tracked anime, keyed by (Source, ID).
type Entry struct {
	ID     string `json:"id"`
	Source Source `json:"source"`
	Status Status `json:"status"`

	// Progress is the aggregate watched fraction as a percentage of
	// TotalEpisodes. When TotalEpisodes is unknown (0) it holds the
	// highest watched episode number instead.
	Progress      float64 `json:"progress"`
	TotalEpisodes int     `json:"total_episodes"`

	// WatchedEpisodes is the sparse set of fully watched episode numbers.
	WatchedEpisodes map[int]bool `json:"watched_episodes"`
	// EpisodeProgress holds fractional completion in [0,1] for episodes
	// that are started but not yet in WatchedEpisodes.
	EpisodeProgress map[int]float64 `json:"episode_progress"`

	Score        float64 `json:"score"`
	RewatchCount int     `json:"rewatch_count"`
	Notes        string  `json:"notes"`

	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the unique map key for an entry.
func (e Entry) Key() string {
	return EntryKey(e.ID, e.Source)
}

// EntryKey builds the "{source}_{id}" key used across all three documents.
func EntryKey(id string, source Source) string {
	return fmt.Sprintf("%s_%s", source, id)
}

// HistoryEvent is one append-only watch log record. Events are never
// deduplicated; "last watched" is derived by scanning from the tail.
type HistoryEvent struct {
	AnimeID   string    `json:"anime_id"`
	Source    Source    `json:"source"`
	Episode   int       `json:"episode"`
	WatchedAt time.Time `json:"watched_at"`
}

// WatchlistItem is a lightweight want-to-watch pointer, independent of
// library entries. Membership is deduplicated by (ID, Source).
type WatchlistItem struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Poster  string    `json:"poster,omitempty"`
	Banner  string    `json:"banner,omitempty"`
	Source  Source    `json:"source"`
	AddedAt time.Time `json:"added_at"`
}
