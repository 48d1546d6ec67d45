package library

import (
	"sort"
	"time"
)

// ContinueItem is an in-progress entry enriched with resume hints.
type ContinueItem struct {
	Entry       Entry
	NextEpisode int
	LastWatched time.Time
}

// GetContinueWatching returns partially watched entries ordered by most
// recently watched, then by completion percentage. limit <= 0 means all.
func (s *Store) GetContinueWatching(limit int) []ContinueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastWatched := s.lastWatchedIndexLocked()

	items := make([]ContinueItem, 0)
	for key, e := range s.entries {
		if e.Status == StatusCompleted || e.Status == StatusDropped {
			continue
		}
		if len(e.WatchedEpisodes) == 0 && len(e.EpisodeProgress) == 0 {
			continue
		}
		if e.TotalEpisodes > 0 && len(e.WatchedEpisodes) >= e.TotalEpisodes {
			continue
		}
		items = append(items, ContinueItem{
			Entry:       cloneEntry(e),
			NextEpisode: nextEpisode(e),
			LastWatched: lastWatched[key],
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].LastWatched.Equal(items[j].LastWatched) {
			return items[i].LastWatched.After(items[j].LastWatched)
		}
		return items[i].Entry.Progress > items[j].Entry.Progress
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// GetRecentlyWatched returns distinct entries in order of their most recent
// watch event, newest first.
func (s *Store) GetRecentlyWatched(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	res := make([]Entry, 0)
	for i := len(s.history) - 1; i >= 0; i-- {
		ev := s.history[i]
		key := EntryKey(ev.AnimeID, ev.Source)
		if seen[key] {
			continue
		}
		seen[key] = true
		if e, ok := s.entries[key]; ok {
			res = append(res, cloneEntry(e))
			if limit > 0 && len(res) >= limit {
				break
			}
		}
	}
	return res
}

// GetWatchHistory returns the most recent events, newest first.
// limit <= 0 means all.
func (s *Store) GetWatchHistory(limit int) []HistoryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	res := make([]HistoryEvent, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(res) < n; i-- {
		res = append(res, s.history[i])
	}
	return res
}

// ClearHistory drops all watch events.
func (s *Store) ClearHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = nil
	return s.saveHistory()
}

// PruneHistory keeps only the max most recent events. Reports whether a
// trim happened and was persisted.
func (s *Store) PruneHistory(max int) bool {
	if max <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) <= max {
		return false
	}
	s.history = append([]HistoryEvent(nil), s.history[len(s.history)-max:]...)
	return s.saveHistory()
}

// lastWatchedIndexLocked maps entry key to its most recent watch timestamp.
func (s *Store) lastWatchedIndexLocked() map[string]time.Time {
	idx := make(map[string]time.Time, len(s.entries))
	for _, ev := range s.history {
		key := EntryKey(ev.AnimeID, ev.Source)
		if ev.WatchedAt.After(idx[key]) {
			idx[key] = ev.WatchedAt
		}
	}
	return idx
}

// nextEpisode picks the lowest unwatched episode, falling back to the
// highest watched plus one.
func nextEpisode(e *Entry) int {
	if e.TotalEpisodes > 0 {
		for ep := 1; ep <= e.TotalEpisodes; ep++ {
			if !e.WatchedEpisodes[ep] {
				return ep
			}
		}
		return e.TotalEpisodes
	}
	highest := 0
	for ep := range e.WatchedEpisodes {
		if ep > highest {
			highest = ep
		}
	}
	return highest + 1
}
