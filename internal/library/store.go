package library

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	libraryFile   = "library.json"
	historyFile   = "watch_history.json"
	watchlistFile = "watchlist.json"

	documentVersion = 1

	// completedThreshold is the aggregate percentage at which an entry is
	// auto-promoted to COMPLETED.
	completedThreshold = 95.0
)

type libraryDocument struct {
	Version     int               `json:"version"`
	Anime       map[string]*Entry `json:"anime"`
	LastUpdated time.Time         `json:"last_updated"`
}

type historyDocument struct {
	Version     int            `json:"version"`
	History     []HistoryEvent `json:"history"`
	LastUpdated time.Time      `json:"last_updated"`
}

type watchlistDocument struct {
	Version     int             `json:"version"`
	Items       []WatchlistItem `json:"items"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Store is the durable local record of per-anime watch state. It assumes a
// single writer (the host process); a RWMutex guards in-process access only,
// there is no file locking.
type Store struct {
	mu  sync.RWMutex
	dir string

	entries   map[string]*Entry
	history   []HistoryEvent
	watchlist []WatchlistItem

	now func() time.Time
}

// Open loads the store documents from dir, creating it if needed. Missing or
// corrupt documents are treated as empty: the store self-heals rather than
// blocking startup.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("library store directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &Store{
		dir:     dir,
		entries: make(map[string]*Entry),
		now:     time.Now,
	}

	var lib libraryDocument
	if readDocument(filepath.Join(dir, libraryFile), &lib) && lib.Anime != nil {
		s.entries = lib.Anime
	}
	// Hand-edited or migrated documents may carry null maps; repair them so
	// writes never hit a nil map.
	for key, e := range s.entries {
		if e == nil {
			delete(s.entries, key)
			continue
		}
		if e.WatchedEpisodes == nil {
			e.WatchedEpisodes = make(map[int]bool)
		}
		if e.EpisodeProgress == nil {
			e.EpisodeProgress = make(map[int]float64)
		}
	}
	var hist historyDocument
	if readDocument(filepath.Join(dir, historyFile), &hist) {
		s.history = hist.History
	}
	var wl watchlistDocument
	if readDocument(filepath.Join(dir, watchlistFile), &wl) {
		s.watchlist = wl.Items
	}

	return s, nil
}

// readDocument loads a whole-document JSON file. Any failure is a warning,
// not an error: the caller starts from an empty default.
func readDocument(path string, dst any) bool {
	data, err := os.ReadFile(path) // #nosec G304 - paths come from the store directory
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[library] Failed to read %s: %v (starting empty)", filepath.Base(path), err)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Printf("[library] Corrupt document %s: %v (starting empty)", filepath.Base(path), err)
		return false
	}
	return true
}

func writeDocument(path string, doc any) bool {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Printf("[library] Failed to marshal %s: %v", filepath.Base(path), err)
		return false
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Printf("[library] Failed to write %s: %v", filepath.Base(path), err)
		return false
	}
	return true
}

func (s *Store) saveLibrary() bool {
	return writeDocument(filepath.Join(s.dir, libraryFile), libraryDocument{
		Version:     documentVersion,
		Anime:       s.entries,
		LastUpdated: s.now(),
	})
}

func (s *Store) saveHistory() bool {
	return writeDocument(filepath.Join(s.dir, historyFile), historyDocument{
		Version:     documentVersion,
		History:     s.history,
		LastUpdated: s.now(),
	})
}

func (s *Store) saveWatchlist() bool {
	return writeDocument(filepath.Join(s.dir, watchlistFile), watchlistDocument{
		Version:     documentVersion,
		Items:       s.watchlist,
		LastUpdated: s.now(),
	})
}

// Upsert carries the mutable fields for AddOrUpdate.
type Upsert struct {
	Status        Status
	Progress      float64
	TotalEpisodes int
	Score         float64
	RewatchCount  int
	Notes         string
}

// AddOrUpdate inserts or fully replaces the mutable fields of an entry.
// It reports false only when the backing document cannot be written.
func (s *Store) AddOrUpdate(id string, source Source, in Upsert) bool {
	if id == "" || !source.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := EntryKey(id, source)
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{
			ID:              id,
			Source:          source,
			WatchedEpisodes: make(map[int]bool),
			EpisodeProgress: make(map[int]float64),
			AddedAt:         now,
		}
		s.entries[key] = e
	}

	e.Status = in.Status
	e.Progress = in.Progress
	e.TotalEpisodes = in.TotalEpisodes
	e.Score = in.Score
	e.RewatchCount = in.RewatchCount
	e.Notes = in.Notes
	e.UpdatedAt = now

	return s.saveLibrary()
}

// Remove deletes an entry. Reports false when it was absent.
func (s *Store) Remove(id string, source Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := EntryKey(id, source)
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return s.saveLibrary()
}

// GetStatus returns a copy of the entry, or nil when untracked.
func (s *Store) GetStatus(id string, source Source) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[EntryKey(id, source)]
	if !ok {
		return nil
	}
	cp := cloneEntry(e)
	return &cp
}

// List returns all entries, optionally filtered by status, sorted by key.
func (s *Store) List(statusFilter Status) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if statusFilter != "" && e.Status != statusFilter {
			continue
		}
		res = append(res, cloneEntry(e))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key() < res[j].Key() })
	return res
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MarkEpisodeWatched marks episode as fully watched, appends a history
// event, recomputes aggregate progress and applies the automatic status
// transitions. The entry is created if it does not exist yet (a watch event
// is a valid first touch). totalEpisodes may be 0 when unknown.
func (s *Store) MarkEpisodeWatched(id string, source Source, episode, totalEpisodes int) bool {
	if id == "" || !source.Valid() || episode <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.ensureEntryLocked(id, source, now)
	if totalEpisodes > 0 {
		e.TotalEpisodes = totalEpisodes
	}

	e.WatchedEpisodes[episode] = true
	e.EpisodeProgress[episode] = 1.0

	s.recomputeProgressLocked(e, 0, 0)
	s.applyStatusLocked(e)
	e.UpdatedAt = now

	s.history = append(s.history, HistoryEvent{
		AnimeID:   id,
		Source:    source,
		Episode:   episode,
		WatchedAt: now,
	})

	ok := s.saveLibrary()
	return s.saveHistory() && ok
}

// UpdateEpisodeProgress records partial progress for an episode without
// marking it watched. Reports false when the entry is untracked.
func (s *Store) UpdateEpisodeProgress(id string, source Source, episode int, fraction float64, totalEpisodes int) bool {
	if episode <= 0 {
		return false
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[EntryKey(id, source)]
	if !ok {
		return false
	}
	if totalEpisodes > 0 {
		e.TotalEpisodes = totalEpisodes
	}

	e.EpisodeProgress[episode] = fraction

	s.recomputeProgressLocked(e, episode, fraction)
	s.applyStatusLocked(e)
	e.UpdatedAt = s.now()

	return s.saveLibrary()
}

// GetEpisodeProgress returns completion in [0,1] for one episode: 1.0 when
// watched, else the stored fraction, else 0.
func (s *Store) GetEpisodeProgress(id string, source Source, episode int) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[EntryKey(id, source)]
	if !ok {
		return 0
	}
	if e.WatchedEpisodes[episode] {
		return 1.0
	}
	return e.EpisodeProgress[episode]
}

func (s *Store) ensureEntryLocked(id string, source Source, now time.Time) *Entry {
	key := EntryKey(id, source)
	if e, ok := s.entries[key]; ok {
		if e.WatchedEpisodes == nil {
			e.WatchedEpisodes = make(map[int]bool)
		}
		if e.EpisodeProgress == nil {
			e.EpisodeProgress = make(map[int]float64)
		}
		return e
	}
	e := &Entry{
		ID:              id,
		Source:          source,
		Status:          StatusWatching,
		WatchedEpisodes: make(map[int]bool),
		EpisodeProgress: make(map[int]float64),
		AddedAt:         now,
	}
	s.entries[key] = e
	return e
}

// recomputeProgressLocked recalculates the aggregate progress percentage.
// inFlight/fraction describe one episode currently being watched; the
// fraction only counts when that episode is not already in the watched set.
func (s *Store) recomputeProgressLocked(e *Entry, inFlight int, fraction float64) {
	if e.TotalEpisodes <= 0 {
		// Unknown total: track the highest watched episode number.
		highest := 0
		for ep := range e.WatchedEpisodes {
			if ep > highest {
				highest = ep
			}
		}
		if float64(highest) > e.Progress {
			e.Progress = float64(highest)
		}
		return
	}

	watched := float64(len(e.WatchedEpisodes))
	if inFlight > 0 && !e.WatchedEpisodes[inFlight] {
		watched += fraction
	}
	pct := watched / float64(e.TotalEpisodes) * 100
	if pct > 100 {
		pct = 100
	}
	e.Progress = pct
}

// applyStatusLocked applies the automatic transitions. Never moves an entry
// away from COMPLETED.
func (s *Store) applyStatusLocked(e *Entry) {
	if e.Status == StatusCompleted {
		return
	}
	if e.TotalEpisodes > 0 && e.Progress >= completedThreshold {
		e.Status = StatusCompleted
		return
	}
	if e.Progress > 0 && (e.Status == StatusPlanning || e.Status == "") {
		e.Status = StatusWatching
	}
}

func cloneEntry(e *Entry) Entry {
	cp := *e
	cp.WatchedEpisodes = make(map[int]bool, len(e.WatchedEpisodes))
	for k, v := range e.WatchedEpisodes {
		cp.WatchedEpisodes[k] = v
	}
	cp.EpisodeProgress = make(map[int]float64, len(e.EpisodeProgress))
	for k, v := range e.EpisodeProgress {
		cp.EpisodeProgress[k] = v
	}
	return cp
}
