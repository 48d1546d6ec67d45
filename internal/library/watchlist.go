package library

// AddToWatchlist appends an item unless it is already present.
func (s *Store) AddToWatchlist(item WatchlistItem) bool {
	if item.ID == "" || !item.Source.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchlistIndexLocked(item.ID, item.Source) >= 0 {
		return false
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = s.now()
	}
	s.watchlist = append(s.watchlist, item)
	return s.saveWatchlist()
}

// RemoveFromWatchlist removes the item, reporting false when absent.
func (s *Store) RemoveFromWatchlist(id string, source Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.watchlistIndexLocked(id, source)
	if i < 0 {
		return false
	}
	s.watchlist = append(s.watchlist[:i], s.watchlist[i+1:]...)
	return s.saveWatchlist()
}

// InWatchlist reports membership.
func (s *Store) InWatchlist(id string, source Source) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watchlistIndexLocked(id, source) >= 0
}

// ToggleWatchlist flips membership and returns the new state: true when the
// item is now on the watchlist.
func (s *Store) ToggleWatchlist(item WatchlistItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.watchlistIndexLocked(item.ID, item.Source); i >= 0 {
		s.watchlist = append(s.watchlist[:i], s.watchlist[i+1:]...)
		s.saveWatchlist()
		return false
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = s.now()
	}
	s.watchlist = append(s.watchlist, item)
	s.saveWatchlist()
	return true
}

// Watchlist returns the items in insertion order.
func (s *Store) Watchlist() []WatchlistItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]WatchlistItem, len(s.watchlist))
	copy(res, s.watchlist)
	return res
}

func (s *Store) watchlistIndexLocked(id string, source Source) int {
	for i, it := range s.watchlist {
		if it.ID == id && it.Source == source {
			return i
		}
	}
	return -1
}
