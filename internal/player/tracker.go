// Package player turns an external player's time-position signal into
// library writes. The tracker polls the host, derives a progress fraction
// and applies the watched-threshold policy.
package player

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/animedb/animedb-helper/internal/library"
)

// Host is the slice of the media-center player the tracker reads.
type Host interface {
	IsPlaying() bool
	Position() time.Duration
	Duration() time.Duration
}

// Notifier receives checkpoint notifications. A nil notifier is allowed.
type Notifier interface {
	Notify(title, message string)
}

// State is the tracker lifecycle phase.
type State int

const (
	StateStarted State = iota
	StateMonitoring
	StateEnded
)

const (
	// watchedThreshold is the fraction past which an episode counts as
	// fully watched.
	watchedThreshold = 0.90

	// retroactiveThreshold is the fraction past which a stopped episode
	// is still marked watched on end.
	retroactiveThreshold = 0.50

	// minProgress and minElapsed suppress writes for accidental plays.
	minProgress = 0.05
	minElapsed  = time.Minute

	defaultPollInterval  = time.Second
	defaultWriteInterval = 30 * time.Second
)

// checkpoints are the progress percentages that trigger a notification.
// Crossing any of them also forces a progress write past the throttle.
var checkpoints = []int{25, 50, 75, 90, 95}

// Tracker follows one episode's playback session.
type Tracker struct {
	store    *library.Store
	host     Host
	notifier Notifier

	animeID       string
	source        library.Source
	episode       int
	totalEpisodes int

	// PollInterval is how often the host is sampled.
	PollInterval time.Duration
	// WriteInterval throttles progress writes between checkpoints.
	WriteInterval time.Duration

	state     State
	startedAt time.Time
	lastWrite time.Time
	reached   map[int]bool
	marked    bool
	final     float64
	elapsed   time.Duration

	now func() time.Time
}

// NewTracker prepares a tracker for one episode. Run starts it.
func NewTracker(store *library.Store, host Host, notifier Notifier, animeID string, source library.Source, episode, totalEpisodes int) *Tracker {
	return &Tracker{
		store:         store,
		host:          host,
		notifier:      notifier,
		animeID:       animeID,
		source:        source,
		episode:       episode,
		totalEpisodes: totalEpisodes,
		PollInterval:  defaultPollInterval,
		WriteInterval: defaultWriteInterval,
		reached:       make(map[int]bool),
		now:           time.Now,
	}
}

// State returns the current lifecycle phase.
func (t *Tracker) State() State { return t.state }

// Run polls the host until playback stops or ctx is cancelled, then applies
// the end-of-playback policy. It blocks for the whole session.
func (t *Tracker) Run(ctx context.Context) {
	t.state = StateStarted
	t.startedAt = t.now()
	log.Printf("[player] Tracking %s/%s episode %d", t.source, t.animeID, t.episode)

	ticker := time.NewTicker(t.PollInterval)
	defer ticker.Stop()
	defer t.finish()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.host.IsPlaying() {
				return
			}
			t.state = StateMonitoring
			t.observe(t.host.Position(), t.host.Duration())
		}
	}
}

// observe processes one playback sample. It is the whole decision core so
// tests can drive a session without a real clock.
func (t *Tracker) observe(position, duration time.Duration) {
	if duration <= 0 {
		return
	}
	progress := float64(position) / float64(duration)
	if progress > 1 {
		progress = 1
	}
	t.final = progress
	t.elapsed = t.now().Sub(t.startedAt)

	// Accidental-play guard: a session that barely started writes nothing.
	if progress < minProgress || t.elapsed < minElapsed {
		return
	}

	forced := false
	for _, cp := range checkpoints {
		if progress*100 < float64(cp) || t.reached[cp] {
			continue
		}
		t.reached[cp] = true
		forced = true
		if t.notifier != nil {
			t.notifier.Notify(
				fmt.Sprintf("Episode %d", t.episode),
				fmt.Sprintf("%d%% watched", cp),
			)
		}
	}

	if progress >= watchedThreshold {
		t.markWatched()
		return
	}

	now := t.now()
	if !forced && !t.lastWrite.IsZero() && now.Sub(t.lastWrite) < t.WriteInterval {
		return
	}
	t.lastWrite = now
	t.store.UpdateEpisodeProgress(t.animeID, t.source, t.episode, progress, t.totalEpisodes)
}

// finish applies the end-of-playback policy: a stop past the halfway mark
// still counts as watched.
func (t *Tracker) finish() {
	if t.state == StateEnded {
		return
	}
	t.state = StateEnded

	if t.marked {
		return
	}
	if t.final < minProgress || t.elapsed < minElapsed {
		return
	}
	if t.final >= retroactiveThreshold {
		t.markWatched()
	}
}

func (t *Tracker) markWatched() {
	if t.marked {
		return
	}
	t.marked = true
	t.store.MarkEpisodeWatched(t.animeID, t.source, t.episode, t.totalEpisodes)
	log.Printf("[player] Marked %s/%s episode %d watched", t.source, t.animeID, t.episode)
}
