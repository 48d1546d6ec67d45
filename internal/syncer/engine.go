// Package syncer reconciles the local library with the configured remote
// services. A run walks its stages in a fixed order, reports progress
// through a callback, and honors cooperative cancellation at stage
// boundaries.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/animedb/animedb-helper/internal/library"
	"github.com/animedb/animedb-helper/internal/remote"
)

var (
	// ErrNoServices is returned when the registry holds no services.
	ErrNoServices = errors.New("no services enabled for sync")

	// ErrNoStages is returned when every stage is disabled in Options.
	ErrNoStages = errors.New("no sync stages enabled")
)

// HistoryFilter narrows the history stage to a single watch event.
type HistoryFilter struct {
	AnimeID string
	Source  library.Source
	Episode int
}

// Options selects the stages of a run. Zero value disables everything.
type Options struct {
	Watchlist bool
	History   bool
	Ratings   bool

	// HistoryFilter, when set, restricts the history stage to one event.
	HistoryFilter *HistoryFilter
}

// ProgressFunc receives a human-readable message and a completion percent
// after each stage transition.
type ProgressFunc func(message string, percent int)

// ServiceResult is the outcome of one stage for one service.
type ServiceResult struct {
	Processed int      `json:"processed"`
	Synced    int      `json:"synced"`
	Pulled    int      `json:"pulled,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// StageResult aggregates the per-service outcomes of one stage.
type StageResult struct {
	Services map[library.Source]*ServiceResult `json:"services"`
}

// Totals sums processed and synced counts across services.
func (r *StageResult) Totals() (processed, synced int) {
	for _, sr := range r.Services {
		processed += sr.Processed
		synced += sr.Synced
	}
	return processed, synced
}

// Errors flattens the per-service error strings.
func (r *StageResult) Errors() []string {
	var out []string
	for _, source := range library.Sources {
		sr, ok := r.Services[source]
		if !ok {
			continue
		}
		for _, e := range sr.Errors {
			out = append(out, fmt.Sprintf("%s: %s", source, e))
		}
	}
	return out
}

// Result is the outcome of one full run. Exactly one of Cancelled, Err or
// the stage results is meaningful.
type Result struct {
	Cancelled bool         `json:"cancelled,omitempty"`
	Message   string       `json:"message,omitempty"`
	Err       error        `json:"-"`
	Watchlist *StageResult `json:"watchlist,omitempty"`
	History   *StageResult `json:"history,omitempty"`
	Ratings   *StageResult `json:"ratings,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Engine runs sync passes over the library store and the remote registry.
type Engine struct {
	store    *library.Store
	registry *remote.Registry
	opts     Options

	now func() time.Time
}

// New returns an engine with the given stage selection.
func New(store *library.Store, registry *remote.Registry, opts Options) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		opts:     opts,
		now:      time.Now,
	}
}

type stage struct {
	name string
	run  func(ctx context.Context, svc remote.Service, sr *ServiceResult)
}

// SyncAll runs the enabled stages against every registered service.
// progress and cancel may be nil. Per-item failures are collected in the
// stage results and never abort the other services; a panic anywhere in a
// stage surfaces as Result.Err.
func (e *Engine) SyncAll(ctx context.Context, progress ProgressFunc, cancel *CancelToken) (res *Result) {
	res = &Result{StartedAt: e.now()}
	defer func() {
		res.FinishedAt = e.now()
		if r := recover(); r != nil {
			log.Printf("[sync] Panic during sync: %v", r)
			res.Err = fmt.Errorf("sync panicked: %v", r)
		}
	}()
	if progress == nil {
		progress = func(string, int) {}
	}

	services := e.registry.Enabled()
	if len(services) == 0 {
		res.Err = ErrNoServices
		return res
	}

	var stages []stage
	if e.opts.Watchlist {
		stages = append(stages, stage{"watchlist", e.syncWatchlist})
	}
	if e.opts.History {
		stages = append(stages, stage{"history", e.syncHistory})
	}
	if e.opts.Ratings {
		stages = append(stages, stage{"ratings", e.syncRatings})
	}
	if len(stages) == 0 {
		res.Err = ErrNoStages
		return res
	}

	for i, st := range stages {
		if cancel.Cancelled() || ctx.Err() != nil {
			res.Cancelled = true
			res.Message = fmt.Sprintf("sync cancelled before %s stage", st.name)
			return res
		}
		progress(fmt.Sprintf("Syncing %s", st.name), i*100/len(stages))

		sr := &StageResult{Services: make(map[library.Source]*ServiceResult)}
		for _, svc := range services {
			out := &ServiceResult{}
			st.run(ctx, svc, out)
			sr.Services[svc.Name()] = out
		}
		switch st.name {
		case "watchlist":
			res.Watchlist = sr
		case "history":
			res.History = sr
		case "ratings":
			res.Ratings = sr
		}

		processed, synced := sr.Totals()
		log.Printf("[sync] Stage %s done: %d processed, %d synced, %d errors",
			st.name, processed, synced, len(sr.Errors()))
	}

	progress("Sync complete", 100)
	return res
}

// syncWatchlist pulls the remote list into the local library and pushes
// local watchlist items the service does not have yet.
func (e *Engine) syncWatchlist(ctx context.Context, svc remote.Service, sr *ServiceResult) {
	source := svc.Name()

	entries, err := svc.FetchWatchlist(ctx)
	if err != nil {
		sr.Errors = append(sr.Errors, fmt.Sprintf("fetch watchlist: %v", err))
	}
	for _, le := range entries {
		if le.Media.ID == "" {
			continue
		}
		if e.store.GetStatus(le.Media.ID, source) != nil {
			continue
		}
		e.store.AddOrUpdate(le.Media.ID, source, library.Upsert{
			Status:        le.Status,
			Progress:      watchlistProgress(le),
			TotalEpisodes: le.Media.Episodes,
			Score:         le.Score,
		})
		sr.Pulled++
	}

	for _, item := range e.store.Watchlist() {
		if item.Source != source {
			continue
		}
		sr.Processed++
		err := e.pushWithRetry(ctx, func() error {
			return svc.PushWatchlistAdd(ctx, item)
		})
		switch {
		case err == nil:
			sr.Synced++
		case errors.Is(err, remote.ErrNotSupported):
		default:
			sr.Errors = append(sr.Errors, fmt.Sprintf("%s: %v", item.ID, err))
		}
	}
}

// syncHistory pushes watch events to the service that owns them. Each
// (title, episode) pair goes out at most once per run.
func (e *Engine) syncHistory(ctx context.Context, svc remote.Service, sr *ServiceResult) {
	source := svc.Name()
	seen := make(map[string]bool)

	for _, ev := range e.store.GetWatchHistory(0) {
		if f := e.opts.HistoryFilter; f != nil {
			if ev.AnimeID != f.AnimeID || ev.Source != f.Source {
				continue
			}
			if f.Episode > 0 && ev.Episode != f.Episode {
				continue
			}
		}
		key := fmt.Sprintf("%s_%s_%d", ev.Source, ev.AnimeID, ev.Episode)
		if seen[key] {
			continue
		}
		seen[key] = true

		if ev.Source != source {
			continue
		}
		sr.Processed++
		entry := e.store.GetStatus(ev.AnimeID, ev.Source)
		status := library.StatusWatching
		score := 0.0
		if entry != nil {
			status = entry.Status
			score = entry.Score
		}
		err := e.pushWithRetry(ctx, func() error {
			return svc.PushProgress(ctx, ev.AnimeID, ev.Episode, status, score)
		})
		switch {
		case err == nil:
			sr.Synced++
		case errors.Is(err, remote.ErrNotSupported):
		default:
			sr.Errors = append(sr.Errors, fmt.Sprintf("%s episode %d: %v", ev.AnimeID, ev.Episode, err))
		}
	}
}

// syncRatings pushes local scores for entries owned by the service.
func (e *Engine) syncRatings(ctx context.Context, svc remote.Service, sr *ServiceResult) {
	source := svc.Name()

	for _, entry := range e.store.List("") {
		if entry.Source != source {
			continue
		}
		sr.Processed++
		if entry.Score <= 0 {
			continue
		}
		err := e.pushWithRetry(ctx, func() error {
			return svc.PushProgress(ctx, entry.ID, 0, entry.Status, entry.Score)
		})
		switch {
		case err == nil:
			sr.Synced++
		case errors.Is(err, remote.ErrNotSupported):
		default:
			sr.Errors = append(sr.Errors, fmt.Sprintf("%s: %v", entry.ID, err))
		}
	}
}

// pushWithRetry retries a push a couple of times with exponential backoff.
// Not-found and not-supported are permanent, as is context cancellation.
func (e *Engine) pushWithRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 15 * time.Second

	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, remote.ErrNotSupported) || errors.Is(err, remote.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), 2))
}

// watchlistProgress derives the percent progress from a remote entry.
func watchlistProgress(le remote.ListEntry) float64 {
	if le.Media.Episodes <= 0 || le.Progress <= 0 {
		return 0
	}
	p := float64(le.Progress) / float64(le.Media.Episodes) * 100
	if p > 100 {
		p = 100
	}
	return p
}
