package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/animedb/animedb-helper/internal/auth"
	"github.com/animedb/animedb-helper/internal/library"
)

const (
	defaultWakeInterval = 5 * time.Minute
	defaultSyncInterval = 6 * time.Hour
	maintenanceInterval = 24 * time.Hour
	defaultHistoryMax   = 1000
)

// Monitor runs the engine on a schedule. It wakes at a short interval and
// on each wake decides independently whether a sync, a token refresh or a
// history prune is due. A sync in flight is never doubled.
type Monitor struct {
	engine *Engine
	store  *library.Store
	creds  *auth.Store

	// Refreshers holds the per-service token renewal functions handed to
	// the credential store on the daily refresh pass.
	Refreshers map[library.Source]auth.RefreshFunc

	// WakeInterval is how often the loop checks its schedule.
	WakeInterval time.Duration

	// SyncInterval is the minimum gap between successful sync runs.
	SyncInterval time.Duration

	// HistoryMax caps the watch history length on the daily prune.
	HistoryMax int

	mu          sync.Mutex
	running     bool
	lastSync    time.Time
	lastRefresh time.Time
	lastPrune   time.Time
	lastResult  *Result

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewMonitor returns a stopped monitor with default intervals.
func NewMonitor(engine *Engine, store *library.Store, creds *auth.Store) *Monitor {
	return &Monitor{
		engine:       engine,
		store:        store,
		creds:        creds,
		WakeInterval: defaultWakeInterval,
		SyncInterval: defaultSyncInterval,
		HistoryMax:   defaultHistoryMax,
		now:          time.Now,
	}
}

// Start launches the background loop. Calling Start on a started monitor
// is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx)
	log.Printf("[monitor] Started, waking every %s", m.WakeInterval)
}

// Stop signals the loop and waits for it to exit, bounded to ten seconds
// so a hung remote call cannot block shutdown forever.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("[monitor] Shutdown wait timed out")
	}
}

// LastResult returns the outcome of the most recent scheduled run.
func (m *Monitor) LastResult() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.WakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.wake(ctx)
		}
	}
}

// wake runs the due tasks sequentially. Tasks never overlap each other
// within a cycle, and a cycle never overlaps an in-flight one.
func (m *Monitor) wake(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		log.Printf("[monitor] Previous cycle still running, skipping wake")
		return
	}
	m.running = true
	now := m.now()
	syncDue := now.Sub(m.lastSync) >= m.SyncInterval
	refreshDue := now.Sub(m.lastRefresh) >= maintenanceInterval
	pruneDue := now.Sub(m.lastPrune) >= maintenanceInterval
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if refreshDue && m.creds != nil {
		m.creds.RefreshAll(ctx, m.Refreshers)
		m.mu.Lock()
		m.lastRefresh = now
		m.mu.Unlock()
	}

	if syncDue {
		res := m.engine.SyncAll(ctx, nil, nil)
		m.mu.Lock()
		m.lastResult = res
		if res.Err == nil && !res.Cancelled {
			m.lastSync = now
		}
		m.mu.Unlock()
		if res.Err != nil {
			log.Printf("[monitor] Scheduled sync failed: %v", res.Err)
		}
	}

	if pruneDue && m.store != nil {
		if m.store.PruneHistory(m.HistoryMax) {
			log.Printf("[monitor] Pruned watch history to %d events", m.HistoryMax)
		}
		m.mu.Lock()
		m.lastPrune = now
		m.mu.Unlock()
	}
}
