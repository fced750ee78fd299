// Package engine is the state synchronization core: it batches local
// settings edits behind a debounce window, pushes them through a
// read-merge-write cycle, runs verified schedule saves with offline
// queueing, hydrates the cache at startup, and folds remote change
// notifications back in without disturbing unsaved local work.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/campwire/campsync/internal/cache"
	"github.com/campwire/campsync/internal/identity"
	"github.com/campwire/campsync/internal/remote"
)

// StateStore is the slice of the remote client the settings sync path
// uses. Satisfied by *remote.Client.
type StateStore interface {
	GetCampState(ctx context.Context, campID string) (*remote.CampState, error)
	UpsertCampState(ctx context.Context, state *remote.CampState) error
}

// ScheduleStore is the slice of the remote client the schedule paths
// use. Satisfied by *remote.Client.
type ScheduleStore interface {
	GetMergedSchedule(ctx context.Context, campID, dateKey string) (*remote.SchedulePayload, time.Time, error)
	UpsertSchedule(ctx context.Context, row *remote.ScheduleRow) error
	DeleteSchedule(ctx context.Context, campID, dateKey, scheduler string) error
	DeleteScheduleDay(ctx context.Context, campID, dateKey string) error
}

// Resolver answers who the local editor is. Satisfied by
// (*identity.Chain).Resolve.
type Resolver func(ctx context.Context) *identity.Identity

// Options tunes the engine's timing knobs. Zero values take the
// defaults below.
type Options struct {
	Debounce       time.Duration // settings flush window
	DedupWindow    time.Duration // identical-save suppression window
	SaveRetries    int           // retry attempts after the first save try
	SaveRetryDelay time.Duration // fixed delay between save retries

	// RefreshFunc is invoked after a remote change lands in the cache so
	// the UI layer can re-render the affected date. Optional.
	RefreshFunc func(dateKey string)
}

const (
	defaultDebounce       = 500 * time.Millisecond
	defaultDedupWindow    = 3 * time.Second
	defaultSaveRetries    = 3
	defaultSaveRetryDelay = 2 * time.Second
)

// SyncState is the coarse settings-sync state derived from the engine's
// internals.
type SyncState string

const (
	StateIdle    SyncState = "idle"
	StateQueued  SyncState = "queued"
	StateSyncing SyncState = "syncing"
	StateError   SyncState = "error"
)

// Status is a point-in-time snapshot for status reporting.
type Status struct {
	State       SyncState
	PendingKeys int
	OutboxDepth int
	Online      bool
	LastSync    time.Time
	LastError   string
}

// saveMark is the dedup fingerprint of the most recent verified save
// for one date.
type saveMark struct {
	entityCount int
	at          time.Time
}

// Engine owns the whole sync lifecycle for one camp. All exported
// methods are safe for concurrent use.
type Engine struct {
	campID    string
	cache     *cache.Store
	state     StateStore
	schedules ScheduleStore
	resolve   Resolver
	bus       *Bus
	logger    *slog.Logger
	opts      Options

	// injectable for tests
	now func() time.Time

	interceptors []SaveInterceptor

	mu        sync.Mutex
	pending   map[string]json.RawMessage
	notify    chan struct{} // debounce signal, buffered(1)
	syncing   bool
	rerun     bool // flush requested while a sync was in flight
	online    bool
	suspended int // bulk-operation depth; merges skip while > 0
	saving    map[string]bool     // dates with a verified save in flight
	lastSaves map[string]saveMark // dedup fingerprints per date
	lastSync  time.Time
	lastErr   error
}

// New wires an engine. The identity resolver is consulted per operation
// so role or division changes take effect without a restart.
func New(campID string, store *cache.Store, state StateStore, schedules ScheduleStore,
	resolve Resolver, bus *Bus, logger *slog.Logger, opts Options,
) *Engine {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}

	if opts.SaveRetries < 0 {
		opts.SaveRetries = defaultSaveRetries
	}

	if opts.SaveRetryDelay <= 0 {
		opts.SaveRetryDelay = defaultSaveRetryDelay
	}

	return &Engine{
		campID:    campID,
		cache:     store,
		state:     state,
		schedules: schedules,
		resolve:   resolve,
		bus:       bus,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		pending:   make(map[string]json.RawMessage),
		notify:    make(chan struct{}, 1),
		saving:    make(map[string]bool),
		lastSaves: make(map[string]saveMark),
		online:    true,
	}
}

// Bus returns the engine's event bus for subscribers.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// SetOnline flips connectivity. Coming back online replays the outbox
// and nudges the settings flush so queued work drains promptly.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	hasPending := len(e.pending) > 0
	e.mu.Unlock()

	if online == wasOnline {
		return
	}

	e.logger.Info("connectivity changed", slog.Bool("online", online))

	if !online {
		return
	}

	if err := e.ReplayOutbox(ctx); err != nil {
		e.logger.Warn("outbox replay after reconnect failed",
			slog.String("error", err.Error()),
		)
	}

	if hasPending {
		e.signalChange()
	}
}

// Online reports current connectivity.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.online
}

// Status snapshots the engine for status reporting. Outbox depth comes
// from the cache; a read failure there degrades to zero.
func (e *Engine) Status(ctx context.Context) Status {
	depth, err := e.cache.OutboxDepth(ctx)
	if err != nil {
		e.logger.Warn("reading outbox depth", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		PendingKeys: len(e.pending),
		OutboxDepth: depth,
		Online:      e.online,
		LastSync:    e.lastSync,
	}

	switch {
	case e.syncing:
		st.State = StateSyncing
	case e.lastErr != nil:
		st.State = StateError
		st.LastError = e.lastErr.Error()
	case len(e.pending) > 0:
		st.State = StateQueued
	default:
		st.State = StateIdle
	}

	return st
}

// Suspend marks the start of a bulk operation. Remote change merges are
// skipped until the matching Resume, so a multi-write burst is not
// interleaved with half-applied merges.
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.suspended++
}

// Resume ends a bulk operation started with Suspend.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.suspended > 0 {
		e.suspended--
	}
}
