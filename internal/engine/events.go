package engine

import (
	"log/slog"
	"sync"
)

// EventKind identifies one of the fixed notification kinds the engine
// publishes. Subscribers switch on the kind; there is no open-ended
// topic namespace.
type EventKind string

const (
	// EventSyncSucceeded fires after a settings sync lands, carrying the
	// keys that were written. Target says whether they reached the store
	// or only the local cache.
	EventSyncSucceeded EventKind = "sync-succeeded"
	// EventSyncFailed fires when a settings sync attempt fails. The keys
	// remain queued and will be retried on the next flush.
	EventSyncFailed EventKind = "sync-failed"
	// EventHydrationComplete fires exactly once per hydration run,
	// success or not. UI startup gates on this.
	EventHydrationComplete EventKind = "hydration-complete"
	// EventScheduleSaved fires after a verified save persists, with
	// Target distinguishing cloud from local-only.
	EventScheduleSaved EventKind = "schedule-saved"
	// EventScheduleSaveFailed fires when a verified save exhausts its
	// retries. The payload is still in the cache and outbox.
	EventScheduleSaveFailed EventKind = "schedule-save-failed"
	// EventScheduleLoadFailed fires when a forced load cannot reach the
	// store and falls back to the cached copy.
	EventScheduleLoadFailed EventKind = "schedule-load-failed"
	// EventRemoteMerged fires after a remote change notification has
	// been merged into the cache.
	EventRemoteMerged EventKind = "remote-merged"
)

// SaveTarget says where a write ended up.
type SaveTarget string

const (
	// TargetCloud means the write reached the remote store.
	TargetCloud SaveTarget = "cloud"
	// TargetLocal means the write stopped at the local cache (offline or
	// unauthorized), to be pushed later where that makes sense.
	TargetLocal SaveTarget = "local"
)

// Event is one engine notification. Only the fields relevant to the
// kind are populated.
type Event struct {
	Kind    EventKind
	Keys    []string // settings keys (sync events)
	DateKey string   // schedule date (schedule and merge events)
	Target  SaveTarget
	Err     error
}

// Bus fans engine events out to subscribers. Publishing never blocks:
// a subscriber that falls behind has events dropped and logged rather
// than stalling the sync path.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns the receive channel plus an unsubscribe function. Unsubscribe
// closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("event dropped: subscriber not keeping up",
				slog.Int("subscriber", id),
				slog.String("kind", string(ev.Kind)),
			)
		}
	}
}
