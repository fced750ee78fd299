package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/campwire/campsync/internal/cache"
	"github.com/campwire/campsync/internal/remote"
)

// ErrOffline marks operations short-circuited by lost connectivity.
// The work is queued locally, never failed outright.
var ErrOffline = errors.New("engine: offline")

// syncNow flushes the pending change set through one read-merge-write
// cycle. At most one cycle runs at a time; a flush requested mid-flight
// sets a rerun flag and the finishing cycle reschedules itself. Errors
// never escape — the pending set is re-queued and subscribers are told
// through the bus.
func (e *Engine) syncNow(ctx context.Context) {
	e.mu.Lock()

	if e.syncing {
		e.rerun = true
		e.mu.Unlock()

		return
	}

	if len(e.pending) == 0 {
		e.mu.Unlock()

		return
	}

	batch := e.pending
	e.pending = make(map[string]json.RawMessage)
	e.syncing = true
	e.mu.Unlock()

	err := e.pushBatch(ctx, batch)

	e.mu.Lock()
	e.syncing = false
	rerun := e.rerun
	e.rerun = false

	if err != nil {
		// Re-queue without clobbering values edited during the flight:
		// the newer pending value wins.
		for k, v := range batch {
			if _, ok := e.pending[k]; !ok {
				e.pending[k] = v
			}
		}

		// Deferral is not failure: offline changes sit queued, not errored.
		if !errors.Is(err, ErrOffline) {
			e.lastErr = err
		}
	} else {
		e.lastSync = e.now()
		e.lastErr = nil
	}

	rerun = rerun || (err == nil && len(e.pending) > 0)
	e.mu.Unlock()

	if rerun {
		e.signalChange()
	}
}

// pushBatch is one gate-read-merge-write cycle for a taken batch.
func (e *Engine) pushBatch(ctx context.Context, batch map[string]json.RawMessage) error {
	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}

	cycle := uuid.NewString()
	logger := e.logger.With(slog.String("cycle", cycle))

	// Gate: no network attempt at all when it cannot succeed. The cache
	// already holds the values, so an unauthorized editor simply stays
	// local-only.
	id := e.resolve(ctx)
	if !id.CanWriteSettings() {
		logger.Debug("settings sync skipped: role cannot write settings",
			slog.String("role", string(id.Role)),
		)
		e.bus.Publish(Event{Kind: EventSyncSucceeded, Keys: keys, Target: TargetLocal})

		return nil
	}

	if !e.Online() {
		logger.Debug("settings sync deferred: offline", slog.Int("keys", len(keys)))

		return fmt.Errorf("deferring %d keys: %w", len(keys), ErrOffline)
	}

	logger.Debug("settings sync starting", slog.Int("keys", len(keys)))

	current, err := e.state.GetCampState(ctx, e.campID)

	switch {
	case errors.Is(err, remote.ErrNotFound):
		// Fresh camp: empty baseline.
		current = &remote.CampState{
			CampID: e.campID,
			State:  make(map[string]json.RawMessage),
		}

	case errors.Is(err, remote.ErrPermissionDenied):
		// The token lied about the role, or access was revoked
		// mid-session. Same outcome as the gate: stay local.
		logger.Warn("settings sync denied by store, keeping changes local")
		e.bus.Publish(Event{Kind: EventSyncSucceeded, Keys: keys, Target: TargetLocal})

		return nil

	case err != nil:
		e.bus.Publish(Event{Kind: EventSyncFailed, Keys: keys, Err: err})

		return err
	}

	// Merge: local edits overlay the freshly read document, last writer
	// wins per key. Keys nobody touched pass through untouched.
	if current.State == nil {
		current.State = make(map[string]json.RawMessage, len(batch))
	}

	for k, v := range batch {
		current.State[k] = v
	}

	current.UpdatedAt = e.now().UTC()

	if err := e.state.UpsertCampState(ctx, current); err != nil {
		e.bus.Publish(Event{Kind: EventSyncFailed, Keys: keys, Err: err})

		return err
	}

	logger.Info("settings sync complete", slog.Int("keys", len(keys)))
	e.bus.Publish(Event{Kind: EventSyncSucceeded, Keys: keys, Target: TargetCloud})

	return nil
}

// ForceSync folds the entire cached settings document into the pending
// set and flushes immediately, bypassing the debounce window. Used by
// the one-shot CLI path and after hydration decides local is newer.
func (e *Engine) ForceSync(ctx context.Context) error {
	doc, err := e.cache.GetDocument(ctx)
	if err != nil {
		return fmt.Errorf("engine: reading document for force sync: %w", err)
	}

	e.mu.Lock()
	for k, v := range doc.Keys {
		// Explicitly queued edits are newer than the stored document.
		if _, ok := e.pending[k]; !ok {
			e.pending[k] = v
		}
	}
	e.mu.Unlock()

	e.syncNow(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastErr != nil {
		return e.lastErr
	}

	// Offline deferral leaves the batch queued without recording an
	// error; the one-shot caller still needs to hear about it.
	if len(e.pending) > 0 && !e.online {
		return ErrOffline
	}

	return nil
}

// ReplaceState overwrites the whole local document and queues every key
// for sync. This is the import path: the caller hands over a complete
// document, typically from a backup file.
func (e *Engine) ReplaceState(ctx context.Context, keys map[string]json.RawMessage) error {
	doc := &cache.Document{Keys: keys, UpdatedAt: e.now().UTC()}
	if err := e.cache.Replace(ctx, doc); err != nil {
		return fmt.Errorf("engine: replacing local document: %w", err)
	}

	e.mu.Lock()
	e.pending = make(map[string]json.RawMessage, len(keys))
	for k, v := range keys {
		e.pending[k] = v
	}
	e.mu.Unlock()

	e.signalChange()

	return nil
}
