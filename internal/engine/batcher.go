package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// QueueChange persists one settings key locally and queues it for the
// next debounced sync. The cache write is unconditional — local state
// is the source of truth for the editor regardless of connectivity or
// role. Later values for the same key replace earlier ones in the
// pending set.
func (e *Engine) QueueChange(ctx context.Context, key string, value json.RawMessage) error {
	if err := e.cache.SetKey(ctx, key, value); err != nil {
		return fmt.Errorf("engine: caching change for %s: %w", key, err)
	}

	e.mu.Lock()
	e.pending[key] = value
	e.mu.Unlock()

	e.logger.Debug("change queued", slog.String("key", key))
	e.signalChange()

	return nil
}

// Run drives the debounced settings flush until the context ends. Each
// queued change resets the timer; the flush fires only after the window
// passes with no new edits. A final flush drains whatever is still
// pending at shutdown.
func (e *Engine) Run(ctx context.Context) {
	timer := time.NewTimer(e.opts.Debounce)
	timer.Stop() // idle until the first change
	defer timer.Stop()

	timerActive := false

	for {
		select {
		case <-ctx.Done():
			// Shutdown drain. Use a fresh context so the flush is not
			// canceled mid-write; bounded by the store client's own
			// timeouts.
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.syncNow(drainCtx)
			cancel()

			return

		case <-e.notify:
			if !timer.Stop() && timerActive {
				<-timer.C
			}

			timer.Reset(e.opts.Debounce)
			timerActive = true

		case <-timer.C:
			timerActive = false
			e.syncNow(ctx)
		}
	}
}

// signalChange nudges the debounce loop without blocking. The channel
// is buffered, so a change queued before Run starts still schedules the
// first flush.
func (e *Engine) signalChange() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}
