package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campwire/campsync/internal/remote"
)

// ErrUnauthorized marks operations rejected by the local role gate
// before any network attempt.
var ErrUnauthorized = errors.New("engine: role not permitted")

// ForceLoad fetches the canonical merged schedule for a date, bypassing
// the cache, and persists it locally. Offline or on failure it falls
// back to the cached copy and announces the degradation on the bus. A
// nil payload with nil error means nothing exists for the date anywhere.
func (e *Engine) ForceLoad(ctx context.Context, dateKey string) (*remote.SchedulePayload, error) {
	if !e.Online() {
		e.logger.Debug("force load offline, serving cache", slog.String("date", dateKey))

		return e.cache.GetSchedule(ctx, dateKey)
	}

	canonical, _, err := e.schedules.GetMergedSchedule(ctx, e.campID, dateKey)

	switch {
	case errors.Is(err, remote.ErrNotFound):
		// Nothing saved remotely. Whatever is cached is all there is.
		return e.cache.GetSchedule(ctx, dateKey)

	case err != nil:
		e.bus.Publish(Event{Kind: EventScheduleLoadFailed, DateKey: dateKey, Err: err})
		e.logger.Warn("force load failed, serving cache",
			slog.String("date", dateKey),
			slog.String("error", err.Error()),
		)

		return e.cache.GetSchedule(ctx, dateKey)
	}

	if err := e.cache.SaveSchedule(ctx, dateKey, canonical); err != nil {
		return nil, fmt.Errorf("engine: caching loaded schedule %s: %w", dateKey, err)
	}

	return canonical, nil
}

// LoadSchedule serves a date from the cache only.
func (e *Engine) LoadSchedule(ctx context.Context, dateKey string) (*remote.SchedulePayload, error) {
	return e.cache.GetSchedule(ctx, dateKey)
}

// SaveSetting is the single-key convenience over QueueChange.
func (e *Engine) SaveSetting(ctx context.Context, key string, value []byte) error {
	return e.QueueChange(ctx, key, value)
}

// LoadSetting reads one settings key from the cache. Nil when absent.
func (e *Engine) LoadSetting(ctx context.Context, key string) ([]byte, error) {
	return e.cache.GetKey(ctx, key)
}

// LoadSettings reads the whole settings document from the cache.
func (e *Engine) LoadSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	doc, err := e.cache.GetDocument(ctx)
	if err != nil {
		return nil, err
	}

	return doc.Keys, nil
}

// EraseMine removes the local editor's own slice for a date: cache row,
// outbox entry, and — when online — the scheduler's remote row. Other
// schedulers' slices for the date are untouched.
func (e *Engine) EraseMine(ctx context.Context, dateKey string) error {
	id := e.resolve(ctx)
	if !id.CanWriteSchedules() {
		return fmt.Errorf("engine: erasing %s as %s: %w", dateKey, id.Role, ErrUnauthorized)
	}

	if err := e.cache.DeleteSchedule(ctx, dateKey); err != nil {
		return fmt.Errorf("engine: erasing cached schedule %s: %w", dateKey, err)
	}

	e.clearSaveMark(dateKey)

	if !e.Online() {
		// The remote row survives until the next online erase or
		// overwrite. Deferred deletes are not queued: replaying a
		// delete after later edits would destroy newer work.
		e.logger.Info("erased locally while offline", slog.String("date", dateKey))

		return nil
	}

	if err := e.schedules.DeleteSchedule(ctx, e.campID, dateKey, id.Scheduler); err != nil {
		return fmt.Errorf("engine: erasing remote schedule %s: %w", dateKey, err)
	}

	e.logger.Info("schedule erased", slog.String("date", dateKey))

	return nil
}

// EraseDay removes every scheduler's data for a date. Admin only; the
// store enforces the same rule server-side.
func (e *Engine) EraseDay(ctx context.Context, dateKey string) error {
	id := e.resolve(ctx)
	if !id.CanEraseDay() {
		return fmt.Errorf("engine: erasing day %s as %s: %w", dateKey, id.Role, ErrUnauthorized)
	}

	if err := e.cache.DeleteSchedule(ctx, dateKey); err != nil {
		return fmt.Errorf("engine: erasing cached day %s: %w", dateKey, err)
	}

	e.clearSaveMark(dateKey)

	if !e.Online() {
		return fmt.Errorf("engine: erasing day %s: %w", dateKey, ErrOffline)
	}

	if err := e.schedules.DeleteScheduleDay(ctx, e.campID, dateKey); err != nil {
		return fmt.Errorf("engine: erasing remote day %s: %w", dateKey, err)
	}

	e.logger.Info("day erased for all schedulers", slog.String("date", dateKey))

	return nil
}

// clearSaveMark forgets the dedup fingerprint for a date so the next
// save after an erase always goes through.
func (e *Engine) clearSaveMark(dateKey string) {
	e.mu.Lock()
	delete(e.lastSaves, dateKey)
	e.mu.Unlock()
}
