package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/campwire/campsync/internal/remote"
)

// SaveResult reports the outcome of a verified save. Success with
// Target=TargetLocal means the payload is safe locally and queued for
// later push; Deduped means an identical save was suppressed.
type SaveResult struct {
	Success bool
	Target  SaveTarget
	Deduped bool
	Err     error
}

// SaveFunc is the verified-save signature interceptors wrap.
type SaveFunc func(ctx context.Context, dateKey string, payload *remote.SchedulePayload) SaveResult

// SaveInterceptor wraps the save pipeline with pre/post behavior
// (validation, instrumentation, draft snapshots). Interceptors run in
// registration order, outermost first.
type SaveInterceptor func(next SaveFunc) SaveFunc

// UseSaveInterceptor registers an interceptor. Must be called during
// startup wiring, before saves begin.
func (e *Engine) UseSaveInterceptor(i SaveInterceptor) {
	e.interceptors = append(e.interceptors, i)
}

// VerifiedSave persists one date's schedule payload: always to the
// cache, and to the store when connectivity and role allow, with
// bounded retries. Identical back-to-back saves within the dedup window
// collapse into a no-op, as does a save racing an in-flight save for
// the same date.
func (e *Engine) VerifiedSave(ctx context.Context, dateKey string, payload *remote.SchedulePayload) SaveResult {
	fn := e.verifiedSave
	for i := len(e.interceptors) - 1; i >= 0; i-- {
		fn = e.interceptors[i](fn)
	}

	return fn(ctx, dateKey, payload)
}

func (e *Engine) verifiedSave(ctx context.Context, dateKey string, payload *remote.SchedulePayload) SaveResult {
	count := payload.EntityCount()

	e.mu.Lock()

	if e.saving[dateKey] {
		e.mu.Unlock()
		e.logger.Debug("save suppressed: already in flight", slog.String("date", dateKey))

		return SaveResult{Success: true, Target: TargetLocal, Deduped: true}
	}

	if mark, ok := e.lastSaves[dateKey]; ok {
		if mark.entityCount == count && e.now().Sub(mark.at) < e.opts.DedupWindow {
			e.mu.Unlock()
			e.logger.Debug("save suppressed: identical within window",
				slog.String("date", dateKey),
				slog.Int("entities", count),
			)

			return SaveResult{Success: true, Target: TargetCloud, Deduped: true}
		}
	}

	e.saving[dateKey] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.saving, dateKey)
		e.mu.Unlock()
	}()

	// Local first: whatever happens next, the editor's work is durable.
	if err := e.cache.SaveSchedule(ctx, dateKey, payload); err != nil {
		err = fmt.Errorf("engine: caching schedule %s: %w", dateKey, err)
		e.bus.Publish(Event{Kind: EventScheduleSaveFailed, DateKey: dateKey, Err: err})

		return SaveResult{Success: false, Err: err}
	}

	if !e.Online() {
		return e.deferToOutbox(ctx, dateKey, payload, count)
	}

	id := e.resolve(ctx)
	if !id.CanWriteSchedules() {
		e.logger.Debug("save kept local: role cannot write schedules",
			slog.String("date", dateKey),
			slog.String("role", string(id.Role)),
		)
		e.markSaved(dateKey, count)
		e.bus.Publish(Event{Kind: EventScheduleSaved, DateKey: dateKey, Target: TargetLocal})

		return SaveResult{Success: true, Target: TargetLocal}
	}

	err := e.pushSchedule(ctx, dateKey, payload, id.Scheduler, id.Divisions)

	switch {
	case err == nil:
		e.markSaved(dateKey, count)

		// A cloud save supersedes any queued offline payload for the date.
		if err := e.cache.OutboxRemove(ctx, dateKey); err != nil {
			e.logger.Warn("clearing outbox entry after save",
				slog.String("date", dateKey),
				slog.String("error", err.Error()),
			)
		}

		e.logger.Info("schedule saved", slog.String("date", dateKey), slog.Int("entities", count))
		e.bus.Publish(Event{Kind: EventScheduleSaved, DateKey: dateKey, Target: TargetCloud})

		return SaveResult{Success: true, Target: TargetCloud}

	case errors.Is(err, remote.ErrPermissionDenied):
		// Not retryable and not queueable — replay would hit the same
		// wall. The payload stays cached; the editor keeps working.
		e.logger.Warn("save denied by store, kept local", slog.String("date", dateKey))
		e.markSaved(dateKey, count)
		e.bus.Publish(Event{Kind: EventScheduleSaved, DateKey: dateKey, Target: TargetLocal})

		return SaveResult{Success: true, Target: TargetLocal}

	default:
		// Retries exhausted. Queue for replay; the cache already holds
		// the payload so nothing is lost.
		if qerr := e.cache.OutboxPut(ctx, dateKey, payload); qerr != nil {
			e.logger.Error("queueing failed save",
				slog.String("date", dateKey),
				slog.String("error", qerr.Error()),
			)
		}

		e.bus.Publish(Event{Kind: EventScheduleSaveFailed, DateKey: dateKey, Err: err})

		return SaveResult{Success: false, Err: err}
	}
}

// deferToOutbox finishes an offline save: payload queued, result local.
func (e *Engine) deferToOutbox(ctx context.Context, dateKey string, payload *remote.SchedulePayload, count int) SaveResult {
	if err := e.cache.OutboxPut(ctx, dateKey, payload); err != nil {
		err = fmt.Errorf("engine: queueing offline save %s: %w", dateKey, err)
		e.bus.Publish(Event{Kind: EventScheduleSaveFailed, DateKey: dateKey, Err: err})

		return SaveResult{Success: false, Err: err}
	}

	e.markSaved(dateKey, count)
	e.logger.Info("schedule queued for later push", slog.String("date", dateKey))
	e.bus.Publish(Event{Kind: EventScheduleSaved, DateKey: dateKey, Target: TargetLocal})

	return SaveResult{Success: true, Target: TargetLocal}
}

// pushSchedule upserts one slice with bounded fixed-delay retries.
// Permission and bad-request failures abort immediately.
func (e *Engine) pushSchedule(ctx context.Context, dateKey string, payload *remote.SchedulePayload, scheduler string, divisions []string) error {
	row := &remote.ScheduleRow{
		CampID:       e.campID,
		DateKey:      dateKey,
		Scheduler:    scheduler,
		ScheduleData: *payload,
		Divisions:    divisions,
		UpdatedAt:    e.now().UTC(),
	}

	backoff := retry.WithMaxRetries(uint64(e.opts.SaveRetries), retry.NewConstant(e.opts.SaveRetryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.schedules.UpsertSchedule(ctx, row)
		if err == nil {
			return nil
		}

		if errors.Is(err, remote.ErrPermissionDenied) || errors.Is(err, remote.ErrBadRequest) {
			return err
		}

		e.logger.Debug("save attempt failed, will retry",
			slog.String("date", dateKey),
			slog.String("error", err.Error()),
		)

		return retry.RetryableError(err)
	})
}

func (e *Engine) markSaved(dateKey string, count int) {
	e.mu.Lock()
	e.lastSaves[dateKey] = saveMark{entityCount: count, at: e.now()}
	e.mu.Unlock()
}

// ReplayOutbox pushes queued offline saves oldest-first. It stops on
// the first failure and leaves the remainder queued; the next
// connectivity event or daemon tick tries again.
func (e *Engine) ReplayOutbox(ctx context.Context) error {
	entries, err := e.cache.OutboxList(ctx)
	if err != nil {
		return fmt.Errorf("engine: listing outbox: %w", err)
	}

	if len(entries) == 0 {
		return nil
	}

	id := e.resolve(ctx)
	if !id.CanWriteSchedules() {
		e.logger.Debug("outbox replay skipped: role cannot write schedules")

		return nil
	}

	e.logger.Info("replaying outbox", slog.Int("entries", len(entries)))

	for _, entry := range entries {
		err := e.pushSchedule(ctx, entry.DateKey, entry.Payload, id.Scheduler, id.Divisions)
		if errors.Is(err, remote.ErrPermissionDenied) {
			// Drop it: this row will never land, and keeping it would
			// wedge the queue for everything behind it.
			e.logger.Warn("dropping denied outbox entry", slog.String("date", entry.DateKey))

			if rerr := e.cache.OutboxRemove(ctx, entry.DateKey); rerr != nil {
				return fmt.Errorf("engine: dropping outbox entry %s: %w", entry.DateKey, rerr)
			}

			continue
		}

		if err != nil {
			return fmt.Errorf("engine: replaying outbox entry %s: %w", entry.DateKey, err)
		}

		if err := e.cache.OutboxRemove(ctx, entry.DateKey); err != nil {
			return fmt.Errorf("engine: removing replayed entry %s: %w", entry.DateKey, err)
		}

		e.bus.Publish(Event{Kind: EventScheduleSaved, DateKey: entry.DateKey, Target: TargetCloud})
	}

	return nil
}
