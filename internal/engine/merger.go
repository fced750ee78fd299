package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campwire/campsync/internal/identity"
	"github.com/campwire/campsync/internal/remote"
)

// OnRemoteChange folds another editor's schedule write into the local
// cache. The store's canonical merged view for the date is fetched and
// overlaid with the local editor's own unsaved work: entries for bunks
// inside the ownership partition keep their local value, everything
// else takes the remote value. Merges are skipped entirely while a bulk
// operation holds the engine suspended.
func (e *Engine) OnRemoteChange(ctx context.Context, dateKey string) error {
	e.mu.Lock()
	suspended := e.suspended > 0
	e.mu.Unlock()

	if suspended {
		e.logger.Debug("remote change skipped: bulk operation active",
			slog.String("date", dateKey),
		)

		return nil
	}

	canonical, _, err := e.schedules.GetMergedSchedule(ctx, e.campID, dateKey)
	erased := false

	switch {
	case errors.Is(err, remote.ErrNotFound):
		// The view is empty: someone erased their rows, or the local
		// editor never pushed. Either way only the local editor's own
		// unsaved owned work survives the overlay below.
		erased = true
		canonical = &remote.SchedulePayload{}

	case err != nil:
		return fmt.Errorf("engine: fetching merged view for %s: %w", dateKey, err)
	}

	local, err := e.cache.GetSchedule(ctx, dateKey)
	if err != nil {
		return fmt.Errorf("engine: reading local schedule %s: %w", dateKey, err)
	}

	merged := canonical.Clone()

	if local != nil {
		// The partition is recomputed here on purpose: division
		// assignments may have changed since the last merge.
		id := e.resolve(ctx)

		partition, err := identity.Partition(ctx, e.cache, id)
		if err != nil {
			return fmt.Errorf("engine: merging remote change for %s: %w", dateKey, err)
		}

		overlayOwned(merged, local, partition)
	}

	if erased && merged.EntityCount() == 0 {
		// Nothing owned to preserve. Mirror the erase locally.
		if err := e.cache.DeleteSchedule(ctx, dateKey); err != nil {
			return fmt.Errorf("engine: clearing erased day %s: %w", dateKey, err)
		}

		e.notifyMerged(dateKey)

		return nil
	}

	if err := e.cache.SaveSchedule(ctx, dateKey, merged); err != nil {
		return fmt.Errorf("engine: persisting merged schedule %s: %w", dateKey, err)
	}

	e.logger.Info("remote change merged",
		slog.String("date", dateKey),
		slog.Int("entities", merged.EntityCount()),
	)
	e.notifyMerged(dateKey)

	return nil
}

// overlayOwned keeps the local value for every owned bunk that has one.
// Unowned bunks and layout data come from the canonical view.
func overlayOwned(merged, local *remote.SchedulePayload, owned map[string]bool) {
	if merged.Assignments == nil {
		merged.Assignments = make(map[string]json.RawMessage)
	}

	for bunkID, entry := range local.Assignments {
		if owned[bunkID] {
			merged.Assignments[bunkID] = entry
		}
	}
}

func (e *Engine) notifyMerged(dateKey string) {
	if e.opts.RefreshFunc != nil {
		e.opts.RefreshFunc(dateKey)
	}

	e.bus.Publish(Event{Kind: EventRemoteMerged, DateKey: dateKey})
}
