package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campwire/campsync/internal/cache"
	"github.com/campwire/campsync/internal/remote"
)

// Hydrate reconciles the local cache with the store once, at startup or
// after login. Whichever side carries the newer document timestamp wins
// wholesale; keys only the loser has are kept (a gap, not a conflict).
// Completion is always announced on the bus, even when hydration fails
// or falls back to local — the UI must never wait forever.
func (e *Engine) Hydrate(ctx context.Context) (err error) {
	defer func() {
		e.bus.Publish(Event{Kind: EventHydrationComplete, Err: err})
	}()

	local, err := e.cache.GetDocument(ctx)
	if err != nil {
		return fmt.Errorf("engine: reading local document: %w", err)
	}

	current, rerr := e.state.GetCampState(ctx, e.campID)

	switch {
	case errors.Is(rerr, remote.ErrNotFound):
		// Fresh camp. Local is the baseline; the first settings sync
		// will create the remote row.
		e.logger.Info("hydration: no remote document yet, starting from local",
			slog.Int("keys", len(local.Keys)),
		)

		return nil

	case errors.Is(rerr, remote.ErrPermissionDenied):
		// Read access revoked or not yet granted. Local-only session,
		// not a failure.
		e.logger.Warn("hydration: store denied read, continuing from local")

		return nil

	case rerr != nil:
		e.logger.Warn("hydration failed, continuing from local",
			slog.String("error", rerr.Error()),
		)

		return fmt.Errorf("engine: hydrating: %w", rerr)
	}

	merged, remoteWon := mergeDocuments(local, current)

	if err := e.cache.Replace(ctx, merged); err != nil {
		return fmt.Errorf("engine: persisting hydrated document: %w", err)
	}

	e.logger.Info("hydration complete",
		slog.Bool("remote_newer", remoteWon),
		slog.Int("keys", len(merged.Keys)),
	)

	// Local edits the remote side never saw get pushed back up.
	if !remoteWon && len(local.Keys) > 0 {
		e.mu.Lock()
		for k, v := range local.Keys {
			if _, ok := e.pending[k]; !ok {
				e.pending[k] = v
			}
		}
		e.mu.Unlock()

		e.signalChange()
	}

	return nil
}

// mergeDocuments applies the newer-wins-wholesale rule: the winner's
// keys are taken as-is, then keys present only on the losing side are
// filled in. Reports whether the remote side won.
func mergeDocuments(local *cache.Document, current *remote.CampState) (*cache.Document, bool) {
	remoteNewer := current.UpdatedAt.After(local.UpdatedAt)

	var winner, loser map[string]json.RawMessage
	if remoteNewer {
		winner, loser = current.State, local.Keys
	} else {
		winner, loser = local.Keys, current.State
	}

	merged := &cache.Document{
		Keys:      make(map[string]json.RawMessage, len(winner)+len(loser)),
		UpdatedAt: local.UpdatedAt,
	}

	if remoteNewer {
		merged.UpdatedAt = current.UpdatedAt
	}

	for k, v := range winner {
		merged.Keys[k] = v
	}

	for k, v := range loser {
		if _, ok := merged.Keys[k]; !ok {
			merged.Keys[k] = v
		}
	}

	return merged, remoteNewer
}
