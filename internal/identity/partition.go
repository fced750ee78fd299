package identity

import (
	"context"
	"fmt"
)

// RegistryReader is the slice of the local cache the partition needs.
// Satisfied by *cache.Store.
type RegistryReader interface {
	BunksForDivisions(ctx context.Context, divisions []string) ([]string, error)
	AllBunkIDs(ctx context.Context) ([]string, error)
}

// Partition returns the set of bunk IDs this identity may edit, derived
// from role and division assignment. Recomputed on every call and never
// cached by callers beyond a single operation — division assignments can
// change between remote notifications.
func Partition(ctx context.Context, reg RegistryReader, id *Identity) (map[string]bool, error) {
	switch id.Role {
	case RoleAdmin:
		ids, err := reg.AllBunkIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("identity: computing admin partition: %w", err)
		}

		return toSet(ids), nil

	case RoleScheduler:
		ids, err := reg.BunksForDivisions(ctx, id.Divisions)
		if err != nil {
			return nil, fmt.Errorf("identity: computing scheduler partition: %w", err)
		}

		return toSet(ids), nil

	default:
		// Viewers own nothing.
		return map[string]bool{}, nil
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	return set
}
