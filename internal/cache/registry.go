package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/text/unicode/norm"
)

// Registry keys within the settings document. Writes touching these
// trigger a mirror refresh.
const (
	keyDivisions = "divisions"
	keyBunks     = "bunks"
)

// Bunk is one flattened registry row: the smallest schedulable unit and
// the division that owns it.
type Bunk struct {
	ID           string
	Name         string
	DivisionID   string
	DivisionName string
}

// divisionEntry is the settings-document shape of one division.
type divisionEntry struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Bunks []string `json:"bunks,omitempty"`
}

// bunkEntry is the settings-document shape of one bunk.
type bunkEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Division string `json:"division"`
}

func isRegistryKey(key string) bool {
	return key == keyDivisions || key == keyBunks
}

// RefreshRegistry rebuilds the flattened division/bunk mirror from the
// current settings document. Malformed entries are skipped with a warning
// — the mirror is best-effort derived state, never a write blocker.
func (s *Store) RefreshRegistry(ctx context.Context) error {
	divisions, err := s.parseDivisions(ctx)
	if err != nil {
		return err
	}

	bunks, err := s.parseBunks(ctx, divisions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin registry refresh: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM registry`); err != nil {
		return fmt.Errorf("cache: clearing registry: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO registry (bunk_id, bunk_name, division_id, division_name)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(bunk_id) DO UPDATE SET
			bunk_name = excluded.bunk_name,
			division_id = excluded.division_id,
			division_name = excluded.division_name`)
	if err != nil {
		return fmt.Errorf("cache: prepare registry insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bunks {
		if _, err := stmt.ExecContext(ctx, b.ID, b.Name, b.DivisionID, b.DivisionName); err != nil {
			return fmt.Errorf("cache: writing registry row %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit registry refresh: %w", err)
	}

	s.logger.Debug("registry refreshed", slog.Int("bunks", len(bunks)))

	return nil
}

// parseDivisions reads the divisions key into an id -> entry map.
func (s *Store) parseDivisions(ctx context.Context) (map[string]divisionEntry, error) {
	raw, err := s.GetKey(ctx, keyDivisions)
	if err != nil {
		return nil, err
	}

	divisions := make(map[string]divisionEntry)
	if raw == nil {
		return divisions, nil
	}

	var entries []divisionEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.Warn("divisions key is not a division list, registry left empty",
			slog.String("error", err.Error()),
		)

		return divisions, nil
	}

	for _, d := range entries {
		if d.ID == "" {
			continue
		}

		d.Name = norm.NFC.String(d.Name)
		divisions[d.ID] = d
	}

	return divisions, nil
}

// parseBunks reads the bunks key, resolving division names through the
// divisions map. Bunks listed only in a division's bunk list (no bunks-key
// entry) are synthesized so ownership lookups still find them.
func (s *Store) parseBunks(ctx context.Context, divisions map[string]divisionEntry) ([]Bunk, error) {
	raw, err := s.GetKey(ctx, keyBunks)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)

	var out []Bunk

	if raw != nil {
		var entries []bunkEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			s.logger.Warn("bunks key is not a bunk list, falling back to division lists",
				slog.String("error", err.Error()),
			)
		} else {
			for _, b := range entries {
				if b.ID == "" || seen[b.ID] {
					continue
				}

				div := divisions[b.Division]
				out = append(out, Bunk{
					ID:           b.ID,
					Name:         norm.NFC.String(b.Name),
					DivisionID:   b.Division,
					DivisionName: div.Name,
				})
				seen[b.ID] = true
			}
		}
	}

	for _, d := range divisions {
		for _, bunkID := range d.Bunks {
			if bunkID == "" || seen[bunkID] {
				continue
			}

			out = append(out, Bunk{
				ID:           bunkID,
				Name:         bunkID,
				DivisionID:   d.ID,
				DivisionName: d.Name,
			})
			seen[bunkID] = true
		}
	}

	return out, nil
}

// BunksForDivisions returns the bunk IDs owned by any of the given
// divisions (matched by division ID or name). Recomputed from the mirror
// on every call — ownership must never be cached across operations.
func (s *Store) BunksForDivisions(ctx context.Context, divisions []string) ([]string, error) {
	if len(divisions) == 0 {
		return nil, nil
	}

	match := make(map[string]bool, len(divisions))
	for _, d := range divisions {
		match[norm.NFC.String(d)] = true
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT bunk_id, division_id, division_name FROM registry`)
	if err != nil {
		return nil, fmt.Errorf("cache: reading registry: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var bunkID, divID, divName string
		if err := rows.Scan(&bunkID, &divID, &divName); err != nil {
			return nil, fmt.Errorf("cache: scanning registry row: %w", err)
		}

		if match[divID] || match[divName] {
			out = append(out, bunkID)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating registry: %w", err)
	}

	return out, nil
}

// AllBunkIDs returns every bunk ID in the registry, used by admin-role
// partitions which own everything.
func (s *Store) AllBunkIDs(ctx context.Context) ([]string, error) {
	bunks, err := s.AllBunks(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(bunks))
	for i, b := range bunks {
		ids[i] = b.ID
	}

	return ids, nil
}

// AllBunks returns every registry row.
func (s *Store) AllBunks(ctx context.Context) ([]Bunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bunk_id, bunk_name, division_id, division_name FROM registry ORDER BY bunk_id`)
	if err != nil {
		return nil, fmt.Errorf("cache: reading registry: %w", err)
	}
	defer rows.Close()

	var out []Bunk

	for rows.Next() {
		var b Bunk
		if err := rows.Scan(&b.ID, &b.Name, &b.DivisionID, &b.DivisionName); err != nil {
			return nil, fmt.Errorf("cache: scanning registry row: %w", err)
		}

		out = append(out, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating registry: %w", err)
	}

	return out, nil
}
