package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Document is the in-memory form of the settings document: named keys
// mapped to opaque structured values, plus the document-level timestamp.
type Document struct {
	Keys      map[string]json.RawMessage
	UpdatedAt time.Time
}

// Clone returns a copy with a fresh key map (RawMessage bytes shared,
// never mutated in place).
func (d *Document) Clone() *Document {
	out := &Document{
		Keys:      make(map[string]json.RawMessage, len(d.Keys)),
		UpdatedAt: d.UpdatedAt,
	}

	for k, v := range d.Keys {
		out.Keys[k] = v
	}

	return out
}

// GetDocument loads the full settings document. Corrupt rows are skipped
// with a warning and missing storage degrades to an empty document — this
// method never fails on bad persisted state, only on database errors.
func (s *Store) GetDocument(ctx context.Context) (*Document, error) {
	doc := &Document{Keys: make(map[string]json.RawMessage)}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("cache: loading settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("cache: scanning setting row: %w", err)
		}

		if !json.Valid([]byte(value)) {
			s.logger.Warn("skipping corrupt setting value",
				slog.String("key", key),
			)

			continue
		}

		doc.Keys[key] = json.RawMessage(value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating settings: %w", err)
	}

	doc.UpdatedAt, err = s.documentUpdatedAt(ctx)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// GetKey returns the value for one settings key, or nil when absent.
func (s *Store) GetKey(ctx context.Context, key string) (json.RawMessage, error) {
	var value string

	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("cache: reading setting %s: %w", key, err)
	}

	if !json.Valid([]byte(value)) {
		s.logger.Warn("corrupt setting value read as absent", slog.String("key", key))

		return nil, nil
	}

	return json.RawMessage(value), nil
}

// SetKey writes one settings key and stamps the document updated_at with
// the current time. The registry mirror is refreshed when the key is
// ownership-relevant (divisions, bunks).
func (s *Store) SetKey(ctx context.Context, key string, value json.RawMessage) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin setting write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), now.UnixNano()); err != nil {
		return fmt.Errorf("cache: writing setting %s: %w", key, err)
	}

	if err := stampDocument(ctx, tx, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit setting write: %w", err)
	}

	if isRegistryKey(key) {
		if err := s.RefreshRegistry(ctx); err != nil {
			// The mirror is a derived view; a refresh failure must not fail
			// the write that already committed.
			s.logger.Warn("registry refresh failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Replace overwrites the whole settings document and its timestamp.
// Used by hydration (remote wins) and bulk import/reset flows.
func (s *Store) Replace(ctx context.Context, doc *Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin document replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("cache: clearing settings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: prepare document replace: %w", err)
	}
	defer stmt.Close()

	stamp := doc.UpdatedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}

	for key, value := range doc.Keys {
		if _, err := stmt.ExecContext(ctx, key, string(value), stamp.UnixNano()); err != nil {
			return fmt.Errorf("cache: writing setting %s: %w", key, err)
		}
	}

	if err := stampDocument(ctx, tx, stamp); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit document replace: %w", err)
	}

	if err := s.RefreshRegistry(ctx); err != nil {
		s.logger.Warn("registry refresh failed", slog.String("error", err.Error()))
	}

	return nil
}

// documentUpdatedAt reads the document-level timestamp; a missing row
// (fresh database) reads as the zero time.
func (s *Store) documentUpdatedAt(ctx context.Context) (time.Time, error) {
	var nanos int64

	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM document_meta WHERE id = 1`).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}

	if err != nil {
		return time.Time{}, fmt.Errorf("cache: reading document timestamp: %w", err)
	}

	return time.Unix(0, nanos).UTC(), nil
}

// stampDocument upserts the document-level updated_at inside tx.
func stampDocument(ctx context.Context, tx *sql.Tx, t time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_meta (id, updated_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		t.UnixNano()); err != nil {
		return fmt.Errorf("cache: stamping document timestamp: %w", err)
	}

	return nil
}
