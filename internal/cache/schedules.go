package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campwire/campsync/internal/remote"
)

// SaveSchedule persists the schedule payload for a date. Overwrites any
// previous payload for the same date.
func (s *Store) SaveSchedule(ctx context.Context, dateKey string, payload *remote.SchedulePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache: encoding schedule %s: %w", dateKey, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (date_key, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(date_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		dateKey, string(data), time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("cache: writing schedule %s: %w", dateKey, err)
	}

	return nil
}

// GetSchedule loads the cached schedule payload for a date. Returns
// (nil, nil) when no payload is cached or the stored bytes are corrupt —
// per the cache contract, bad persisted state degrades to empty.
func (s *Store) GetSchedule(ctx context.Context, dateKey string) (*remote.SchedulePayload, error) {
	var data string

	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM schedules WHERE date_key = ?`, dateKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("cache: reading schedule %s: %w", dateKey, err)
	}

	var payload remote.SchedulePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		s.logger.Warn("corrupt cached schedule read as absent", "date_key", dateKey)

		return nil, nil
	}

	return &payload, nil
}

// DeleteSchedule removes the cached payload for a date, and any queued
// outbox entry for it.
func (s *Store) DeleteSchedule(ctx context.Context, dateKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE date_key = ?`, dateKey); err != nil {
		return fmt.Errorf("cache: deleting schedule %s: %w", dateKey, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE date_key = ?`, dateKey); err != nil {
		return fmt.Errorf("cache: deleting outbox entry %s: %w", dateKey, err)
	}

	return nil
}

// OutboxEntry is one deferred schedule write queued while offline.
type OutboxEntry struct {
	DateKey  string
	Payload  *remote.SchedulePayload
	QueuedAt time.Time
}

// OutboxPut queues (or replaces) the deferred write for a date. One row
// per date: replay only ever sends the latest slice.
func (s *Store) OutboxPut(ctx context.Context, dateKey string, payload *remote.SchedulePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache: encoding outbox entry %s: %w", dateKey, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (date_key, payload, queued_at) VALUES (?, ?, ?)
		 ON CONFLICT(date_key) DO UPDATE SET payload = excluded.payload, queued_at = excluded.queued_at`,
		dateKey, string(data), time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("cache: queueing outbox entry %s: %w", dateKey, err)
	}

	return nil
}

// OutboxList returns all queued entries ordered by queue time. Corrupt
// payloads are dropped from the queue rather than wedging replay forever.
func (s *Store) OutboxList(ctx context.Context) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date_key, payload, queued_at FROM outbox ORDER BY queued_at`)
	if err != nil {
		return nil, fmt.Errorf("cache: reading outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	var corrupt []string

	for rows.Next() {
		var dateKey, data string
		var queuedAt int64

		if err := rows.Scan(&dateKey, &data, &queuedAt); err != nil {
			return nil, fmt.Errorf("cache: scanning outbox row: %w", err)
		}

		var payload remote.SchedulePayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			s.logger.Warn("dropping corrupt outbox entry", "date_key", dateKey)
			corrupt = append(corrupt, dateKey)

			continue
		}

		out = append(out, OutboxEntry{
			DateKey:  dateKey,
			Payload:  &payload,
			QueuedAt: time.Unix(0, queuedAt).UTC(),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating outbox: %w", err)
	}

	for _, dateKey := range corrupt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE date_key = ?`, dateKey); err != nil {
			s.logger.Warn("failed to drop corrupt outbox entry", "date_key", dateKey)
		}
	}

	return out, nil
}

// OutboxRemove removes the queued entry for a date after successful replay.
func (s *Store) OutboxRemove(ctx context.Context, dateKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE date_key = ?`, dateKey); err != nil {
		return fmt.Errorf("cache: removing outbox entry %s: %w", dateKey, err)
	}

	return nil
}

// OutboxDepth returns the number of queued entries.
func (s *Store) OutboxDepth(ctx context.Context) (int, error) {
	var count int

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache: counting outbox: %w", err)
	}

	return count, nil
}
