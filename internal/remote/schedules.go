package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// mergedRow is the wire shape of the store's merged_schedules view: one
// canonical per-date row fanned in across all schedulers' slices.
type mergedRow struct {
	DateKey      string          `json:"date_key"`
	ScheduleData SchedulePayload `json:"schedule_data"`
	Schedulers   []string        `json:"schedulers,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// GetMergedSchedule fetches the canonical merged view for one date. The
// store combines all schedulers' rows server-side; the client never
// performs cross-identity schedule merging itself. Returns ErrNotFound
// (wrapped) when no scheduler has saved anything for the date.
func (c *Client) GetMergedSchedule(ctx context.Context, campID, dateKey string) (*SchedulePayload, time.Time, error) {
	path := "/merged_schedules?camp_id=eq." + url.QueryEscape(campID) +
		"&date_key=eq." + url.QueryEscape(dateKey) +
		"&select=date_key,schedule_data,schedulers,updated_at"

	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("remote: fetching merged schedule %s/%s: %w", campID, dateKey, err)
	}
	defer resp.Body.Close()

	var rows []mergedRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, time.Time{}, fmt.Errorf("remote: decoding merged schedule %s/%s: %w", campID, dateKey, err)
	}

	if len(rows) == 0 {
		return nil, time.Time{}, fmt.Errorf("remote: merged schedule %s/%s: %w", campID, dateKey, ErrNotFound)
	}

	return &rows[0].ScheduleData, rows[0].UpdatedAt, nil
}

// UpsertSchedule writes one scheduler's slice for a date, replacing any
// previous slice by the same scheduler. Other schedulers' rows for the
// same date are untouched — the fan-in happens in the merged view.
func (c *Client) UpsertSchedule(ctx context.Context, row *ScheduleRow) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("remote: encoding schedule %s/%s: %w", row.CampID, row.DateKey, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/daily_schedules?on_conflict=camp_id,date_key,scheduler",
		bytes.NewReader(body), "resolution=merge-duplicates")
	if err != nil {
		return fmt.Errorf("remote: upserting schedule %s/%s: %w", row.CampID, row.DateKey, err)
	}

	resp.Body.Close()

	return nil
}

// DeleteSchedule removes one scheduler's slice for a date.
func (c *Client) DeleteSchedule(ctx context.Context, campID, dateKey, scheduler string) error {
	path := "/daily_schedules?camp_id=eq." + url.QueryEscape(campID) +
		"&date_key=eq." + url.QueryEscape(dateKey) +
		"&scheduler=eq." + url.QueryEscape(scheduler)

	resp, err := c.do(ctx, http.MethodDelete, path, nil, "")
	if err != nil {
		return fmt.Errorf("remote: deleting schedule %s/%s/%s: %w", campID, dateKey, scheduler, err)
	}

	resp.Body.Close()

	return nil
}

// DeleteScheduleDay removes every scheduler's slice for a date. The store
// enforces that only admin tokens may issue this; unprivileged callers get
// ErrPermissionDenied.
func (c *Client) DeleteScheduleDay(ctx context.Context, campID, dateKey string) error {
	path := "/daily_schedules?camp_id=eq." + url.QueryEscape(campID) +
		"&date_key=eq." + url.QueryEscape(dateKey)

	resp, err := c.do(ctx, http.MethodDelete, path, nil, "")
	if err != nil {
		return fmt.Errorf("remote: deleting schedule day %s/%s: %w", campID, dateKey, err)
	}

	resp.Body.Close()

	return nil
}
