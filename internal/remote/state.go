package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// GetCampState fetches the settings document row for a camp. Returns
// ErrNotFound (wrapped) when no row exists yet — a fresh camp, not a
// failure. Permission-denied responses surface as ErrPermissionDenied.
func (c *Client) GetCampState(ctx context.Context, campID string) (*CampState, error) {
	path := "/camp_state?camp_id=eq." + url.QueryEscape(campID) + "&select=camp_id,state,updated_at"

	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("remote: fetching camp state for %s: %w", campID, err)
	}
	defer resp.Body.Close()

	var rows []CampState
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("remote: decoding camp state for %s: %w", campID, err)
	}

	// The rows API answers row filters with an array; an empty array means
	// the camp has never been synced.
	if len(rows) == 0 {
		return nil, fmt.Errorf("remote: camp state for %s: %w", campID, ErrNotFound)
	}

	return &rows[0], nil
}

// UpsertCampState writes the settings document row, replacing any existing
// row for the camp (document-level last-writer-wins).
func (c *Client) UpsertCampState(ctx context.Context, state *CampState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("remote: encoding camp state for %s: %w", state.CampID, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/camp_state?on_conflict=camp_id",
		bytes.NewReader(body), "resolution=merge-duplicates")
	if err != nil {
		return fmt.Errorf("remote: upserting camp state for %s: %w", state.CampID, err)
	}

	resp.Body.Close()

	return nil
}
