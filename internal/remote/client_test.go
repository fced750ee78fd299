package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noSleep replaces the retry sleep so tests run instantly.
func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	token := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	c := NewClient(srv.URL, srv.Client(), token, testLogger(t))
	c.sleepFunc = noSleep

	return c, srv
}

func TestGetCampState_Found(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"camp_id":"pinewood","state":{"divisions":["juniors"]},"updated_at":"2026-06-01T12:00:00Z"}]`)
	}))

	state, err := c.GetCampState(context.Background(), "pinewood")
	if err != nil {
		t.Fatalf("GetCampState() error: %v", err)
	}

	if state.CampID != "pinewood" {
		t.Errorf("CampID = %q, want pinewood", state.CampID)
	}

	if _, ok := state.State["divisions"]; !ok {
		t.Error("State missing divisions key")
	}
}

func TestGetCampState_EmptyArrayIsNotFound(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[]`)
	}))

	_, err := c.GetCampState(context.Background(), "pinewood")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCampState() error = %v, want ErrNotFound", err)
	}
}

func TestGetCampState_PermissionDenied(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"permission denied for table camp_state"}`, http.StatusForbidden)
	}))

	_, err := c.GetCampState(context.Background(), "pinewood")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("GetCampState() error = %v, want ErrPermissionDenied", err)
	}

	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatal("error does not wrap *StoreError")
	}

	if storeErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", storeErr.StatusCode)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "boom", http.StatusServiceUnavailable)
			return
		}

		io.WriteString(w, `[{"camp_id":"pinewood","state":{},"updated_at":"2026-06-01T12:00:00Z"}]`)
	}))

	if _, err := c.GetCampState(context.Background(), "pinewood"); err != nil {
		t.Fatalf("GetCampState() error after retries: %v", err)
	}

	if calls != 3 {
		t.Errorf("server calls = %d, want 3 (two retries)", calls)
	}
}

func TestDo_PermissionDeniedNotRetried(t *testing.T) {
	t.Parallel()

	var calls int

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusForbidden)
	}))

	_, err := c.GetCampState(context.Background(), "pinewood")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}

	if calls != 1 {
		t.Errorf("server calls = %d, want 1 (no retry)", calls)
	}
}

func TestUpsertCampState_SendsMergePrefer(t *testing.T) {
	t.Parallel()

	var gotPrefer string

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		w.WriteHeader(http.StatusCreated)
	}))

	err := c.UpsertCampState(context.Background(), &CampState{
		CampID:    "pinewood",
		State:     map[string]json.RawMessage{"divisions": json.RawMessage(`["juniors"]`)},
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpsertCampState() error: %v", err)
	}

	if gotPrefer != "resolution=merge-duplicates" {
		t.Errorf("Prefer = %q, want resolution=merge-duplicates", gotPrefer)
	}
}

func TestUpsert_RetryRewindsBody(t *testing.T) {
	t.Parallel()

	var calls int
	var lastBody []byte

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++

		body, _ := io.ReadAll(r.Body)
		lastBody = body

		if calls == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}))

	err := c.UpsertSchedule(context.Background(), &ScheduleRow{
		CampID:    "pinewood",
		DateKey:   "2026-07-01",
		Scheduler: "alice",
		ScheduleData: SchedulePayload{
			Assignments: map[string]json.RawMessage{"bunk-1": json.RawMessage(`{"slot":"am"}`)},
		},
	})
	if err != nil {
		t.Fatalf("UpsertSchedule() error: %v", err)
	}

	if calls != 2 {
		t.Fatalf("server calls = %d, want 2", calls)
	}

	if len(lastBody) == 0 {
		t.Error("retried request had empty body — body not rewound")
	}
}

func TestGetMergedSchedule_Found(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"date_key":"2026-07-01","schedule_data":{"assignments":{"bunk-1":{"slot":"am"},"bunk-3":{"slot":"pm"}}},"schedulers":["alice","bob"],"updated_at":"2026-07-01T15:00:00Z"}]`)
	}))

	payload, updatedAt, err := c.GetMergedSchedule(context.Background(), "pinewood", "2026-07-01")
	if err != nil {
		t.Fatalf("GetMergedSchedule() error: %v", err)
	}

	if payload.EntityCount() != 2 {
		t.Errorf("EntityCount() = %d, want 2", payload.EntityCount())
	}

	if updatedAt.IsZero() {
		t.Error("updatedAt is zero")
	}
}

func TestDeleteScheduleDay_Forbidden(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "row-level security", http.StatusUnauthorized)
	}))

	err := c.DeleteScheduleDay(context.Background(), "pinewood", "2026-07-01")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
}
