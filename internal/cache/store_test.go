package cache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/campwire/campsync/internal/remote"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", testLogger(t))
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetKeyGetKey_RoundTrip(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	value := json.RawMessage(`{"fields":["soccer","archery"]}`)
	if err := s.SetKey(ctx, "locationZones", value); err != nil {
		t.Fatalf("SetKey() error: %v", err)
	}

	got, err := s.GetKey(ctx, "locationZones")
	if err != nil {
		t.Fatalf("GetKey() error: %v", err)
	}

	if string(got) != string(value) {
		t.Errorf("GetKey() = %s, want %s", got, value)
	}
}

func TestGetKey_Missing(t *testing.T) {
	t.Parallel()

	s := testStore(t)

	got, err := s.GetKey(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetKey() error: %v", err)
	}

	if got != nil {
		t.Errorf("GetKey(missing) = %s, want nil", got)
	}
}

func TestSetKey_StampsDocumentTimestamp(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)

	if err := s.SetKey(ctx, "app1", json.RawMessage(`{"theme":"forest"}`)); err != nil {
		t.Fatalf("SetKey() error: %v", err)
	}

	doc, err := s.GetDocument(ctx)
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}

	if doc.UpdatedAt.Before(before) {
		t.Errorf("document UpdatedAt = %v, want after %v", doc.UpdatedAt, before)
	}
}

func TestGetDocument_EmptyDatabase(t *testing.T) {
	t.Parallel()

	s := testStore(t)

	doc, err := s.GetDocument(context.Background())
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}

	if len(doc.Keys) != 0 {
		t.Errorf("empty database yielded %d keys, want 0", len(doc.Keys))
	}

	if !doc.UpdatedAt.IsZero() {
		t.Errorf("empty database UpdatedAt = %v, want zero", doc.UpdatedAt)
	}
}

func TestGetDocument_SkipsCorruptRow(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	if err := s.SetKey(ctx, "good", json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("SetKey() error: %v", err)
	}

	// Inject corruption directly, bypassing SetKey validation.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ('bad', '{broken', 0)`); err != nil {
		t.Fatalf("injecting corrupt row: %v", err)
	}

	doc, err := s.GetDocument(ctx)
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}

	if _, ok := doc.Keys["good"]; !ok {
		t.Error("good key missing from document")
	}

	if _, ok := doc.Keys["bad"]; ok {
		t.Error("corrupt key present in document, want skipped")
	}
}

func TestReplace_OverwritesDocument(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	if err := s.SetKey(ctx, "stale", json.RawMessage(`true`)); err != nil {
		t.Fatalf("SetKey() error: %v", err)
	}

	stamp := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

	err := s.Replace(ctx, &Document{
		Keys: map[string]json.RawMessage{
			"divisions": json.RawMessage(`[{"id":"div-1","name":"Juniors","bunks":["bunk-1"]}]`),
		},
		UpdatedAt: stamp,
	})
	if err != nil {
		t.Fatalf("Replace() error: %v", err)
	}

	doc, err := s.GetDocument(ctx)
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}

	if _, ok := doc.Keys["stale"]; ok {
		t.Error("stale key survived Replace()")
	}

	if _, ok := doc.Keys["divisions"]; !ok {
		t.Error("divisions key missing after Replace()")
	}

	if !doc.UpdatedAt.Equal(stamp) {
		t.Errorf("UpdatedAt = %v, want %v", doc.UpdatedAt, stamp)
	}
}

func TestRegistry_MirrorFromDivisions(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	divisions := json.RawMessage(`[
		{"id":"div-1","name":"Juniors","bunks":["bunk-1","bunk-2"]},
		{"id":"div-2","name":"Seniors","bunks":["bunk-3"]}
	]`)
	if err := s.SetKey(ctx, "divisions", divisions); err != nil {
		t.Fatalf("SetKey(divisions) error: %v", err)
	}

	owned, err := s.BunksForDivisions(ctx, []string{"div-1"})
	if err != nil {
		t.Fatalf("BunksForDivisions() error: %v", err)
	}

	if len(owned) != 2 {
		t.Fatalf("BunksForDivisions(div-1) = %v, want 2 bunks", owned)
	}

	// Match by division name as well as ID.
	owned, err = s.BunksForDivisions(ctx, []string{"Seniors"})
	if err != nil {
		t.Fatalf("BunksForDivisions() error: %v", err)
	}

	if len(owned) != 1 || owned[0] != "bunk-3" {
		t.Errorf("BunksForDivisions(Seniors) = %v, want [bunk-3]", owned)
	}
}

func TestRegistry_BunksKeyOverridesNames(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	if err := s.SetKey(ctx, "divisions",
		json.RawMessage(`[{"id":"div-1","name":"Juniors","bunks":["bunk-1"]}]`)); err != nil {
		t.Fatalf("SetKey(divisions) error: %v", err)
	}

	if err := s.SetKey(ctx, "bunks",
		json.RawMessage(`[{"id":"bunk-1","name":"Chipmunks","division":"div-1"}]`)); err != nil {
		t.Fatalf("SetKey(bunks) error: %v", err)
	}

	all, err := s.AllBunks(ctx)
	if err != nil {
		t.Fatalf("AllBunks() error: %v", err)
	}

	if len(all) != 1 {
		t.Fatalf("AllBunks() = %d rows, want 1", len(all))
	}

	if all[0].Name != "Chipmunks" {
		t.Errorf("bunk name = %q, want Chipmunks (from bunks key)", all[0].Name)
	}

	if all[0].DivisionName != "Juniors" {
		t.Errorf("division name = %q, want Juniors", all[0].DivisionName)
	}
}

func TestRegistry_MalformedDivisionsLeavesEmpty(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	if err := s.SetKey(ctx, "divisions", json.RawMessage(`"not a list"`)); err != nil {
		t.Fatalf("SetKey() error: %v", err)
	}

	all, err := s.AllBunks(ctx)
	if err != nil {
		t.Fatalf("AllBunks() error: %v", err)
	}

	if len(all) != 0 {
		t.Errorf("AllBunks() = %d rows, want 0 for malformed divisions", len(all))
	}
}

func TestSchedule_RoundTripAndCorruption(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	payload := &remote.SchedulePayload{
		Assignments: map[string]json.RawMessage{
			"bunk-1": json.RawMessage(`{"slot":"am","activity":"swim"}`),
		},
		DayModes: map[string]bool{"rainy": true},
	}

	if err := s.SaveSchedule(ctx, "2026-07-01", payload); err != nil {
		t.Fatalf("SaveSchedule() error: %v", err)
	}

	got, err := s.GetSchedule(ctx, "2026-07-01")
	if err != nil {
		t.Fatalf("GetSchedule() error: %v", err)
	}

	if got.EntityCount() != 1 {
		t.Errorf("EntityCount() = %d, want 1", got.EntityCount())
	}

	if !got.DayModes["rainy"] {
		t.Error("rainy day mode lost in round trip")
	}

	// Corrupt the stored payload; reads must degrade to absent.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET payload = '{broken' WHERE date_key = '2026-07-01'`); err != nil {
		t.Fatalf("corrupting schedule: %v", err)
	}

	got, err = s.GetSchedule(ctx, "2026-07-01")
	if err != nil {
		t.Fatalf("GetSchedule() after corruption error: %v", err)
	}

	if got != nil {
		t.Error("GetSchedule() of corrupt payload returned data, want nil")
	}
}

func TestOutbox_LatestWinsPerDate(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	first := &remote.SchedulePayload{
		Assignments: map[string]json.RawMessage{"bunk-1": json.RawMessage(`{"slot":"am"}`)},
	}
	second := &remote.SchedulePayload{
		Assignments: map[string]json.RawMessage{
			"bunk-1": json.RawMessage(`{"slot":"pm"}`),
			"bunk-2": json.RawMessage(`{"slot":"am"}`),
		},
	}

	if err := s.OutboxPut(ctx, "2026-07-01", first); err != nil {
		t.Fatalf("OutboxPut() error: %v", err)
	}

	if err := s.OutboxPut(ctx, "2026-07-01", second); err != nil {
		t.Fatalf("OutboxPut() error: %v", err)
	}

	entries, err := s.OutboxList(ctx)
	if err != nil {
		t.Fatalf("OutboxList() error: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("OutboxList() = %d entries, want 1 (latest wins)", len(entries))
	}

	if entries[0].Payload.EntityCount() != 2 {
		t.Errorf("queued payload EntityCount() = %d, want 2", entries[0].Payload.EntityCount())
	}

	if err := s.OutboxRemove(ctx, "2026-07-01"); err != nil {
		t.Fatalf("OutboxRemove() error: %v", err)
	}

	depth, err := s.OutboxDepth(ctx)
	if err != nil {
		t.Fatalf("OutboxDepth() error: %v", err)
	}

	if depth != 0 {
		t.Errorf("OutboxDepth() = %d, want 0", depth)
	}
}

func TestDeleteSchedule_ClearsOutbox(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	payload := &remote.SchedulePayload{
		Assignments: map[string]json.RawMessage{"bunk-1": json.RawMessage(`{}`)},
	}

	if err := s.SaveSchedule(ctx, "2026-07-02", payload); err != nil {
		t.Fatalf("SaveSchedule() error: %v", err)
	}

	if err := s.OutboxPut(ctx, "2026-07-02", payload); err != nil {
		t.Fatalf("OutboxPut() error: %v", err)
	}

	if err := s.DeleteSchedule(ctx, "2026-07-02"); err != nil {
		t.Fatalf("DeleteSchedule() error: %v", err)
	}

	got, err := s.GetSchedule(ctx, "2026-07-02")
	if err != nil {
		t.Fatalf("GetSchedule() error: %v", err)
	}

	if got != nil {
		t.Error("schedule survived DeleteSchedule()")
	}

	depth, err := s.OutboxDepth(ctx)
	if err != nil {
		t.Fatalf("OutboxDepth() error: %v", err)
	}

	if depth != 0 {
		t.Errorf("OutboxDepth() = %d after delete, want 0", depth)
	}
}
