package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metrocast/weather-history/internal/models"
)

func floatPtr(f float64) *float64 { return &f }

func mustInsert(t *testing.T, s Store, city string, ts time.Time) models.Observation {
	t.Helper()
	obs, err := s.Insert(context.Background(), models.Observation{
		City:        city,
		Timestamp:   ts,
		Temperature: floatPtr(25),
	})
	if err != nil {
		t.Fatalf("Insert(%s, %v) error = %v", city, ts, err)
	}
	return obs
}

// TestMemoryStore_Insert_AssignsID verifies every stored observation gets a
// unique system-assigned identifier.
func TestMemoryStore_Insert_AssignsID(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	a := mustInsert(t, s, "Delhi", now)
	b := mustInsert(t, s, "Delhi", now.Add(time.Minute))

	if a.ID == "" || b.ID == "" {
		t.Fatal("Insert() assigned empty ID")
	}
	if a.ID == b.ID {
		t.Errorf("Insert() assigned duplicate ID %q", a.ID)
	}
}

// TestMemoryStore_Insert_DuplicateCityTimestamp verifies the (city, timestamp)
// uniqueness constraint.
func TestMemoryStore_Insert_DuplicateCityTimestamp(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	mustInsert(t, s, "Delhi", now)

	_, err := s.Insert(context.Background(), models.Observation{City: "Delhi", Timestamp: now})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Insert() error = %v, want ErrDuplicate", err)
	}

	// Same timestamp, different city is fine.
	mustInsert(t, s, "Mumbai", now)
}

// TestMemoryStore_FindMostRecent verifies the since cutoff and most-recent-wins
// selection used by the freshness gate.
func TestMemoryStore_FindMostRecent(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	ctx := context.Background()

	old := mustInsert(t, s, "Delhi", now.Add(-20*time.Minute))
	recent := mustInsert(t, s, "Delhi", now.Add(-5*time.Minute))
	mustInsert(t, s, "Mumbai", now.Add(-time.Minute))

	got, found, err := s.FindMostRecent(ctx, "Delhi", now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("FindMostRecent() error = %v", err)
	}
	if !found {
		t.Fatal("FindMostRecent() found = false, want true")
	}
	if got.ID != recent.ID {
		t.Errorf("FindMostRecent() ID = %q, want %q", got.ID, recent.ID)
	}

	// Cutoff excludes everything for the city.
	_, found, err = s.FindMostRecent(ctx, "Delhi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("FindMostRecent() error = %v", err)
	}
	if found {
		t.Error("FindMostRecent() found = true past cutoff, want false")
	}

	// Exact city match only; no substring matching in the gate.
	_, found, err = s.FindMostRecent(ctx, "delhi", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("FindMostRecent() error = %v", err)
	}
	if found {
		t.Error("FindMostRecent() matched case-insensitively, want exact match")
	}
	_ = old
}

// TestMemoryStore_Query_OrderAndFilter verifies timestamp-descending order and
// the case-insensitive substring city filter.
func TestMemoryStore_Query_OrderAndFilter(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	ctx := context.Background()

	mustInsert(t, s, "Delhi", now.Add(-3*time.Hour))
	mustInsert(t, s, "New Delhi", now.Add(-2*time.Hour))
	mustInsert(t, s, "Mumbai", now.Add(-1*time.Hour))

	all, err := s.Query(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query() returned %d observations, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.After(all[i-1].Timestamp) {
			t.Errorf("Query() not sorted descending at index %d", i)
		}
	}

	matches, err := s.Query(ctx, "delhi", 10, 0)
	if err != nil {
		t.Fatalf("Query(delhi) error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Query(delhi) returned %d observations, want 2 (Delhi, New Delhi)", len(matches))
	}
	for _, obs := range matches {
		if obs.City == "Mumbai" {
			t.Errorf("Query(delhi) returned %q", obs.City)
		}
	}
}

// TestMemoryStore_Query_Pagination verifies consecutive pages have no overlap
// and no gap for a stable data set.
func TestMemoryStore_Query_Pagination(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		mustInsert(t, s, "Delhi", now.Add(-time.Duration(i)*time.Minute))
	}

	page1, err := s.Query(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("Query(page 1) error = %v", err)
	}
	page2, err := s.Query(ctx, "", 10, 10)
	if err != nil {
		t.Fatalf("Query(page 2) error = %v", err)
	}
	full, err := s.Query(ctx, "", 20, 0)
	if err != nil {
		t.Fatalf("Query(full) error = %v", err)
	}

	if len(page1) != 10 || len(page2) != 10 {
		t.Fatalf("page sizes = %d, %d, want 10, 10", len(page1), len(page2))
	}
	combined := append(append([]models.Observation{}, page1...), page2...)
	for i, obs := range combined {
		if obs.ID != full[i].ID {
			t.Fatalf("pages differ from contiguous slice at index %d", i)
		}
	}

	// Beyond the data: empty result, not an error.
	empty, err := s.Query(ctx, "", 10, 100)
	if err != nil {
		t.Fatalf("Query(past end) error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Query(past end) returned %d observations, want 0", len(empty))
	}
}

// TestMemoryStore_DeleteOlderThan verifies the exact cutoff semantics and
// idempotence of retention deletes.
func TestMemoryStore_DeleteOlderThan(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	ctx := context.Background()

	keep := mustInsert(t, s, "Delhi", now)
	mustInsert(t, s, "Delhi", now.Add(-31*24*time.Hour))
	mustInsert(t, s, "Mumbai", now.Add(-45*24*time.Hour))

	cutoff := now.Add(-30 * 24 * time.Hour)
	removed, err := s.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("DeleteOlderThan() removed = %d, want 2", removed)
	}

	remaining, err := s.Query(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != keep.ID {
		t.Fatalf("after delete, remaining = %+v, want only %q", remaining, keep.ID)
	}

	// Second pass with the same cutoff removes nothing.
	removed, err = s.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan() second call error = %v", err)
	}
	if removed != 0 {
		t.Errorf("DeleteOlderThan() second call removed = %d, want 0", removed)
	}
}

// TestMemoryStore_ReturnsCopies verifies mutating a returned Extra map never
// reaches stored state.
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	extra := map[string]any{"aqi": 204}
	if _, err := s.Insert(context.Background(), models.Observation{
		City:      "Delhi",
		Timestamp: now,
		Extra:     extra,
	}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	extra["aqi"] = -1 // caller's map, must not be retained

	first, err := s.Query(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(first) != 1 || first[0].Extra["aqi"] != 204 {
		t.Fatalf("Query() Extra = %v, want aqi 204", first[0].Extra)
	}
	first[0].Extra["aqi"] = 999

	recent, found, err := s.FindMostRecent(context.Background(), "Delhi", now.Add(-time.Minute))
	if err != nil || !found {
		t.Fatalf("FindMostRecent() = found %v, err %v", found, err)
	}
	if recent.Extra["aqi"] != 204 {
		t.Errorf("FindMostRecent() Extra aqi = %v, want 204 after caller mutation", recent.Extra["aqi"])
	}
	recent.Extra["aqi"] = 0

	second, err := s.Query(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if second[0].Extra["aqi"] != 204 {
		t.Errorf("stored Extra aqi = %v, want 204", second[0].Extra["aqi"])
	}
}
