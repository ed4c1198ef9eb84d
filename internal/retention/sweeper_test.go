package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/metrocast/weather-history/internal/models"
	"github.com/metrocast/weather-history/internal/storage"
)

// brokenStore fails every delete, simulating storage unavailability.
type brokenStore struct {
	*storage.MemoryStore
}

func (b *brokenStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, storage.ErrUnavailable
}

func seedObservation(t *testing.T, store storage.Store, city string, ts time.Time) models.Observation {
	t.Helper()
	obs, err := store.Insert(context.Background(), models.Observation{City: city, Timestamp: ts})
	if err != nil {
		t.Fatalf("Insert(%s, %v) error = %v", city, ts, err)
	}
	return obs
}

// TestSweeper_RunOnce_RemovesOnlyExpired verifies the sweep removes exactly
// the observations past the horizon and leaves the rest untouched.
func TestSweeper_RunOnce_RemovesOnlyExpired(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	fresh := seedObservation(t, store, "Delhi", now.Add(-time.Hour))
	seedObservation(t, store, "Delhi", now.Add(-31*24*time.Hour))
	seedObservation(t, store, "Mumbai", now.Add(-60*24*time.Hour))

	s := NewSweeperWithClock(store, 30*24*time.Hour, 24*time.Hour, zap.NewNop(), func() time.Time { return now })

	removed, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("RunOnce() removed = %d, want 2", removed)
	}

	remaining, err := store.Query(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Fatalf("after sweep, remaining = %+v, want only the fresh record", remaining)
	}
}

// TestSweeper_RunOnce_Idempotent verifies a second sweep at the same clock
// removes nothing.
func TestSweeper_RunOnce_Idempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedObservation(t, store, "Delhi", now.Add(-40*24*time.Hour))

	s := NewSweeperWithClock(store, 30*24*time.Hour, 24*time.Hour, zap.NewNop(), func() time.Time { return now })

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce() error = %v", err)
	}
	removed, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("second RunOnce() removed = %d, want 0", removed)
	}
}

// TestSweeper_RunOnce_StorageFailure verifies a failed sweep reports the error
// without touching stored data; the caller logs and waits for the next tick.
func TestSweeper_RunOnce_StorageFailure(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedObservation(t, mem, "Delhi", time.Now().UTC().Add(-60*24*time.Hour))
	store := &brokenStore{MemoryStore: mem}

	s := NewSweeper(store, 30*24*time.Hour, 24*time.Hour, zap.NewNop())

	_, err := s.RunOnce(context.Background())
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("RunOnce() error = %v, want ErrUnavailable", err)
	}
	if mem.Len() != 1 {
		t.Errorf("store has %d observations after failed sweep, want 1", mem.Len())
	}
}

// TestSweeper_Defaults verifies non-positive horizon and interval fall back to
// the 30-day horizon and 24-hour interval.
func TestSweeper_Defaults(t *testing.T) {
	s := NewSweeper(storage.NewMemoryStore(), 0, 0, zap.NewNop())
	if s.horizon != DefaultHorizon {
		t.Errorf("horizon = %v, want %v", s.horizon, DefaultHorizon)
	}
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
}
