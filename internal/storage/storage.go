package storage

import (
	"context"
	"errors"
	"time"

	"github.com/metrocast/weather-history/internal/models"
)

// ErrDuplicate is returned by Insert when an observation with the same
// (city, timestamp) already exists. The unique index is the last-resort safety
// net behind the freshness gate; callers may retry since a retry restamps the
// timestamp.
var ErrDuplicate = errors.New("observation already exists for city and timestamp")

// ErrUnavailable is returned when the persistence layer cannot be reached.
var ErrUnavailable = errors.New("storage unavailable")

// Store is the durable observation collection. Implementations must enforce
// uniqueness on (city, timestamp) and assign the observation identifier on
// Insert. Callers only ever receive copies of stored records.
type Store interface {
	// Insert assigns an identifier to obs and persists it. Returns the stored
	// copy, or ErrDuplicate on a (city, timestamp) collision.
	Insert(ctx context.Context, obs models.Observation) (models.Observation, error)

	// FindMostRecent returns the single most recent observation for city with
	// timestamp >= since, and whether one was found. City match is exact.
	FindMostRecent(ctx context.Context, city string, since time.Time) (models.Observation, bool, error)

	// Query returns observations sorted by timestamp descending, filtered by
	// case-insensitive substring match on city when cityFilter is non-empty.
	// limit and offset are clamped to non-negative.
	Query(ctx context.Context, cityFilter string, limit, offset int) ([]models.Observation, error)

	// DeleteOlderThan removes observations with timestamp < cutoff and returns
	// the count removed. Idempotent.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the storage connection. Call during shutdown, after
	// in-flight operations have drained.
	Close()
}
