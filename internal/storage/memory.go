package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metrocast/weather-history/internal/models"
)

// MemoryStore is a concurrency-safe in-memory Store. Used as the dev backend
// and as the test double for endpoint and service tests.
type MemoryStore struct {
	mu           sync.RWMutex
	observations []models.Observation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert implements Store.Insert. Enforces the (city, timestamp) uniqueness
// constraint and assigns a UUID identifier.
func (s *MemoryStore) Insert(ctx context.Context, obs models.Observation) (models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.observations {
		if existing.City == obs.City && existing.Timestamp.Equal(obs.Timestamp) {
			return models.Observation{}, ErrDuplicate
		}
	}

	obs.ID = uuid.New().String()
	s.observations = append(s.observations, cloneObservation(obs))
	return obs, nil
}

// cloneObservation copies the Extra map so stored state is never reachable
// through a returned or retained record.
func cloneObservation(obs models.Observation) models.Observation {
	if obs.Extra != nil {
		extra := make(map[string]any, len(obs.Extra))
		for k, v := range obs.Extra {
			extra[k] = v
		}
		obs.Extra = extra
	}
	return obs
}

// FindMostRecent implements Store.FindMostRecent with an exact city match.
func (s *MemoryStore) FindMostRecent(ctx context.Context, city string, since time.Time) (models.Observation, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best models.Observation
	found := false
	for _, obs := range s.observations {
		if obs.City != city || obs.Timestamp.Before(since) {
			continue
		}
		if !found || obs.Timestamp.After(best.Timestamp) {
			best = obs
			found = true
		}
	}
	return cloneObservation(best), found, nil
}

// Query implements Store.Query: case-insensitive substring city filter,
// timestamp-descending order, (offset, limit) pagination.
func (s *MemoryStore) Query(ctx context.Context, cityFilter string, limit, offset int) ([]models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	filter := strings.ToLower(cityFilter)
	matched := make([]models.Observation, 0, len(s.observations))
	for _, obs := range s.observations {
		if filter != "" && !strings.Contains(strings.ToLower(obs.City), filter) {
			continue
		}
		matched = append(matched, cloneObservation(obs))
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if offset >= len(matched) {
		return []models.Observation{}, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// DeleteOlderThan implements Store.DeleteOlderThan.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.observations[:0]
	var removed int64
	for _, obs := range s.observations {
		if obs.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, obs)
	}
	s.observations = kept
	return removed, nil
}

// Ping implements Store.Ping. Always reachable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.Close. No-op for the in-memory backend.
func (s *MemoryStore) Close() {}

// Len returns the number of stored observations. For tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observations)
}
