package cache

import (
	"context"
	"sync"
	"time"

	"github.com/metrocast/weather-history/internal/models"
	"github.com/metrocast/weather-history/internal/observability"
)

// Cache defines the interface for provider reading caches.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.ProviderReading, bool, error)
	Set(ctx context.Context, key string, value models.ProviderReading, ttl time.Duration) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached reading with expiration timestamp.
type cacheEntry struct {
	value     models.ProviderReading
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves a cached reading for the key if present and not expired.
// Returns (data, true, nil) on cache hit, (zero, false, nil) on miss or expiration.
// Expired entries are automatically removed from cache.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ProviderReading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.ProviderReading{}, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.ProviderReading{}, false, nil
	}

	observability.CacheHitsTotal.WithLabelValues("memory").Inc()
	return entry.value, true, nil
}

// Set stores a reading in cache with the specified TTL duration.
// Entry expires after TTL elapses and will be removed on next Get access.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.ProviderReading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
