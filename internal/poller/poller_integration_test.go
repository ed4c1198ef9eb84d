//go:build integration
// +build integration

package poller

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/metrocast/weather-history/internal/testhelpers"
)

// TestPollOnce_Integration runs one poll round against the live provider and
// whatever storage backend the environment provides. Skips without
// WEATHER_API_KEY.
func TestPollOnce_Integration(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	wc := testhelpers.SetupIntegrationClient(t, cfg)
	readingCache, cacheCleanup := testhelpers.SetupIntegrationCache(t, cfg)
	defer cacheCleanup()
	observations, store, storeCleanup := testhelpers.SetupIntegrationService(t, cfg)
	defer storeCleanup()

	cities := []City{
		{Name: "Delhi", Lat: 28.679079, Lon: 77.069710},
		{Name: "Mumbai", Lat: 19.076090, Lon: 72.877426},
	}
	p := NewPoller(wc, readingCache, observations, cities, time.Minute, time.Minute, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if got := p.PollOnce(ctx); got != len(cities) {
		t.Fatalf("PollOnce() ingested %d cities, want %d", got, len(cities))
	}

	// A second round inside the freshness window reuses stored records, so the
	// history for each city still holds exactly one fresh observation.
	if got := p.PollOnce(ctx); got != len(cities) {
		t.Fatalf("second PollOnce() ingested %d cities, want %d", got, len(cities))
	}
	for _, city := range cities {
		results, err := store.Query(ctx, city.Name, 10, 0)
		if err != nil {
			t.Fatalf("Query(%s) error = %v", city.Name, err)
		}
		fresh := 0
		for _, obs := range results {
			if time.Since(obs.Timestamp) < time.Minute {
				fresh++
			}
		}
		if fresh != 1 {
			t.Errorf("city %s has %d fresh observations, want 1", city.Name, fresh)
		}
	}
}
