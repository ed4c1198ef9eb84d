//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/metrocast/weather-history/internal/cache"
	"github.com/metrocast/weather-history/internal/client"
	"github.com/metrocast/weather-history/internal/service"
	"github.com/metrocast/weather-history/internal/storage"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	StorageURL    string // empty means in-memory store
	APIKey        string
	APIURL        string
	ForecastURL   string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// All backends are optional: without STORAGE_URL the in-memory store is used,
// and without WEATHER_API_KEY provider-dependent helpers skip.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	forecastURL := os.Getenv("WEATHER_API_FORECAST_URL")
	if forecastURL == "" {
		forecastURL = "https://api.openweathermap.org/data/2.5/forecast"
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		StorageURL:    os.Getenv("STORAGE_URL"),
		APIKey:        os.Getenv("WEATHER_API_KEY"),
		APIURL:        apiURL,
		ForecastURL:   forecastURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationStore opens the store under test: postgres when STORAGE_URL
// is set, otherwise the in-memory store. Returns the store and a cleanup func.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) (storage.Store, func()) {
	if cfg.StorageURL == "" {
		store := storage.NewMemoryStore()
		return store, func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := storage.OpenPostgres(ctx, cfg.StorageURL, 4)
	if err != nil {
		t.Skipf("postgres not available at STORAGE_URL: %v", err)
	}
	return store, store.Close
}

// SetupIntegrationService creates a fully configured observation service.
// Returns the service, its store, and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.ObservationService, storage.Store, func()) {
	store, cleanup := SetupIntegrationStore(t, cfg)
	return service.NewObservationService(store, service.DefaultFreshnessWindow), store, cleanup
}

// SetupIntegrationCache creates the cache under test. Falls back to in-memory
// when memcached is requested but unreachable.
func SetupIntegrationCache(t *testing.T, cfg IntegrationTestConfig) (cache.Cache, func()) {
	if cfg.CacheBackend == "memcached" {
		memcachedCache, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return memcachedCache, func() { memcachedCache.Close() }
		}
		t.Logf("Memcached not available (%v), using in-memory cache", err)
	}
	return cache.NewInMemoryCache(), func() {}
}

// SetupIntegrationClient creates a weather client for integration tests.
// Skips the test when WEATHER_API_KEY is not set.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.WeatherClient {
	if cfg.APIKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	wc, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, cfg.ForecastURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return wc
}
