package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/metrocast/weather-history/internal/models"
	"github.com/metrocast/weather-history/internal/observability"
	"github.com/metrocast/weather-history/internal/storage"
	"github.com/metrocast/weather-history/internal/validation"
)

// DefaultFreshnessWindow is how long an existing observation suppresses new
// writes for the same city.
const DefaultFreshnessWindow = 10 * time.Minute

// ObservationService sits in front of the Store and applies the freshness
// gate: an ingest inside the window returns the existing record instead of
// writing a near-duplicate. The check-then-write sequence is not atomic; two
// near-simultaneous ingests for one city may both insert, each a valid record.
// The store's (city, timestamp) unique index is the only hard exclusion.
type ObservationService struct {
	store  storage.Store
	window time.Duration
	now    func() time.Time
}

// NewObservationService creates an ObservationService using the wall clock.
// window <= 0 takes DefaultFreshnessWindow.
func NewObservationService(store storage.Store, window time.Duration) *ObservationService {
	return NewObservationServiceWithClock(store, window, time.Now)
}

// NewObservationServiceWithClock injects the clock so freshness decisions can
// be driven deterministically in tests.
func NewObservationServiceWithClock(store storage.Store, window time.Duration, now func() time.Time) *ObservationService {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &ObservationService{
		store:  store,
		window: window,
		now:    now,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// Ingest stamps the observation timestamp, consults the freshness gate, and
// either returns the recent stored record (created=false) or persists a new
// one (created=true). city must already be validated. The caller sees
// storage.ErrDuplicate only when a concurrent ingest won a literal
// (city, timestamp) collision; a retry restamps and succeeds.
func (s *ObservationService) Ingest(ctx context.Context, city string, payload map[string]any) (models.Observation, bool, error) {
	logger := loggerFromContext(ctx)
	stamped := s.now().UTC()

	findStart := time.Now()
	recent, found, err := s.store.FindMostRecent(ctx, city, stamped.Add(-s.window))
	observability.StorageOperationDuration.WithLabelValues("find_most_recent", statusLabel(err)).Observe(time.Since(findStart).Seconds())
	if err != nil {
		return models.Observation{}, false, fmt.Errorf("freshness check for %s: %w", city, err)
	}
	if found {
		observability.ObservationsIngestedTotal.WithLabelValues("reused").Inc()
		if logger != nil {
			logger.Debug("reusing recent observation",
				zap.String("city", city),
				zap.String("id", recent.ID),
				zap.Duration("age", stamped.Sub(recent.Timestamp)))
		}
		return recent, false, nil
	}

	obs := buildObservation(city, stamped, payload)

	insertStart := time.Now()
	stored, err := s.store.Insert(ctx, obs)
	observability.StorageOperationDuration.WithLabelValues("insert", statusLabel(err)).Observe(time.Since(insertStart).Seconds())
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			observability.IngestConflictsTotal.Inc()
			if logger != nil {
				logger.Warn("lost insert race", zap.String("city", city), zap.Time("timestamp", stamped))
			}
		}
		return models.Observation{}, false, fmt.Errorf("insert observation for %s: %w", city, err)
	}

	observability.ObservationsIngestedTotal.WithLabelValues("created").Inc()
	if logger != nil {
		logger.Debug("observation created", zap.String("city", city), zap.String("id", stored.ID))
	}
	return stored, true, nil
}

// History returns one page of observation history, most recent first,
// optionally filtered by case-insensitive substring match on city.
func (s *ObservationService) History(ctx context.Context, cityFilter string, page validation.Pagination) ([]models.Observation, error) {
	queryStart := time.Now()
	results, err := s.store.Query(ctx, cityFilter, page.Limit, page.Offset())
	observability.StorageOperationDuration.WithLabelValues("query", statusLabel(err)).Observe(time.Since(queryStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	return results, nil
}

// Window returns the configured freshness window.
func (s *ObservationService) Window() time.Duration {
	return s.window
}

// buildObservation maps the open ingest payload onto the typed record. Known
// fields are lifted out; the rest pass through in Extra. city, timestamp and
// id are always system-controlled and never taken from the payload.
func buildObservation(city string, stamped time.Time, payload map[string]any) models.Observation {
	obs := models.Observation{
		City:      city,
		Timestamp: stamped,
	}
	if len(payload) == 0 {
		return obs
	}

	extra := make(map[string]any)
	for k, v := range payload {
		switch k {
		case "temperature", "temp":
			obs.Temperature = toFloat(v, obs.Temperature)
		case "humidity":
			obs.Humidity = toFloat(v, obs.Humidity)
		case "windspeed":
			obs.WindSpeed = toFloat(v, obs.WindSpeed)
		case "feels_like":
			obs.FeelsLike = toFloat(v, obs.FeelsLike)
		case "details":
			if s, ok := v.(string); ok {
				obs.Details = s
			}
		case "country":
			if s, ok := v.(string); ok {
				obs.Country = s
			}
		case "city", "timestamp", "id":
			// system-controlled
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		obs.Extra = extra
	}
	return obs
}

// toFloat converts JSON numeric shapes to *float64; non-numeric values leave
// the previous value unchanged.
func toFloat(v any, prev *float64) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	}
	return prev
}

// statusLabel returns the stable metric label for a store operation outcome.
func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
