package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/metrocast/weather-history/internal/client"
	"github.com/metrocast/weather-history/internal/lifecycle"
	"github.com/metrocast/weather-history/internal/poller"
	"github.com/metrocast/weather-history/internal/service"
	"github.com/metrocast/weather-history/internal/storage"
	"github.com/metrocast/weather-history/internal/validation"
)

var validate = validator.New()

// MaxCityLength bounds the city name accepted on ingest and as a history filter.
const MaxCityLength = 100

// DefaultHistoryLimit is the page size when the caller does not ask for one.
const DefaultHistoryLimit = 10

// ingestRequest carries the validated part of the ingest body. The rest of the
// body is an open payload and flows through untouched. The max tag mirrors
// MaxCityLength; validator counts runes, matching the filter-path bound.
type ingestRequest struct {
	City string `json:"city" validate:"required,max=100"`
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	observations *service.ObservationService
	weather      client.WeatherClient
	store        storage.Store
	cities       []poller.City
	logger       *zap.Logger
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	cachePing func() error

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. weather and cachePing may be nil when the
// forecast endpoint or cache are not configured.
func NewHandler(
	observations *service.ObservationService,
	weather client.WeatherClient,
	store storage.Store,
	cities []poller.City,
	logger *zap.Logger,
	cachePing func() error,
) *Handler {
	if len(cities) == 0 {
		cities = poller.DefaultCities
	}
	return &Handler{
		observations: observations,
		weather:      weather,
		store:        store,
		cities:       cities,
		logger:       logger,
		cachePing:    cachePing,
	}
}

// PostWeather handles POST /api/weather. The body is a JSON object with a
// required city plus an open set of reading fields. A fresh observation for
// the city short-circuits the write and returns the stored record.
func (h *Handler) PostWeather(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object")
		return
	}

	// Presence and length are the struct validator's job; character rules
	// stay with ValidateCity, shared with the history filter path.
	req := ingestRequest{}
	if s, ok := body["city"].(string); ok {
		req.City = strings.TrimSpace(s)
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", cityValidationMessage(err))
		return
	}

	city, err := validation.ValidateCity(req.City, 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	obs, created, err := h.observations.Ingest(r.Context(), city, body)
	if err != nil {
		h.writeStorageError(w, r, err, "Error saving weather data")
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Using recent data",
			"data":    obs,
		})
		return
	}
	writeJSON(w, http.StatusCreated, obs)
}

// GetWeather handles GET /api/weather. Supports optional city substring
// filtering and 1-based page/limit pagination, newest first.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := validation.ParsePagination(q.Get("page"), q.Get("limit"), DefaultHistoryLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PAGINATION", "page and limit must be positive integers")
		return
	}

	cityFilter := strings.TrimSpace(q.Get("city"))
	if cityFilter != "" {
		cityFilter, err = validation.ValidateCity(cityFilter, MaxCityLength)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
			return
		}
	}

	results, err := h.observations.History(r.Context(), cityFilter, page)
	if err != nil {
		h.writeStorageError(w, r, err, "Error retrieving weather data")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// GetForecast handles GET /api/forecast?city=... for the configured polling
// set. Returns the five-day average temperature for the city's coordinates.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	if h.weather == nil {
		writeError(w, r, http.StatusServiceUnavailable, "FORECAST_DISABLED", "forecast provider is not configured")
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("city"))
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", "city is required")
		return
	}

	city, ok := h.lookupCity(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_CITY", "city is not in the forecast set")
		return
	}

	avg, err := h.weather.GetForecastAverage(r.Context(), city.Lat, city.Lon)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"city":                city.Name,
		"average_temperature": avg,
	})
}

func (h *Handler) lookupCity(name string) (poller.City, bool) {
	for _, c := range h.cities {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return poller.City{}, false
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus(r)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]any{
		"status":    result.status,
		"service":   "weather-history",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus determines the current health status.
// Decision order: shutting-down > storage unreachable > healthy. Cache
// reachability is reported in checks but never degrades overall status; the
// service serves reads and writes without it.
func (h *Handler) computeHealthStatus(r *http.Request) (healthResult, map[string]string) {
	checks := make(map[string]string)

	if h.cachePing != nil {
		if h.cachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	if lifecycle.IsShuttingDown() {
		checks["storage"] = "unknown"
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}

	if err := h.store.Ping(r.Context()); err != nil {
		checks["storage"] = "unhealthy"
		return healthResult{"degraded", http.StatusServiceUnavailable, "storage_unreachable"}, checks
	}
	checks["storage"] = "healthy"

	return healthResult{"healthy", http.StatusOK, ""}, checks
}

// cityValidationMessage maps a struct validation failure onto the wire
// message. Only the city field carries tags, so the first failed tag decides.
func cityValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "max" {
				return "city too long"
			}
		}
	}
	return "city is required"
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeStorageError maps a storage failure onto the wire. A lost insert race
// is retryable and gets a 503 with a machine code; anything else is the flat
// 500 body clients already parse.
func (h *Handler) writeStorageError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Error("storage error", zap.Error(err))
	}
	if errors.Is(err, storage.ErrDuplicate) {
		writeError(w, r, http.StatusServiceUnavailable, "WRITE_CONFLICT", "concurrent write for this city, retry the request")
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": message})
}

// writeUpstreamError writes a 503 Service Unavailable error response for provider failures.
// Logs the underlying error at DEBUG level if logger is available in request context.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch forecast data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error",
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
	}
}
