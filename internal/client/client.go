package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/metrocast/weather-history/internal/models"
	"github.com/metrocast/weather-history/internal/observability"
)

// WeatherClient fetches current and forecast weather from the upstream provider.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city string) (models.ProviderReading, error)
	GetForecastAverage(ctx context.Context, lat, lon float64) (float64, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrCityNotFound    = errors.New("city not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("circuit breaker open")
)

// OpenWeatherClient talks to the OpenWeatherMap current-weather and forecast
// APIs with retries, exponential backoff with jitter, and a circuit breaker.
type OpenWeatherClient struct {
	apiKey         string
	apiURL         string
	forecastURL    string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

// NewOpenWeatherClient creates a client with default retry settings.
func NewOpenWeatherClient(apiKey, apiURL, forecastURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(apiKey, apiURL, forecastURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewOpenWeatherClientWithRetry creates a client with explicit retry settings.
func NewOpenWeatherClientWithRetry(apiKey, apiURL, forecastURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "weather_api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &OpenWeatherClient{
		apiKey:         apiKey,
		apiURL:         apiURL,
		forecastURL:    forecastURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		breaker:        breaker,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type currentWeatherResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
	} `json:"sys"`
	Name string `json:"name"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
	} `json:"list"`
}

// GetCurrentWeather fetches the current reading for a city, retrying transient
// failures with backoff.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, city string) (models.ProviderReading, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.ProviderReading{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.callAPI(ctx, c.buildCurrentURL(city))
		if err == nil {
			var apiResp currentWeatherResponse
			if err := json.Unmarshal(body, &apiResp); err != nil {
				return models.ProviderReading{}, fmt.Errorf("parse response: %w", err)
			}
			return mapReading(apiResp, city), nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return models.ProviderReading{}, err
		}
	}

	return models.ProviderReading{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

// GetForecastAverage fetches the five-day forecast for the coordinates and
// returns the overall average of the per-day average temperatures.
func (c *OpenWeatherClient) GetForecastAverage(ctx context.Context, lat, lon float64) (float64, error) {
	body, err := c.callAPI(ctx, c.buildForecastURL(lat, lon))
	if err != nil {
		return 0, err
	}

	var apiResp forecastResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return 0, fmt.Errorf("parse forecast response: %w", err)
	}
	if len(apiResp.List) == 0 {
		return 0, fmt.Errorf("%w: empty forecast list", ErrUpstreamFailure)
	}

	points := make([]forecastPoint, 0, len(apiResp.List))
	for _, entry := range apiResp.List {
		points = append(points, forecastPoint{At: time.Unix(entry.Dt, 0).UTC(), Temp: entry.Main.Temp})
	}
	return averageDailyTemps(points), nil
}

// forecastPoint is one forecast sample: an instant and a temperature.
type forecastPoint struct {
	At   time.Time
	Temp float64
}

// averageDailyTemps groups samples by calendar day, averages each day, rounds
// it, then returns the rounded average of the daily averages.
func averageDailyTemps(points []forecastPoint) float64 {
	byDay := make(map[string][]float64)
	for _, p := range points {
		day := p.At.Format("2006-01-02")
		byDay[day] = append(byDay[day], p.Temp)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	var sum float64
	for _, day := range days {
		temps := byDay[day]
		var daySum float64
		for _, t := range temps {
			daySum += t
		}
		sum += math.Round(daySum / float64(len(temps)))
	}
	return math.Round(sum / float64(len(days)))
}

// callAPI executes one GET through the circuit breaker and returns the body.
func (c *OpenWeatherClient) callAPI(ctx context.Context, target string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := handleErrorResponse(resp); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return statusBody{status: resp.StatusCode, body: body}, nil
	})

	duration := time.Since(start).Seconds()
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, err
	}

	sb := result.(statusBody)
	status := statusLabel(sb.status)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)
	return sb.body, nil
}

type statusBody struct {
	status int
	body   []byte
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "context canceled")
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildCurrentURL(city string) string {
	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	return c.apiURL + "?" + params.Encode()
}

func (c *OpenWeatherClient) buildForecastURL(lat, lon float64) string {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	return c.forecastURL + "?" + params.Encode()
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrCityNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

// mapReading converts the provider response to a ProviderReading, rounding
// temperature and feels-like the way the dashboard displays them.
func mapReading(apiResp currentWeatherResponse, requested string) models.ProviderReading {
	details := ""
	if len(apiResp.Weather) > 0 {
		details = apiResp.Weather[0].Main
	}

	city := apiResp.Name
	if city == "" {
		city = requested
	}

	return models.ProviderReading{
		City:        city,
		Country:     apiResp.Sys.Country,
		Temperature: math.Round(apiResp.Main.Temp),
		Humidity:    apiResp.Main.Humidity,
		WindSpeed:   apiResp.Wind.Speed,
		FeelsLike:   math.Round(apiResp.Main.FeelsLike),
		Details:     details,
	}
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a lightweight request to confirm the key is active.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildCurrentURL("Delhi"), nil)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
