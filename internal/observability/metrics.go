package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Ingestion outcomes (created vs reused). Reused/created ratio shows how well
	// the freshness window coalesces duplicate readings.
	ObservationsIngestedTotal *prometheus.CounterVec

	// Unique-index conflicts on insert (lost check-then-write races). Watch for:
	// anything persistently above zero means heavy same-city write contention.
	IngestConflictsTotal prometheus.Counter

	// Store operation latency by operation and status. Watch for: p95 > 100ms
	// (index degradation), error ratio (storage unavailability).
	StorageOperationDuration *prometheus.HistogramVec

	// Rows removed by retention sweeps.
	RetentionDeletedTotal prometheus.Counter

	// Sweep attempts by status. A failed sweep is skipped, not retried.
	RetentionSweepsTotal *prometheus.CounterVec

	// Upstream weather API call rate. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for the upstream API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Provider cache hits in the poller path.
	CacheHitsTotal *prometheus.CounterVec

	// Provider cache failures by operation.
	CacheErrorsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ObservationsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observationsIngestedTotal",
			Help: "Ingestion calls by outcome: created (new record) or reused (recent record served)",
		},
		[]string{"outcome"},
	)
	IngestConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestConflictsTotal",
			Help: "Inserts rejected by the (city, timestamp) unique constraint",
		},
	)
	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storageOperationDurationSeconds",
			Help:    "Observation store operation latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation", "status"},
	)
	RetentionDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "retentionDeletedTotal",
			Help: "Observations removed by retention sweeps",
		},
	)
	RetentionSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retentionSweepsTotal",
			Help: "Retention sweep attempts by status",
		},
		[]string{"status"},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of upstream weather API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Upstream weather API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for upstream weather API calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Provider cache hits by cache type",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Provider cache failures by operation",
		},
		[]string{"operation"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ObservationsIngestedTotal, IngestConflictsTotal, StorageOperationDuration,
		RetentionDeletedTotal, RetentionSweepsTotal,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CacheHitsTotal, CacheErrorsTotal,
		RateLimitDeniedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
