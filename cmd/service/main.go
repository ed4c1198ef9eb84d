package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/metrocast/weather-history/internal/cache"
	"github.com/metrocast/weather-history/internal/client"
	"github.com/metrocast/weather-history/internal/config"
	httphandler "github.com/metrocast/weather-history/internal/http"
	"github.com/metrocast/weather-history/internal/lifecycle"
	"github.com/metrocast/weather-history/internal/observability"
	"github.com/metrocast/weather-history/internal/poller"
	"github.com/metrocast/weather-history/internal/retention"
	"github.com/metrocast/weather-history/internal/service"
	"github.com/metrocast/weather-history/internal/storage"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var store storage.Store
	switch cfg.StorageBackend {
	case "postgres":
		openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := storage.OpenPostgres(openCtx, cfg.StorageURL, cfg.StorageMaxConns)
		openCancel()
		if err != nil {
			logger.Fatal("postgres storage", zap.Error(err))
		}
		store = pg
		logger.Info("storage backend: postgres", zap.Int32("max_conns", cfg.StorageMaxConns))
	default:
		store = storage.NewMemoryStore()
		logger.Warn("storage backend: memory; observations are lost on restart")
	}
	defer store.Close()

	observations := service.NewObservationService(store, service.DefaultFreshnessWindow)

	var weatherClient client.WeatherClient
	if cfg.WeatherAPIKey != "" {
		wc, err := client.NewOpenWeatherClientWithRetry(
			cfg.WeatherAPIKey,
			cfg.WeatherAPIURL,
			cfg.WeatherAPIForecastURL,
			cfg.WeatherAPITimeout,
			cfg.RetryAttempts,
			cfg.RetryBaseDelay,
			cfg.RetryMaxDelay,
		)
		if err != nil {
			logger.Fatal("weather client", zap.Error(err))
		}
		weatherClient = wc
	} else {
		logger.Warn("WEATHER_API_KEY not set; poller and forecast endpoint disabled")
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	sweeper := retention.NewSweeper(store, cfg.RetentionHorizon, cfg.RetentionInterval, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("retention sweeper", zap.Error(err))
	}
	defer sweeper.Stop()
	logger.Info("retention sweeper started",
		zap.Duration("horizon", cfg.RetentionHorizon),
		zap.Duration("interval", cfg.RetentionInterval))

	cities := make([]poller.City, 0, len(cfg.PollerCities))
	for _, c := range cfg.PollerCities {
		cities = append(cities, poller.City{Name: c.Name, Lat: c.Lat, Lon: c.Lon})
	}

	if cfg.PollerEnabled && weatherClient != nil {
		p := poller.NewPoller(weatherClient, cacheSvc, observations, cities, cfg.PollerInterval, cfg.CacheTTL, logger)
		if err := p.Start(); err != nil {
			logger.Fatal("poller", zap.Error(err))
		}
		defer p.Stop()
		logger.Info("poller started",
			zap.Duration("interval", cfg.PollerInterval),
			zap.Int("cities", len(cities)))
	}

	var cachePing func() error
	if memcacheCloser != nil {
		cachePing = memcacheCloser.Ping
	}
	handler := httphandler.NewHandler(observations, weatherClient, store, cities, logger, cachePing)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(httphandler.RateLimitMiddleware(limiter))
	apiRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	apiRouter.HandleFunc("/weather", handler.PostWeather).Methods("POST")
	apiRouter.HandleFunc("/weather", handler.GetWeather).Methods("GET")
	apiRouter.HandleFunc("/forecast", handler.GetForecast).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
