package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/metrocast/weather-history/internal/cache"
	"github.com/metrocast/weather-history/internal/client"
	"github.com/metrocast/weather-history/internal/models"
	"github.com/metrocast/weather-history/internal/service"
)

// City is a polled location. Coordinates are used for forecast lookups.
type City struct {
	Name string
	Lat  float64
	Lon  float64
}

// DefaultCities is the built-in polling set.
var DefaultCities = []City{
	{Name: "Delhi", Lat: 28.679079, Lon: 77.069710},
	{Name: "Mumbai", Lat: 19.076090, Lon: 72.877426},
	{Name: "Chennai", Lat: 13.084300, Lon: 80.270000},
	{Name: "Bengaluru", Lat: 12.971600, Lon: 77.594600},
	{Name: "Kolkata", Lat: 22.574400, Lon: 88.362900},
	{Name: "Hyderabad", Lat: 17.443649, Lon: 78.445824},
}

// DefaultInterval is how often the polling set is collected.
const DefaultInterval = 10 * time.Minute

// Poller periodically fetches current conditions for a fixed set of cities and
// feeds them through the ingest path. Provider readings are cached so a tick
// that fires inside the cache TTL reuses the previous fetch instead of calling
// upstream again.
type Poller struct {
	client    client.WeatherClient
	cache     cache.Cache
	svc       *service.ObservationService
	cities    []City
	interval  time.Duration
	cacheTTL  time.Duration
	logger    *zap.Logger
	scheduler *gocron.Scheduler
}

// NewPoller creates a Poller. Empty cities and non-positive interval take the
// defaults; cacheTTL <= 0 disables the read-through cache check (every tick
// fetches upstream).
func NewPoller(wc client.WeatherClient, c cache.Cache, svc *service.ObservationService, cities []City, interval, cacheTTL time.Duration, logger *zap.Logger) *Poller {
	if len(cities) == 0 {
		cities = DefaultCities
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		client:    wc,
		cache:     c,
		svc:       svc,
		cities:    cities,
		interval:  interval,
		cacheTTL:  cacheTTL,
		logger:    logger,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// PollOnce collects one round of readings. Each city is independent: a fetch
// or ingest failure is logged and the remaining cities still run. Returns the
// number of cities successfully ingested.
func (p *Poller) PollOnce(ctx context.Context) int {
	ok := 0
	for _, city := range p.cities {
		if err := p.pollCity(ctx, city); err != nil {
			p.logger.Warn("poll failed for city",
				zap.String("city", city.Name),
				zap.String("category", string(client.CategorizeError(err))),
				zap.Error(err))
			continue
		}
		ok++
	}
	return ok
}

func (p *Poller) pollCity(ctx context.Context, city City) error {
	reading, hit, err := p.lookup(ctx, city.Name)
	if err != nil {
		return err
	}

	_, created, err := p.svc.Ingest(ctx, city.Name, reading.Payload())
	if err != nil {
		return fmt.Errorf("ingest reading: %w", err)
	}

	p.logger.Debug("city polled",
		zap.String("city", city.Name),
		zap.Bool("cacheHit", hit),
		zap.Bool("created", created))
	return nil
}

// lookup returns the city's current reading, from cache when fresh enough.
func (p *Poller) lookup(ctx context.Context, name string) (r models.ProviderReading, hit bool, err error) {
	if p.cache != nil && p.cacheTTL > 0 {
		cached, ok, cacheErr := p.cache.Get(ctx, name)
		if cacheErr != nil {
			p.logger.Warn("cache read failed, fetching upstream", zap.String("city", name), zap.Error(cacheErr))
		} else if ok {
			return cached, true, nil
		}
	}

	reading, err := p.client.GetCurrentWeather(ctx, name)
	if err != nil {
		return models.ProviderReading{}, false, fmt.Errorf("fetch current weather: %w", err)
	}

	if p.cache != nil && p.cacheTTL > 0 {
		if err := p.cache.Set(ctx, name, reading, p.cacheTTL); err != nil {
			p.logger.Warn("cache write failed", zap.String("city", name), zap.Error(err))
		}
	}
	return reading, false, nil
}

// Start schedules the periodic poll and starts the underlying scheduler.
func (p *Poller) Start() error {
	_, err := p.scheduler.Every(p.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		ingested := p.PollOnce(ctx)
		p.logger.Info("poll round complete",
			zap.Int("ingested", ingested),
			zap.Int("cities", len(p.cities)))
	})
	if err != nil {
		return fmt.Errorf("schedule poller: %w", err)
	}

	p.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future polls.
func (p *Poller) Stop() {
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
}
