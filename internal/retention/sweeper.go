package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/metrocast/weather-history/internal/observability"
	"github.com/metrocast/weather-history/internal/storage"
)

// DefaultHorizon is the retention horizon: observations older than this are
// eligible for deletion.
const DefaultHorizon = 30 * 24 * time.Hour

// DefaultInterval is how often the sweep runs.
const DefaultInterval = 24 * time.Hour

// Sweeper periodically purges observations older than the retention horizon.
// A failed sweep is logged and skipped; the next tick proceeds regardless, so
// no retry backoff is needed.
type Sweeper struct {
	store     storage.Store
	horizon   time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
	scheduler *gocron.Scheduler
}

// NewSweeper creates a Sweeper using the wall clock. Non-positive horizon or
// interval take the defaults.
func NewSweeper(store storage.Store, horizon, interval time.Duration, logger *zap.Logger) *Sweeper {
	return NewSweeperWithClock(store, horizon, interval, logger, time.Now)
}

// NewSweeperWithClock injects the clock so sweeps can be driven synchronously
// in tests without waiting on real timers.
func NewSweeperWithClock(store storage.Store, horizon, interval time.Duration, logger *zap.Logger, now func() time.Time) *Sweeper {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:     store,
		horizon:   horizon,
		interval:  interval,
		logger:    logger,
		now:       now,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// RunOnce performs a single sweep, deleting everything older than
// now - horizon. Returns the number of observations removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.horizon)

	start := time.Now()
	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	observability.StorageOperationDuration.WithLabelValues("delete_older_than", sweepStatus(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RetentionSweepsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("retention sweep: %w", err)
	}

	observability.RetentionSweepsTotal.WithLabelValues("success").Inc()
	observability.RetentionDeletedTotal.Add(float64(removed))
	s.logger.Info("retention sweep complete",
		zap.Time("cutoff", cutoff),
		zap.Int64("removed", removed))
	return removed, nil
}

// Start schedules the periodic sweep and starts the underlying scheduler.
// Sweep failures are logged and never crash the process.
func (s *Sweeper) Start() error {
	_, err := s.scheduler.Every(s.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("retention sweep failed; waiting for next tick", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future sweeps.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func sweepStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
