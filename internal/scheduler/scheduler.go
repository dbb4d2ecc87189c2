package scheduler

import (
	"context"
	"math"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-ingest/internal/logging"
	"github.com/i474232898/weather-ingest/internal/weather"
	"github.com/i474232898/weather-ingest/internal/weather/providers"
)

// Collector is the part of weather.Service the poller drives.
type Collector interface {
	Collect(ctx context.Context, req weather.CollectRequest) (weather.FetchResult, error)
}

// BackoffConfig controls exponential backoff between attempts of one target.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config controls the poller.
type Config struct {
	Interval    time.Duration
	PastHours   int
	Concurrency int
	// Timeout bounds one target including retries.
	Timeout time.Duration
	Backoff BackoffConfig
}

// Scheduler periodically collects recent observations for configured locations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	collector Collector
	locations []weather.Location
	cfg       Config
}

// New creates a new Scheduler.
func New(cfg Config, locations []weather.Location, collector Collector) *Scheduler {
	if cfg.PastHours <= 0 {
		cfg.PastHours = 6
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff.InitialInterval = 500 * time.Millisecond
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		collector: collector,
		locations: locations,
		cfg:       cfg,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. A
// non-positive interval or an empty location list leaves polling disabled.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 || s.cfg.Interval <= 0 {
		logging.Info().
			Int("locations", len(s.locations)).
			Dur("interval", s.cfg.Interval).
			Msg("poller disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.cfg.Interval).Do(func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	logging.Info().
		Int("locations", len(s.locations)).
		Dur("interval", s.cfg.Interval).
		Msg("poller started")
	s.scheduler.StartAsync()
	return nil
}

// RunOnce collects every location with bounded concurrency and returns the
// number of locations that failed after retries.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	logging.Debug().Int("locations", len(s.locations)).Msg("running collect job")

	results := make([]error, len(s.locations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, loc := range s.locations {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, s.cfg.Timeout)
			defer cancel()
			results[i] = s.collectWithRetry(tctx, loc)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, err := range results {
		if err != nil {
			failed++
			logging.Error().Err(err).Str("location", s.locations[i].Key()).Msg("collect failed")
		}
	}
	logging.Info().
		Int("locations", len(s.locations)).
		Int("failed", failed).
		Msg("collect job completed")
	return failed
}

// collectWithRetry runs Collect, retrying transient provider failures with
// exponential backoff.
func (s *Scheduler) collectWithRetry(ctx context.Context, loc weather.Location) error {
	req := weather.CollectRequest{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		PastHours: s.cfg.PastHours,
	}
	b := s.cfg.Backoff

	var attempt int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := s.collector.Collect(ctx, req)
		if err == nil {
			return nil
		}
		if !providers.Retryable(err) || attempt >= b.MaxRetries {
			return err
		}

		delay := b.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > b.MaxInterval && b.MaxInterval > 0 {
			delay = b.MaxInterval
		}
		logging.Warn().
			Err(err).
			Str("location", loc.Key()).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("collect failed; retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
