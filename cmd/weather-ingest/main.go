package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	httpapi "github.com/i474232898/weather-ingest/internal/api/http"
	"github.com/i474232898/weather-ingest/internal/config"
	"github.com/i474232898/weather-ingest/internal/logging"
	"github.com/i474232898/weather-ingest/internal/scheduler"
	"github.com/i474232898/weather-ingest/internal/store"
	"github.com/i474232898/weather-ingest/internal/weather"
	"github.com/i474232898/weather-ingest/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsStore, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	// Open-Meteo behind a circuit breaker and rate limiter; no retries here.
	provider := providers.NewOpenMeteoProvider(providers.OpenMeteoConfig{
		ForecastURL:     cfg.Provider.ForecastURL,
		ArchiveURL:      cfg.Provider.ArchiveURL,
		APIKey:          cfg.Provider.APIKey,
		ForecastHours:   cfg.Provider.ForecastHours,
		RecentTimeout:   cfg.Provider.RecentTimeout,
		HistoryTimeout:  cfg.Provider.HistoryTimeout,
		TimezoneTimeout: cfg.Provider.TimezoneTimeout,
		HTTP: providers.HTTPClientConfig{
			Client:            &http.Client{},
			RequestsPerSecond: cfg.Provider.RequestsPerSecond,
			Burst:             cfg.Provider.Burst,
		},
	})

	service := weather.NewService(obsStore, provider)

	// Optional poller; it owns retries.
	locations, err := pollLocations(cfg.Poller)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to resolve poll locations")
	}
	sched := scheduler.New(scheduler.Config{
		Interval:    cfg.Poller.Interval,
		PastHours:   cfg.Poller.PastHours,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
		Backoff: scheduler.BackoffConfig{
			MaxRetries:      cfg.Poller.MaxRetries,
			InitialInterval: cfg.Poller.InitialBackoff,
			MaxInterval:     cfg.Poller.MaxBackoff,
		},
	}, locations, service)
	if err := sched.Start(); err != nil {
		logging.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	app := httpapi.NewApp(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	httpapi.RegisterRoutes(app, service)

	go func() {
		logging.Info().Str("port", cfg.Server.Port).Msg("http server listening")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logging.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("error during shutdown")
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (weather.Store, func(), error) {
	policy := weather.DedupPolicy(cfg.DedupPolicy)
	if cfg.Driver == "memory" {
		logging.Warn().Msg("using in-memory store; observations are lost on exit")
		return store.NewMemoryStore(policy), func() {}, nil
	}

	db, err := store.OpenDuckDB(ctx, store.DuckDBConfig{
		Path:      cfg.Path,
		Schema:    cfg.Schema,
		Table:     cfg.Table,
		Policy:    policy,
		Threads:   cfg.Threads,
		MaxMemory: cfg.MaxMemory,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logging.Info().Str("path", cfg.Path).Str("policy", string(policy)).Msg("duckdb store ready")

	return db, func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close duckdb")
		}
	}, nil
}

func pollLocations(cfg config.PollerConfig) ([]weather.Location, error) {
	targets, err := scheduler.ParseTargets(cfg.Locations)
	if err != nil {
		return nil, err
	}
	var geocode scheduler.GeocodeFunc
	if cfg.GeocoderAPIKey != "" {
		geocode = scheduler.GoogleGeocoder(cfg.GeocoderAPIKey)
	}
	return scheduler.ResolveTargets(targets, geocode)
}
