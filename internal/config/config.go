package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/i474232898/weather-ingest/internal/logging"
)

// ConfigPathEnvVar names an optional YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type AppConfig struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Provider ProviderConfig `koanf:"provider"`
	Poller   PollerConfig   `koanf:"poller"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Port         string        `koanf:"port" validate:"required,numeric"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
}

type StoreConfig struct {
	// Driver is duckdb or memory.
	Driver      string `koanf:"driver" validate:"oneof=duckdb memory"`
	Path        string `koanf:"path" validate:"required_if=Driver duckdb"`
	Schema      string `koanf:"schema" validate:"required"`
	Table       string `koanf:"table" validate:"required"`
	DedupPolicy string `koanf:"dedup_policy" validate:"oneof=row key"`
	Threads     int    `koanf:"threads" validate:"gte=0"`
	MaxMemory   string `koanf:"max_memory"`
}

type ProviderConfig struct {
	ForecastURL       string        `koanf:"forecast_url" validate:"required,url"`
	ArchiveURL        string        `koanf:"archive_url" validate:"required,url"`
	APIKey            string        `koanf:"api_key"`
	ForecastHours     int           `koanf:"forecast_hours" validate:"gte=1,lte=384"`
	RecentTimeout     time.Duration `koanf:"recent_timeout" validate:"gt=0"`
	HistoryTimeout    time.Duration `koanf:"history_timeout" validate:"gt=0"`
	TimezoneTimeout   time.Duration `koanf:"timezone_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int           `koanf:"burst" validate:"gte=0"`
}

// PollerConfig drives the optional background collector. Locations entries
// are "lat,lon" or "City|Country"; in env they are separated by ';'.
type PollerConfig struct {
	Interval       time.Duration `koanf:"interval" validate:"gte=0"`
	Locations      []string      `koanf:"locations"`
	PastHours      int           `koanf:"past_hours" validate:"gte=1,lte=168"`
	Concurrency    int           `koanf:"concurrency" validate:"gte=1"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"gte=0"`
	GeocoderAPIKey string        `koanf:"geocoder_api_key"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 90 * time.Second,
		},
		Store: StoreConfig{
			Driver:      "duckdb",
			Path:        "data/warehouse.duckdb",
			Schema:      "raw",
			Table:       "weather_hourly",
			DedupPolicy: "row",
		},
		Provider: ProviderConfig{
			ForecastURL:       "https://api.open-meteo.com/v1/forecast",
			ArchiveURL:        "https://archive-api.open-meteo.com/v1/archive",
			ForecastHours:     48,
			RecentTimeout:     30 * time.Second,
			HistoryTimeout:    60 * time.Second,
			TimezoneTimeout:   10 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Poller: PollerConfig{
			Interval:       0,
			PastHours:      6,
			Concurrency:    4,
			Timeout:        2 * time.Minute,
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var envMappings = map[string]string{
	"port":                         "server.port",
	"http_read_timeout":            "server.read_timeout",
	"http_write_timeout":           "server.write_timeout",
	"store_driver":                 "store.driver",
	"duckdb_path":                  "store.path",
	"duckdb_schema":                "store.schema",
	"duckdb_table":                 "store.table",
	"duckdb_threads":               "store.threads",
	"duckdb_max_memory":            "store.max_memory",
	"dedup_policy":                 "store.dedup_policy",
	"openmeteo_forecast_url":       "provider.forecast_url",
	"openmeteo_archive_url":        "provider.archive_url",
	"openmeteo_api_key":            "provider.api_key",
	"forecast_hours":               "provider.forecast_hours",
	"recent_timeout":               "provider.recent_timeout",
	"history_timeout":              "provider.history_timeout",
	"timezone_timeout":             "provider.timezone_timeout",
	"provider_requests_per_second": "provider.requests_per_second",
	"provider_burst":               "provider.burst",
	"fetch_interval":               "poller.interval",
	"weather_locations":            "poller.locations",
	"collect_past_hours":           "poller.past_hours",
	"poller_concurrency":           "poller.concurrency",
	"poller_timeout":               "poller.timeout",
	"poller_max_retries":           "poller.max_retries",
	"poller_initial_backoff":       "poller.initial_backoff",
	"poller_max_backoff":           "poller.max_backoff",
	"geocoder_api_key":             "poller.geocoder_api_key",
	"log_level":                    "logging.level",
	"log_format":                   "logging.format",
}

// envTransformFunc maps an environment variable name to its config path.
// Unmapped variables are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load reads configuration with precedence env > YAML file > defaults. A
// .env file, when present, is loaded into the environment first.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug().Err(err).Msg("no .env file loaded")
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitLocations(k); err != nil {
		return nil, err
	}

	cfg := &AppConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// splitLocations turns a ';'-separated env value into a list. Targets
// contain commas themselves, so the default comma split cannot be used.
func splitLocations(k *koanf.Koanf) error {
	const path = "poller.locations"
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}

	locs := []string{}
	for _, p := range strings.Split(raw, ";") {
		if p = strings.TrimSpace(p); p != "" {
			locs = append(locs, p)
		}
	}
	if err := k.Set(path, locs); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
