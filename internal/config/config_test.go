package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "duckdb", cfg.Store.Driver)
	assert.Equal(t, "data/warehouse.duckdb", cfg.Store.Path)
	assert.Equal(t, "raw", cfg.Store.Schema)
	assert.Equal(t, "weather_hourly", cfg.Store.Table)
	assert.Equal(t, "row", cfg.Store.DedupPolicy)
	assert.Equal(t, 48, cfg.Provider.ForecastHours)
	assert.Equal(t, 30*time.Second, cfg.Provider.RecentTimeout)
	assert.Equal(t, 60*time.Second, cfg.Provider.HistoryTimeout)
	assert.Zero(t, cfg.Poller.Interval)
	assert.Empty(t, cfg.Poller.Locations)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FETCH_INTERVAL", "15m")
	t.Setenv("WEATHER_LOCATIONS", "-23.55,-46.63; Paris|FR ;")
	t.Setenv("DEDUP_POLICY", "key")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("COLLECT_PAST_HOURS", "12")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Poller.Interval)
	assert.Equal(t, []string{"-23.55,-46.63", "Paris|FR"}, cfg.Poller.Locations)
	assert.Equal(t, "key", cfg.Store.DedupPolicy)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 12, cfg.Poller.PastHours)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_YAMLFileBelowEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7000"
store:
  path: /tmp/weather.duckdb
poller:
  interval: 1h
  locations:
    - "10,20"
    - "Lisbon|PT"
`), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.Server.Port)
	assert.Equal(t, "/tmp/weather.duckdb", cfg.Store.Path)
	assert.Equal(t, time.Hour, cfg.Poller.Interval)
	assert.Equal(t, []string{"10,20", "Lisbon|PT"}, cfg.Poller.Locations)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"DEDUP_POLICY":       "latest",
		"COLLECT_PAST_HOURS": "0",
		"STORE_DRIVER":       "postgres",
		"LOG_LEVEL":          "loud",
		"PORT":               "http",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	assert.Equal(t, "store.path", envTransformFunc("DUCKDB_PATH"))
	assert.Equal(t, "poller.interval", envTransformFunc("FETCH_INTERVAL"))
	assert.Empty(t, envTransformFunc("HOME"))
}
