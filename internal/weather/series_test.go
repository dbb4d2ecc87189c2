package weather_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-ingest/internal/weather"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func row(at time.Time, temp, code *float64) weather.Observation {
	values := make([]*float64, len(weather.Variables))
	values[weather.VariableIndex("temperature_2m")] = temp
	values[weather.VariableIndex("weathercode")] = code
	return weather.Observation{Timestamp: at, Latitude: -23.55, Longitude: -46.63, Values: values}
}

func TestCollapseHourly(t *testing.T) {
	rows := []weather.Observation{
		row(t0.Add(time.Hour), ptr(10), ptr(3)),
		row(t0, ptr(20), ptr(1)),
		row(t0, ptr(22), ptr(2)),
		row(t0, nil, ptr(2)),
		row(t0.Add(time.Hour+30*time.Minute), ptr(14), ptr(61)),
	}

	out := weather.CollapseHourly(rows)
	require.Len(t, out, 2)

	assert.Equal(t, t0, out[0].Timestamp)
	assert.Equal(t, 21.0, *out[0].Value("temperature_2m"), "nulls are skipped by the mean")
	assert.Equal(t, 2.0, *out[0].Value("weathercode"))

	assert.Equal(t, 12.0, *out[1].Value("temperature_2m"))
	assert.Equal(t, 3.0, *out[1].Value("weathercode"), "ties keep the earliest value")
	assert.Nil(t, out[1].Value("cloudcover"))
}

func TestCollapseHourly_Empty(t *testing.T) {
	assert.Empty(t, weather.CollapseHourly(nil))
}

func TestResample_ExplicitGaps(t *testing.T) {
	points := []weather.Observation{
		row(t0, ptr(20), nil),
		row(t0.Add(3*time.Hour), ptr(23), nil),
	}
	zone, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	grid := weather.Resample(points, zone)
	require.Len(t, grid, 4)

	assert.False(t, grid[0].Missing)
	assert.True(t, grid[1].Missing)
	assert.True(t, grid[2].Missing)
	assert.False(t, grid[3].Missing)

	assert.Nil(t, grid[1].Values["temperature_2m"])
	assert.Contains(t, grid[1].Values, "cloudcover")
	assert.Equal(t, 23.0, *grid[3].Values["temperature_2m"])

	assert.Equal(t, zone, grid[0].Time.Location())
	assert.True(t, grid[0].Time.Equal(t0))
	assert.Equal(t, 21, grid[0].Time.Hour())
}

func TestResample_NilZoneMeansUTC(t *testing.T) {
	grid := weather.Resample([]weather.Observation{row(t0, ptr(1), nil)}, nil)
	require.Len(t, grid, 1)
	assert.Equal(t, time.UTC, grid[0].Time.Location())
}
