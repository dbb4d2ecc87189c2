package weather_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-ingest/internal/store"
	"github.com/i474232898/weather-ingest/internal/weather"
)

// fakeProvider serves deterministic hourly payloads. The archive only holds
// complete past days, like the real one.
type fakeProvider struct {
	now     func() time.Time
	raw     []byte
	err     error
	tz      string
	tzErr   error
	fetches int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchRecent(_ context.Context, _ weather.Location, pastHours int) ([]byte, error) {
	p.fetches++
	if p.err != nil || p.raw != nil {
		return p.raw, p.err
	}
	current := p.now().UTC().Truncate(time.Hour)
	return hourlyPayload(current.Add(-time.Duration(pastHours-1)*time.Hour), current.Add(48*time.Hour)), nil
}

func (p *fakeProvider) FetchArchive(_ context.Context, _ weather.Location, start, end time.Time) ([]byte, error) {
	p.fetches++
	if p.err != nil || p.raw != nil {
		return p.raw, p.err
	}
	now := p.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !end.Before(today) {
		end = today.AddDate(0, 0, -1)
	}
	return hourlyPayload(start, end.Add(23*time.Hour)), nil
}

func (p *fakeProvider) Timezone(context.Context, weather.Location) (string, error) {
	return p.tz, p.tzErr
}

// hourlyPayload renders every hour in [from, to] with values derived from the
// timestamp, so overlapping fetches return identical rows.
func hourlyPayload(from, to time.Time) []byte {
	var times []string
	var temps, codes []any
	for t := from; !t.After(to); t = t.Add(time.Hour) {
		times = append(times, t.Format("2006-01-02T15:04"))
		temps = append(temps, float64(t.Hour())/2)
		if t.Hour()%5 == 0 {
			codes = append(codes, nil)
		} else {
			codes = append(codes, 3)
		}
	}
	raw, _ := json.Marshal(map[string]any{
		"timezone":           "GMT",
		"utc_offset_seconds": 0,
		"hourly": map[string]any{
			"time":           times,
			"temperature_2m": temps,
			"windspeed_10m":  temps,
			"weathercode":    codes,
		},
	})
	return raw
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T) (*weather.Service, *fakeProvider, *store.MemoryStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)}
	p := &fakeProvider{now: c.now, tz: "America/Sao_Paulo"}
	s := store.NewMemoryStore(weather.PolicyRow)
	return weather.NewService(s, p, weather.WithClock(c.now)), p, s, c
}

func TestCollect_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	req := weather.CollectRequest{Latitude: -23.55, Longitude: -46.63, PastHours: 6}

	first, err := svc.Collect(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, weather.ModeRecent, first.Mode)
	assert.Equal(t, 6, first.RowsReturned)
	assert.Equal(t, 6, first.InsertedRows)
	assert.Equal(t, "UTC", first.Timezone)
	assert.NotEmpty(t, first.FetchID)
	require.NotNil(t, first.LastTS)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), *first.LastTS)
	assert.Equal(t, time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), *first.FirstTS)

	second, err := svc.Collect(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 6, second.RowsReturned)
	assert.Zero(t, second.InsertedRows)
	assert.NotEqual(t, first.FetchID, second.FetchID)
}

func TestCollect_NeverStoresFutureRows(t *testing.T) {
	ctx := context.Background()
	svc, _, s, c := newTestService(t)

	_, err := svc.Collect(ctx, weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 24})
	require.NoError(t, err)

	rows, err := s.Query(ctx, weather.NewLocation(1, 2))
	require.NoError(t, err)
	require.Len(t, rows, 24)
	for _, r := range rows {
		assert.False(t, r.Timestamp.After(c.t), "row %s is in the future", r.Timestamp)
	}
}

func TestCollect_RoundsLocation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	res, err := svc.Collect(ctx, weather.CollectRequest{Latitude: -23.550001, Longitude: -46.629999, PastHours: 3})
	require.NoError(t, err)
	assert.Equal(t, -23.55, res.Lat)
	assert.Equal(t, -46.63, res.Lon)

	res, err = svc.Collect(ctx, weather.CollectRequest{Latitude: -23.55, Longitude: -46.63, PastHours: 3})
	require.NoError(t, err)
	assert.Zero(t, res.InsertedRows)
}

func TestCollect_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	svc, p, _, _ := newTestService(t)

	for _, req := range []weather.CollectRequest{
		{Latitude: 0, Longitude: 0, PastHours: 0},
		{Latitude: 0, Longitude: 0, PastHours: 169},
		{Latitude: 91, Longitude: 0, PastHours: 6},
		{Latitude: 0, Longitude: -181, PastHours: 6},
	} {
		_, err := svc.Collect(ctx, req)
		assert.ErrorIs(t, err, weather.ErrInvalidArgument, "%+v", req)
	}
	assert.Zero(t, p.fetches)
}

func TestCollect_ProviderFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, p, s, _ := newTestService(t)
	p.err = weather.ErrProvider

	_, err := svc.Collect(ctx, weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 6})
	assert.ErrorIs(t, err, weather.ErrProvider)

	p.err, p.raw = nil, []byte(`{"hourly": {"time": ["bad"]}}`)
	_, err = svc.Collect(ctx, weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 6})
	assert.ErrorIs(t, err, weather.ErrTimestampParse)

	p.raw = []byte(`oops`)
	_, err = svc.Collect(ctx, weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 6})
	assert.ErrorIs(t, err, weather.ErrMalformedPayload)

	rows, err := s.Query(ctx, weather.NewLocation(1, 2))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCollect_EmptyPayload(t *testing.T) {
	svc, p, _, _ := newTestService(t)
	p.raw = []byte(`{"hourly": {}}`)

	res, err := svc.Collect(context.Background(), weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 6})
	require.NoError(t, err)
	assert.Zero(t, res.RowsReturned)
	assert.Nil(t, res.FirstTS)
	assert.Nil(t, res.LastTS)
}

func TestBackfill_EndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, _, _, c := newTestService(t)
	req := weather.BackfillRequest{Latitude: -23.55, Longitude: -46.63, Days: 2}

	first, err := svc.Backfill(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, weather.ModeHistory, first.Mode)
	assert.Equal(t, 48, first.RowsReturned)
	assert.Equal(t, 48, first.InsertedRows)
	require.NotNil(t, first.Range)
	assert.Equal(t, "2026-03-08", first.Range.StartDate)
	assert.Equal(t, "2026-03-10", first.Range.EndDate)

	again, err := svc.Backfill(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 48, again.RowsReturned)
	assert.Zero(t, again.InsertedRows)

	c.t = c.t.AddDate(0, 0, 1)
	next, err := svc.Backfill(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 48, next.RowsReturned)
	assert.Equal(t, 24, next.InsertedRows)
}

func TestBackfill_DefaultsAndExplicitRange(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	res, err := svc.Backfill(ctx, weather.BackfillRequest{Latitude: 1, Longitude: 2})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08", res.Range.StartDate)
	assert.Equal(t, 30*24, res.RowsReturned)

	res, err = svc.Backfill(ctx, weather.BackfillRequest{
		Latitude: 1, Longitude: 2, StartDate: "2026-01-01", EndDate: "2026-01-01",
	})
	require.NoError(t, err)
	assert.Equal(t, 24, res.RowsReturned)
	assert.Equal(t, "2026-01-01", res.Range.EndDate)
}

func TestBackfill_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	for _, req := range []weather.BackfillRequest{
		{Days: 181},
		{Days: -1},
		{StartDate: "2026-02-01", EndDate: "2026-01-01"},
		{StartDate: "01/02/2026", EndDate: "2026-01-05"},
	} {
		_, err := svc.Backfill(ctx, req)
		assert.ErrorIs(t, err, weather.ErrInvalidArgument, "%+v", req)
	}
}

func TestSeries(t *testing.T) {
	ctx := context.Background()
	svc, _, s, _ := newTestService(t)

	_, err := svc.Collect(ctx, weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 6})
	require.NoError(t, err)

	// Drop one stored hour to create a gap.
	loc := weather.NewLocation(1, 2)
	rows, err := s.Query(ctx, loc)
	require.NoError(t, err)
	_, err = s.Purge(ctx, &loc)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, append(rows[:2:2], rows[3:]...))
	require.NoError(t, err)

	series, err := svc.Series(ctx, weather.SeriesRequest{Latitude: 1, Longitude: 2})
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", series.Timezone)
	assert.Len(t, series.Dense, 5)
	require.Len(t, series.Grid, 6)
	assert.True(t, series.Grid[2].Missing)
	require.NotNil(t, series.LagHours)
	assert.InDelta(t, 0.5, *series.LagHours, 1e-9)
}

func TestSeries_AsOf(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	_, err := svc.Collect(ctx, weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 6})
	require.NoError(t, err)

	asOf := time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC)
	series, err := svc.Series(ctx, weather.SeriesRequest{Latitude: 1, Longitude: 2, Timezone: "UTC", AsOf: asOf})
	require.NoError(t, err)
	require.Len(t, series.Dense, 3)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), series.Dense[2].Timestamp)
	assert.Len(t, series.Grid, 3)
	require.NotNil(t, series.LagHours)
	assert.InDelta(t, 0.75, *series.LagHours, 1e-9)

	series, err = svc.Series(ctx, weather.SeriesRequest{
		Latitude: 1, Longitude: 2, Timezone: "UTC", AsOf: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, series.Dense)
	assert.Nil(t, series.LastTS)
}

func TestSeries_TimezoneFallback(t *testing.T) {
	ctx := context.Background()
	svc, p, _, _ := newTestService(t)
	p.tzErr = errors.New("lookup failed")

	series, err := svc.Series(ctx, weather.SeriesRequest{Latitude: 1, Longitude: 2})
	require.NoError(t, err)
	assert.Equal(t, "UTC", series.Timezone)
	assert.Empty(t, series.Dense)
	assert.Nil(t, series.LastTS)

	_, err = svc.Series(ctx, weather.SeriesRequest{Latitude: 1, Longitude: 2, Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, weather.ErrInvalidArgument)
}

func TestLastObservation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	_, err := svc.LastObservation(ctx, 1, 2)
	assert.ErrorIs(t, err, weather.ErrNotFound)

	_, err = svc.Collect(ctx, weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 2})
	require.NoError(t, err)

	last, err := svc.LastObservation(ctx, 1.00001, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), last.LastTS)
	assert.Equal(t, 1.0, last.Lat)
	assert.InDelta(t, 0.5, last.LagHours, 1e-9, "lag follows the service clock")
}

func TestPurge_Scope(t *testing.T) {
	ctx := context.Background()
	svc, _, s, _ := newTestService(t)

	for _, lat := range []float64{1, 3} {
		_, err := svc.Collect(ctx, weather.CollectRequest{Latitude: lat, Longitude: 2, PastHours: 4})
		require.NoError(t, err)
	}

	n, err := svc.Purge(ctx, &weather.Location{Latitude: 1.00004, Longitude: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	other, err := s.Query(ctx, weather.NewLocation(3, 2))
	require.NoError(t, err)
	assert.Len(t, other, 4)

	n, err = svc.Purge(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func openDuckDBStore(t *testing.T) *store.DuckDB {
	t.Helper()
	d, err := store.OpenDuckDB(context.Background(), store.DuckDBConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCollectAndBackfill_DuckDB(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)}
	p := &fakeProvider{now: c.now, tz: "UTC"}
	d := openDuckDBStore(t)
	svc := weather.NewService(d, p, weather.WithClock(c.now))

	collect := weather.CollectRequest{Latitude: -23.55, Longitude: -46.63, PastHours: 6}
	first, err := svc.Collect(ctx, collect)
	require.NoError(t, err)
	assert.Equal(t, 6, first.InsertedRows)

	second, err := svc.Collect(ctx, collect)
	require.NoError(t, err)
	assert.Equal(t, 6, second.RowsReturned)
	assert.Zero(t, second.InsertedRows)

	rows, err := d.Query(ctx, weather.NewLocation(-23.55, -46.63))
	require.NoError(t, err)
	require.Len(t, rows, 6)
	for _, r := range rows {
		assert.False(t, r.Timestamp.After(c.t), "row %s is in the future", r.Timestamp)
	}

	backfill := weather.BackfillRequest{Latitude: -23.55, Longitude: -46.63, Days: 2}
	res, err := svc.Backfill(ctx, backfill)
	require.NoError(t, err)
	assert.Equal(t, 48, res.RowsReturned)
	assert.Equal(t, 48, res.InsertedRows)

	res, err = svc.Backfill(ctx, backfill)
	require.NoError(t, err)
	assert.Zero(t, res.InsertedRows)

	c.t = c.t.AddDate(0, 0, 1)
	res, err = svc.Backfill(ctx, backfill)
	require.NoError(t, err)
	assert.Equal(t, 24, res.InsertedRows)
}

func TestCollect_UnstorableCodesKeepTheBatch(t *testing.T) {
	raw := []byte(`{"hourly": {
		"time": ["2026-03-10T10:00", "2026-03-10T11:00", "2026-03-10T12:00"],
		"temperature_2m": [20, 21, 22],
		"weathercode": [3, 70000, 2.5]
	}}`)

	stores := map[string]func(*testing.T) weather.Store{
		"memory": func(*testing.T) weather.Store { return store.NewMemoryStore(weather.PolicyRow) },
		"duckdb": func(t *testing.T) weather.Store { return openDuckDBStore(t) },
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &clock{t: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)}
			s := open(t)
			svc := weather.NewService(s, &fakeProvider{now: c.now, raw: raw}, weather.WithClock(c.now))

			res, err := svc.Collect(ctx, weather.CollectRequest{Latitude: 1, Longitude: 2, PastHours: 3})
			require.NoError(t, err)
			assert.Equal(t, 3, res.InsertedRows)

			rows, err := s.Query(ctx, weather.NewLocation(1, 2))
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, 3.0, *rows[0].Value("weathercode"))
			assert.Nil(t, rows[1].Value("weathercode"))
			assert.Nil(t, rows[2].Value("weathercode"))
			assert.Equal(t, 22.0, *rows[2].Value("temperature_2m"))
		})
	}
}
