package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/i474232898/weather-ingest/internal/common"
	"github.com/i474232898/weather-ingest/internal/logging"
	"github.com/i474232898/weather-ingest/internal/metrics"
)

const (
	dateLayout = "2006-01-02"

	// DefaultBackfillDays applies when neither days nor an explicit range is given.
	DefaultBackfillDays = 30
)

var validate = validator.New()

// CollectRequest asks for the last PastHours of observations.
type CollectRequest struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
	PastHours int     `validate:"gte=1,lte=168"`
}

// BackfillRequest asks for a historical range. StartDate and EndDate
// (YYYY-MM-DD) win when both are set; otherwise Days back from today.
type BackfillRequest struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
	Days      int     `validate:"gte=0,lte=180"`
	StartDate string
	EndDate   string
}

// SeriesRequest selects a location and the display time zone. An empty
// Timezone is resolved through the provider. AsOf bounds the series to the
// hours up to that instant; zero means now.
type SeriesRequest struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
	Timezone  string
	AsOf      time.Time
}

// Series is the read model served to the dashboard and the model.
type Series struct {
	Location Location      `json:"location"`
	Timezone string        `json:"timezone"`
	Dense    []Observation `json:"dense"`
	Grid     []GridPoint   `json:"grid"`
	LastTS   *time.Time    `json:"last_ts_utc"`
	LagHours *float64      `json:"lag_hours"`
}

// LastRecord is the newest stored hour for a location and how far behind
// the clock it is.
type LastRecord struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	LastTS   time.Time `json:"last_ts_utc"`
	LagHours float64   `json:"lag_hours"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for the future guard and date ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates provider fetches, normalization and the store.
type Service struct {
	store    Store
	provider Provider
	now      func() time.Time
}

// NewService creates a new Service.
func NewService(store Store, provider Provider, opts ...Option) *Service {
	s := &Service{
		store:    store,
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collect fetches the recent window for a location and persists the rows
// that are not in the future and not already stored.
func (s *Service) Collect(ctx context.Context, req CollectRequest) (FetchResult, error) {
	if err := validate.Struct(req); err != nil {
		return FetchResult{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	loc := NewLocation(req.Latitude, req.Longitude)
	cutoff := s.now().UTC()

	return s.ingest(ctx, ModeRecent, loc,
		func(ctx context.Context) ([]byte, error) {
			return s.provider.FetchRecent(ctx, loc, req.PastHours)
		},
		func(rows []Observation) []Observation {
			return dropAfter(rows, cutoff)
		},
	)
}

// Backfill fetches a historical range from the archive and persists new rows.
func (s *Service) Backfill(ctx context.Context, req BackfillRequest) (FetchResult, error) {
	if err := validate.Struct(req); err != nil {
		return FetchResult{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	start, end, err := s.resolveRange(req)
	if err != nil {
		return FetchResult{}, err
	}

	loc := NewLocation(req.Latitude, req.Longitude)
	res, err := s.ingest(ctx, ModeHistory, loc,
		func(ctx context.Context) ([]byte, error) {
			return s.provider.FetchArchive(ctx, loc, start, end)
		},
		nil,
	)
	res.Range = &DateRange{
		StartDate: start.Format(dateLayout),
		EndDate:   end.Format(dateLayout),
	}
	return res, err
}

func (s *Service) resolveRange(req BackfillRequest) (time.Time, time.Time, error) {
	if req.StartDate == "" || req.EndDate == "" {
		days := req.Days
		if days == 0 {
			days = DefaultBackfillDays
		}
		now := s.now().UTC()
		end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return end.AddDate(0, 0, -days), end, nil
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date: %v", ErrInvalidArgument, err)
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date: %v", ErrInvalidArgument, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date %s is before start_date %s",
			ErrInvalidArgument, req.EndDate, req.StartDate)
	}
	return start, end, nil
}

// ingest runs ensure schema, fetch, normalize, filter and upsert in order.
// The upsert is the only write.
func (s *Service) ingest(
	ctx context.Context,
	mode FetchMode,
	loc Location,
	fetch func(context.Context) ([]byte, error),
	filter func([]Observation) []Observation,
) (res FetchResult, err error) {
	res = FetchResult{
		FetchID:  uuid.NewString(),
		Mode:     mode,
		Lat:      loc.Latitude,
		Lon:      loc.Longitude,
		Timezone: "UTC",
	}

	started := time.Now()
	logger := logging.With().
		Str("fetch_id", res.FetchID).
		Str("mode", string(mode)).
		Str("location", loc.Key()).
		Logger()

	defer func() {
		metrics.RecordFetch(string(mode), err, time.Since(started), res.RowsReturned, res.InsertedRows)
		if err != nil {
			logger.Error().Err(err).Msg("fetch failed")
			return
		}
		logger.Info().
			Int("rows_returned", res.RowsReturned).
			Int("inserted_rows", res.InsertedRows).
			Dur("elapsed", time.Since(started)).
			Msg("fetch completed")
	}()

	if err = s.store.EnsureSchema(ctx); err != nil {
		return res, fmt.Errorf("ensure schema: %w", err)
	}

	raw, err := fetch(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch %s window from %s: %w", mode, s.provider.Name(), err)
	}

	rows, err := Normalize(raw, loc.Latitude, loc.Longitude)
	if err != nil {
		return res, fmt.Errorf("normalize payload: %w", err)
	}
	if filter != nil {
		rows = filter(rows)
	}

	res.RowsReturned = len(rows)
	if len(rows) > 0 {
		ts := make([]time.Time, len(rows))
		for i, r := range rows {
			ts[i] = r.Timestamp
		}
		first, last, _ := common.MinMax(ts)
		res.FirstTS, res.LastTS = &first, &last
	}

	if len(rows) == 0 {
		return res, nil
	}

	inserted, err := s.store.Upsert(ctx, rows)
	if err != nil {
		return res, fmt.Errorf("upsert observations: %w", err)
	}
	res.InsertedRows = inserted
	return res, nil
}

// dropAfter keeps rows whose timestamp is not later than cutoff.
func dropAfter(rows []Observation, cutoff time.Time) []Observation {
	kept := make([]Observation, 0, len(rows))
	for _, r := range rows {
		if !r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}

// Series returns the hourly series for a location: a dense UTC series for
// feature computation and a gap-explicit grid in the requested zone.
func (s *Service) Series(ctx context.Context, req SeriesRequest) (Series, error) {
	if err := validate.Struct(req); err != nil {
		return Series{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	loc := NewLocation(req.Latitude, req.Longitude)

	tzName := req.Timezone
	if tzName == "" {
		tzName = s.resolveTimezone(ctx, loc)
	}
	zone, err := time.LoadLocation(tzName)
	if err != nil {
		return Series{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalidArgument, tzName, err)
	}

	if err := s.store.EnsureSchema(ctx); err != nil {
		return Series{}, fmt.Errorf("ensure schema: %w", err)
	}
	rows, err := s.store.Query(ctx, loc)
	if err != nil {
		return Series{}, fmt.Errorf("query observations: %w", err)
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()

	dense := dropAfter(CollapseHourly(rows), common.FloorHour(asOf))
	series := Series{
		Location: loc,
		Timezone: tzName,
		Dense:    dense,
		Grid:     Resample(dense, zone),
	}
	if len(dense) > 0 {
		last := dense[len(dense)-1].Timestamp
		lag := asOf.Sub(last).Hours()
		series.LastTS, series.LagHours = &last, &lag
	}
	return series, nil
}

// resolveTimezone asks the provider for the location's zone, falling back to UTC.
func (s *Service) resolveTimezone(ctx context.Context, loc Location) string {
	tz, err := s.provider.Timezone(ctx, loc)
	if err != nil || tz == "" {
		logging.Warn().Err(err).Str("location", loc.Key()).Msg("timezone lookup failed; using UTC")
		return "UTC"
	}
	return tz
}

// LastObservation returns the newest stored timestamp for a location and its
// lag behind the service clock.
func (s *Service) LastObservation(ctx context.Context, lat, lon float64) (LastRecord, error) {
	loc := NewLocation(lat, lon)
	if err := s.store.EnsureSchema(ctx); err != nil {
		return LastRecord{}, fmt.Errorf("ensure schema: %w", err)
	}
	ts, err := s.store.LastTimestamp(ctx, loc)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LastRecord{}, err
		}
		return LastRecord{}, fmt.Errorf("last observation: %w", err)
	}
	return LastRecord{
		Lat:      loc.Latitude,
		Lon:      loc.Longitude,
		LastTS:   ts,
		LagHours: s.now().UTC().Sub(ts).Hours(),
	}, nil
}

// Purge removes raw observations for one rounded location, or all of them
// when loc is nil. Derived artifacts are never touched.
func (s *Service) Purge(ctx context.Context, loc *Location) (int, error) {
	if loc != nil {
		rounded := NewLocation(loc.Latitude, loc.Longitude)
		loc = &rounded
	}
	if err := s.store.EnsureSchema(ctx); err != nil {
		return 0, fmt.Errorf("ensure schema: %w", err)
	}

	n, err := s.store.Purge(ctx, loc)
	if err != nil {
		return 0, fmt.Errorf("purge observations: %w", err)
	}
	metrics.RowsPurged.Add(float64(n))

	scope := "all"
	if loc != nil {
		scope = loc.Key()
	}
	logging.Info().Str("scope", scope).Int("deleted_rows", n).Msg("observations purged")
	return n, nil
}
