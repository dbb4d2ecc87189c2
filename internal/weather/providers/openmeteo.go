package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/i474232898/weather-ingest/internal/weather"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"

	archiveDateLayout = "2006-01-02"
)

// OpenMeteoConfig configures the Open-Meteo provider. Zero values take the
// documented defaults.
type OpenMeteoConfig struct {
	ForecastURL     string
	ArchiveURL      string
	APIKey          string
	ForecastHours   int
	RecentTimeout   time.Duration
	HistoryTimeout  time.Duration
	TimezoneTimeout time.Duration
	HTTP            HTTPClientConfig
}

func (c *OpenMeteoConfig) setDefaults() {
	if c.ForecastURL == "" {
		c.ForecastURL = DefaultForecastURL
	}
	if c.ArchiveURL == "" {
		c.ArchiveURL = DefaultArchiveURL
	}
	if c.ForecastHours <= 0 {
		c.ForecastHours = 48
	}
	if c.RecentTimeout <= 0 {
		c.RecentTimeout = 30 * time.Second
	}
	if c.HistoryTimeout <= 0 {
		c.HistoryTimeout = 60 * time.Second
	}
	if c.TimezoneTimeout <= 0 {
		c.TimezoneTimeout = 10 * time.Second
	}
	if c.HTTP.Client == nil {
		c.HTTP.Client = &http.Client{}
	}
}

// OpenMeteoProvider implements weather.Provider against the Open-Meteo
// forecast and archive APIs.
type OpenMeteoProvider struct {
	name   string
	cfg    OpenMeteoConfig
	client *client
}

var _ weather.Provider = (*OpenMeteoProvider)(nil)

// NewOpenMeteoProvider builds a provider from cfg. Empty URLs, zero hour
// counts and zero timeouts fall back to the package defaults.
func NewOpenMeteoProvider(cfg OpenMeteoConfig) *OpenMeteoProvider {
	cfg.setDefaults()
	return &OpenMeteoProvider{
		name:   "openmeteo",
		cfg:    cfg,
		client: newClient("openmeteo", cfg.HTTP),
	}
}

// Name identifies the provider in logs and errors.
func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) baseParams(loc weather.Location) url.Values {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	if p.cfg.APIKey != "" {
		values.Set("apikey", p.cfg.APIKey)
	}
	return values
}

// FetchRecent requests the forecast endpoint with past_hours of history and
// the configured forecast lead, all in UTC.
func (p *OpenMeteoProvider) FetchRecent(ctx context.Context, loc weather.Location, pastHours int) ([]byte, error) {
	values := p.baseParams(loc)
	values.Set("hourly", strings.Join(weather.VariableNames(), ","))
	values.Set("past_hours", strconv.Itoa(pastHours))
	values.Set("forecast_hours", strconv.Itoa(p.cfg.ForecastHours))
	values.Set("timezone", "UTC")

	return p.client.get(ctx, p.cfg.ForecastURL+"?"+values.Encode(), p.cfg.RecentTimeout)
}

// FetchArchive requests the archive endpoint for the inclusive date range.
func (p *OpenMeteoProvider) FetchArchive(ctx context.Context, loc weather.Location, start, end time.Time) ([]byte, error) {
	values := p.baseParams(loc)
	values.Set("start_date", start.Format(archiveDateLayout))
	values.Set("end_date", end.Format(archiveDateLayout))
	values.Set("hourly", strings.Join(weather.VariableNames(), ","))
	values.Set("timezone", "UTC")

	return p.client.get(ctx, p.cfg.ArchiveURL+"?"+values.Encode(), p.cfg.HistoryTimeout)
}

// Timezone asks the forecast endpoint to resolve the zone of a location.
func (p *OpenMeteoProvider) Timezone(ctx context.Context, loc weather.Location) (string, error) {
	values := p.baseParams(loc)
	values.Set("current_weather", "true")
	values.Set("timezone", "auto")

	body, err := p.client.get(ctx, p.cfg.ForecastURL+"?"+values.Encode(), p.cfg.TimezoneTimeout)
	if err != nil {
		return "", err
	}

	var payload struct {
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", weather.ErrMalformedPayload, err)
	}
	if payload.Timezone == "" {
		return "UTC", nil
	}
	return payload.Timezone, nil
}
