package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-ingest/internal/weather"
)

// Target is one configured poll location, either coordinates ("lat,lon")
// or a place name ("City|Country") that still needs geocoding.
type Target struct {
	Coords  *weather.Location
	City    string
	Country string
}

func (t Target) String() string {
	if t.Coords != nil {
		return t.Coords.Key()
	}
	return t.City + "|" + t.Country
}

// ParseTargets parses raw target strings. Blank entries are skipped.
func ParseTargets(raw []string) ([]Target, error) {
	var targets []Target
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		t, err := parseTarget(r)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func parseTarget(r string) (Target, error) {
	if city, country, ok := strings.Cut(r, "|"); ok {
		city, country = strings.TrimSpace(city), strings.TrimSpace(country)
		if city == "" || country == "" {
			return Target{}, fmt.Errorf("invalid target %q: want City|Country", r)
		}
		return Target{City: city, Country: country}, nil
	}

	latStr, lonStr, ok := strings.Cut(r, ",")
	if !ok {
		return Target{}, fmt.Errorf("invalid target %q: want lat,lon or City|Country", r)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return Target{}, fmt.Errorf("invalid latitude in target %q", r)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil || lon < -180 || lon > 180 {
		return Target{}, fmt.Errorf("invalid longitude in target %q", r)
	}
	loc := weather.NewLocation(lat, lon)
	return Target{Coords: &loc}, nil
}

// GeocodeFunc resolves a place name to coordinates.
type GeocodeFunc func(city, country string) (weather.Location, error)

// GoogleGeocoder returns a GeocodeFunc backed by the Google Geocoding API.
func GoogleGeocoder(apiKey string) GeocodeFunc {
	geocoder.ApiKey = apiKey
	return func(city, country string) (weather.Location, error) {
		loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
		if err != nil {
			return weather.Location{}, fmt.Errorf("geocode %s|%s: %w", city, country, err)
		}
		return weather.NewLocation(loc.Latitude, loc.Longitude), nil
	}
}

// ResolveTargets turns targets into rounded locations, geocoding place names
// and dropping duplicates. Place names need a non-nil geocode.
func ResolveTargets(targets []Target, geocode GeocodeFunc) ([]weather.Location, error) {
	seen := make(map[string]bool)
	var locs []weather.Location
	for _, t := range targets {
		var loc weather.Location
		switch {
		case t.Coords != nil:
			loc = *t.Coords
		case geocode == nil:
			return nil, fmt.Errorf("target %s needs a geocoder API key", t)
		default:
			var err error
			if loc, err = geocode(t.City, t.Country); err != nil {
				return nil, err
			}
		}
		if seen[loc.Key()] {
			continue
		}
		seen[loc.Key()] = true
		locs = append(locs, loc)
	}
	return locs, nil
}
