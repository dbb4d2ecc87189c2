package weather

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/i474232898/weather-ingest/internal/common"
)

// payload is the subset of an Open-Meteo response the normalizer reads.
// Hourly stays raw so every field can fail independently.
type payload struct {
	Timezone         string                     `json:"timezone"`
	UTCOffsetSeconds int                        `json:"utc_offset_seconds"`
	Hourly           map[string]json.RawMessage `json:"hourly"`
}

// zone-less layouts are interpreted in the payload's UTC offset.
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalize maps a raw provider document into canonical rows for the given
// coordinates. Rows come out in payload order with timestamps in UTC floored
// to the hour, coordinates rounded to CoordDecimals, and one positional
// value per catalog variable.
//
// A missing time axis yields zero rows. Missing, misaligned or non-numeric
// variable arrays become nulls. An unparseable timestamp fails the call.
func Normalize(raw []byte, lat, lon float64) ([]Observation, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	timeRaw, ok := p.Hourly["time"]
	if !ok || isNull(timeRaw) {
		return nil, nil
	}

	times, err := parseTimeAxis(timeRaw, offsetZone(p))
	if err != nil {
		return nil, err
	}
	n := len(times)
	if n == 0 {
		return nil, nil
	}

	columns := make([][]*float64, len(Variables))
	for i, v := range Variables {
		columns[i] = resolveColumn(p.Hourly, v, n)
	}

	loc := NewLocation(lat, lon)
	rows := make([]Observation, n)
	for r := 0; r < n; r++ {
		values := make([]*float64, len(Variables))
		for c := range Variables {
			values[c] = columns[c][r]
		}
		rows[r] = Observation{
			Timestamp: times[r],
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Values:    values,
		}
	}
	return rows, nil
}

func offsetZone(p payload) *time.Location {
	if p.UTCOffsetSeconds == 0 {
		return time.UTC
	}
	return time.FixedZone(p.Timezone, p.UTCOffsetSeconds)
}

func parseTimeAxis(raw json.RawMessage, zone *time.Location) ([]time.Time, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: time axis is not an array: %v", ErrTimestampParse, err)
	}

	times := make([]time.Time, len(entries))
	for i, e := range entries {
		t, err := parseTimestamp(e, zone)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrTimestampParse, i, err)
		}
		times[i] = common.FloorHour(t)
	}
	return times, nil
}

// parseTimestamp accepts ISO strings (with or without zone) and unix seconds.
func parseTimestamp(raw json.RawMessage, zone *time.Location) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		for _, layout := range localLayouts {
			if t, err := time.ParseInLocation(layout, s, zone); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}

	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %s", raw)
	}
	return time.Unix(secs, 0), nil
}

// resolveColumn tries the canonical key then each alias. The first key
// holding a non-empty array wins; a length mismatch nulls the whole column
// and values the variable does not accept become nulls.
func resolveColumn(hourly map[string]json.RawMessage, v Variable, n int) []*float64 {
	for _, key := range v.SourceNames() {
		raw, ok := hourly[key]
		if !ok || isNull(raw) {
			continue
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
			continue
		}
		if len(elems) != n {
			break
		}
		col := make([]*float64, n)
		for i, e := range elems {
			if val := parseNumber(e); val != nil && v.Accepts(*val) {
				col[i] = val
			}
		}
		return col
	}
	return make([]*float64, n)
}

func parseNumber(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) || len(raw) == 0 {
		return nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return nil
	}
	return &f
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
