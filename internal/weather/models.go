package weather

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/i474232898/weather-ingest/internal/common"
)

// CoordDecimals is the rounding applied to latitude and longitude. The
// rounded pair is the location identity (~11m precision).
const CoordDecimals = 4

// Location is a rounded coordinate pair.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// NewLocation rounds lat/lon to CoordDecimals.
func NewLocation(lat, lon float64) Location {
	return Location{
		Latitude:  common.RoundTo(lat, CoordDecimals),
		Longitude: common.RoundTo(lon, CoordDecimals),
	}
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return fmt.Sprintf("%.4f:%.4f", l.Latitude, l.Longitude)
}

// DedupPolicy selects how the upsert engine treats a new row whose
// (timestamp, location) key is already stored with different values.
type DedupPolicy string

const (
	// PolicyRow compares whole rows: a same-key row with different values is
	// stored alongside the existing one.
	PolicyRow DedupPolicy = "row"
	// PolicyKey replaces stored rows sharing the key of a new row.
	PolicyKey DedupPolicy = "key"
)

// Observation is one hourly reading for one rounded location. Values is
// positional against Variables; nil means the provider had no value.
type Observation struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Values    []*float64
}

// Location returns the observation's rounded location.
func (o Observation) Location() Location {
	return NewLocation(o.Latitude, o.Longitude)
}

// Value returns the value of a canonical variable, or nil.
func (o Observation) Value(name string) *float64 {
	i := VariableIndex(name)
	if i < 0 || i >= len(o.Values) {
		return nil
	}
	return o.Values[i]
}

// Equal reports whether every column matches, treating two nulls as equal.
func (o Observation) Equal(other Observation) bool {
	if !o.Timestamp.Equal(other.Timestamp) ||
		o.Latitude != other.Latitude ||
		o.Longitude != other.Longitude ||
		len(o.Values) != len(other.Values) {
		return false
	}
	for i := range o.Values {
		a, b := o.Values[i], other.Values[i]
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && *a != *b {
			return false
		}
	}
	return true
}

// SameKey reports whether both observations share (timestamp, location).
func (o Observation) SameKey(other Observation) bool {
	return o.Timestamp.Equal(other.Timestamp) &&
		o.Latitude == other.Latitude &&
		o.Longitude == other.Longitude
}

// Clone returns a deep copy so stored rows never alias caller memory.
func (o Observation) Clone() Observation {
	c := o
	c.Values = make([]*float64, len(o.Values))
	for i, v := range o.Values {
		if v != nil {
			x := *v
			c.Values[i] = &x
		}
	}
	return c
}

// MarshalJSON renders values keyed by variable name.
func (o Observation) MarshalJSON() ([]byte, error) {
	values := make(map[string]*float64, len(Variables))
	for i, v := range Variables {
		if i < len(o.Values) {
			values[v.Name] = o.Values[i]
		} else {
			values[v.Name] = nil
		}
	}
	return json.Marshal(struct {
		Timestamp time.Time           `json:"ts"`
		Latitude  float64             `json:"latitude"`
		Longitude float64             `json:"longitude"`
		Values    map[string]*float64 `json:"values"`
	}{
		Timestamp: o.Timestamp.UTC(),
		Latitude:  o.Latitude,
		Longitude: o.Longitude,
		Values:    values,
	})
}

// FetchMode identifies the retrieval path of an ingestion call.
type FetchMode string

const (
	ModeRecent  FetchMode = "recent"
	ModeHistory FetchMode = "history"
)

// DateRange is the inclusive archive date range used by a backfill.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// FetchResult summarises one ingestion call.
type FetchResult struct {
	FetchID      string     `json:"fetch_id"`
	Mode         FetchMode  `json:"mode"`
	InsertedRows int        `json:"inserted_rows"`
	RowsReturned int        `json:"rows_returned"`
	Lat          float64    `json:"lat"`
	Lon          float64    `json:"lon"`
	Timezone     string     `json:"timezone"`
	FirstTS      *time.Time `json:"first_ts_utc"`
	LastTS       *time.Time `json:"last_ts_utc"`
	Range        *DateRange `json:"range_used,omitempty"`
}
