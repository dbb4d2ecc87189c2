package weather

import (
	"sort"
	"time"

	"github.com/i474232898/weather-ingest/internal/common"
)

// CollapseHourly merges rows into one observation per UTC hour, ordered
// ascending. Continuous variables are averaged over their non-null values;
// categorical variables take the majority value (earliest seen on a tie).
// Stored rows are hour-aligned already, so this only matters when the
// store holds more than one row for a key.
func CollapseHourly(rows []Observation) []Observation {
	if len(rows) == 0 {
		return nil
	}

	buckets := make(map[time.Time][]Observation)
	for _, r := range rows {
		h := common.FloorHour(r.Timestamp)
		buckets[h] = append(buckets[h], r)
	}

	hours := make([]time.Time, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	out := make([]Observation, 0, len(hours))
	for _, h := range hours {
		out = append(out, aggregateHour(h, buckets[h]))
	}
	return out
}

func aggregateHour(hour time.Time, rows []Observation) Observation {
	agg := Observation{
		Timestamp: hour,
		Latitude:  rows[0].Latitude,
		Longitude: rows[0].Longitude,
		Values:    make([]*float64, len(Variables)),
	}

	for i, v := range Variables {
		switch v.Kind {
		case Categorical:
			agg.Values[i] = majority(rows, i)
		default:
			agg.Values[i] = mean(rows, i)
		}
	}
	return agg
}

func mean(rows []Observation, idx int) *float64 {
	var sum float64
	var n int
	for _, r := range rows {
		if idx < len(r.Values) && r.Values[idx] != nil {
			sum += *r.Values[idx]
			n++
		}
	}
	if n == 0 {
		return nil
	}
	m := sum / float64(n)
	return &m
}

func majority(rows []Observation, idx int) *float64 {
	counts := make(map[float64]int)
	var order []float64
	for _, r := range rows {
		if idx >= len(r.Values) || r.Values[idx] == nil {
			continue
		}
		v := *r.Values[idx]
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	if len(order) == 0 {
		return nil
	}

	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return &best
}

// GridPoint is one slot of a gap-explicit hourly series.
type GridPoint struct {
	Time    time.Time           `json:"ts_local"`
	Missing bool                `json:"missing"`
	Values  map[string]*float64 `json:"values"`
}

// Resample places hourly points on a fixed one-hour grid spanning the first
// to the last point, rendered in zone. Hours without data appear with
// Missing set and null values; nothing is interpolated. points must be the
// output of CollapseHourly.
func Resample(points []Observation, zone *time.Location) []GridPoint {
	if len(points) == 0 {
		return nil
	}
	if zone == nil {
		zone = time.UTC
	}

	byHour := make(map[time.Time]Observation, len(points))
	for _, p := range points {
		byHour[common.FloorHour(p.Timestamp)] = p
	}

	first := common.FloorHour(points[0].Timestamp)
	last := common.FloorHour(points[len(points)-1].Timestamp)

	grid := make([]GridPoint, 0, int(last.Sub(first)/time.Hour)+1)
	for t := first; !t.After(last); t = t.Add(time.Hour) {
		gp := GridPoint{
			Time:   t.In(zone),
			Values: make(map[string]*float64, len(Variables)),
		}
		p, ok := byHour[t]
		gp.Missing = !ok
		for i, v := range Variables {
			if ok && i < len(p.Values) {
				gp.Values[v.Name] = p.Values[i]
			} else {
				gp.Values[v.Name] = nil
			}
		}
		grid = append(grid, gp)
	}
	return grid
}
