package common

import (
	"math"
	"time"
)

// RoundTo rounds v to the given number of decimal places (half away from zero).
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// FloorHour returns t converted to UTC and truncated to the start of its hour.
func FloorHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// MinMax returns the earliest and latest of ts. ok is false when ts is empty.
func MinMax(ts []time.Time) (first, last time.Time, ok bool) {
	if len(ts) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, last = ts[0], ts[0]
	for _, t := range ts[1:] {
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	return first, last, true
}
