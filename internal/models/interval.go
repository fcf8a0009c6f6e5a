package models

import (
	"fmt"
	"time"
)

// Interval is a fixed candle bucket width. The set matches the resolutions
// the exchange serves for klines, one minute through one month.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval2h:  2 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval6h:  6 * time.Hour,
	Interval8h:  8 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval3d:  3 * 24 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
	// Calendar months vary; 30 days is how the exchange buckets them for
	// pagination purposes, and alignment checks treat 1M as day-aligned.
	Interval1M: 30 * 24 * time.Hour,
}

// ParseInterval validates a resolution string and returns the typed Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}

// Duration returns the bucket width of the interval.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Valid reports whether the interval is one of the supported resolutions.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Truncate floors t to the interval boundary at or before t.
func (i Interval) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(i.Duration())
}

// Aligned reports whether t falls exactly on a bucket boundary.
func (i Interval) Aligned(t time.Time) bool {
	return i.Truncate(t).Equal(t.UTC())
}

func (i Interval) String() string {
	return string(i)
}
