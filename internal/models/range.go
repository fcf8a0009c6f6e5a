package models

import (
	"fmt"
	"time"
)

// ExtractionRange is one unit of fetch work: a symbol, an interval, and a
// half-open [Start, End) time range. Ranges come from either the incremental
// continue-from-last-known logic or from gap detection.
type ExtractionRange struct {
	Symbol   string
	Interval Interval
	Start    time.Time
	End      time.Time
}

// Validate checks that the range is well formed and boundary-aligned.
func (r ExtractionRange) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if !r.Interval.Valid() {
		return &ValidationError{Field: "interval", Message: fmt.Sprintf("unsupported interval %q", r.Interval)}
	}
	if r.End.Before(r.Start) {
		return &ValidationError{Field: "end", Message: "end cannot be before start"}
	}
	return nil
}

// Buckets returns the number of expected candle buckets inside the range.
func (r ExtractionRange) Buckets() int {
	return int(r.End.Sub(r.Start) / r.Interval.Duration())
}

func (r ExtractionRange) String() string {
	return fmt.Sprintf("%s/%s [%s, %s)", r.Symbol, r.Interval,
		r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// GapInterval is a half-open [Start, End) range where candles are expected
// but absent from storage. Gaps are computed on demand and never persisted.
type GapInterval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the width of the gap.
func (g GapInterval) Duration() time.Duration {
	return g.End.Sub(g.Start)
}

func (g GapInterval) String() string {
	return fmt.Sprintf("[%s, %s)", g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339))
}
