// Package gaps finds missing candle buckets in stored history and plans the
// fetch ranges that fill them.
package gaps

import (
	"context"
	"log/slog"
	"time"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/storage"
)

// Detector compares the expected bucket grid of a range against what the
// storage backend actually holds and reports the missing stretches.
type Detector struct {
	storage storage.Adapter
	logger  *slog.Logger

	// maxGapAge drops gaps that end before now-maxGapAge. Zero means no
	// age cutoff.
	maxGapAge time.Duration

	now func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithMaxGapAge sets the oldest gap the detector will report. Gaps that lie
// entirely beyond the cutoff are logged and skipped.
func WithMaxGapAge(age time.Duration) DetectorOption {
	return func(d *Detector) { d.maxGapAge = age }
}

// NewDetector creates a detector over the given storage backend.
func NewDetector(store storage.Adapter, logger *slog.Logger, opts ...DetectorOption) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		storage: store,
		logger:  logger.With("component", "gap_detector"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect scans [r.Start, r.End) and returns the maximal contiguous runs of
// missing buckets, ordered oldest first. An empty range yields no gaps; a
// range with no stored data yields a single gap covering all of it.
func (d *Detector) Detect(ctx context.Context, r models.ExtractionRange) ([]models.GapInterval, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !r.Start.Before(r.End) {
		return nil, nil
	}

	existing, err := d.storage.ExistingTimes(ctx, r.Symbol, r.Interval, r.Start, r.End)
	if err != nil {
		return nil, err
	}

	gaps := missingRuns(r, existing)
	gaps = d.filterByAge(r, gaps)

	d.logger.Debug("gap scan complete",
		"symbol", r.Symbol,
		"interval", r.Interval,
		"start", r.Start,
		"end", r.End,
		"stored", len(existing),
		"gaps", len(gaps))
	return gaps, nil
}

// missingRuns walks the expected grid alongside the sorted stored times and
// collapses consecutive missing buckets into single intervals.
func missingRuns(r models.ExtractionRange, existing []time.Time) []models.GapInterval {
	step := r.Interval.Duration()
	var gaps []models.GapInterval
	var open *models.GapInterval

	i := 0
	for t := r.Start; t.Before(r.End); t = t.Add(step) {
		for i < len(existing) && existing[i].Before(t) {
			i++
		}
		present := i < len(existing) && existing[i].Equal(t)
		switch {
		case present:
			if open != nil {
				gaps = append(gaps, *open)
				open = nil
			}
			i++
		case open == nil:
			open = &models.GapInterval{Start: t, End: t.Add(step)}
		default:
			open.End = t.Add(step)
		}
	}
	if open != nil {
		gaps = append(gaps, *open)
	}
	return gaps
}

func (d *Detector) filterByAge(r models.ExtractionRange, gaps []models.GapInterval) []models.GapInterval {
	if d.maxGapAge <= 0 {
		return gaps
	}
	cutoff := d.now().Add(-d.maxGapAge)
	kept := gaps[:0]
	for _, g := range gaps {
		if g.End.Before(cutoff) || g.End.Equal(cutoff) {
			d.logger.Info("skipping gap beyond age cutoff",
				"symbol", r.Symbol,
				"interval", r.Interval,
				"gap", g.String(),
				"cutoff", cutoff)
			continue
		}
		kept = append(kept, g)
	}
	return kept
}
