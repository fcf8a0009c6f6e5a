package gaps

import (
	"time"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

// DefaultChunkBuckets caps a single planned range at one exchange page, so
// each chunk resolves in a single request under the default page limit.
const DefaultChunkBuckets = 1000

// Planner turns detected gaps into bounded extraction ranges. Chunks for a
// symbol are ordered oldest first so a partially completed backfill always
// leaves a contiguous prefix of history behind it.
type Planner struct {
	// MaxChunkBuckets is the largest number of interval buckets a planned
	// range may span. Zero or negative applies DefaultChunkBuckets.
	MaxChunkBuckets int
}

// Plan expands each gap into one or more extraction ranges no wider than the
// chunk cap, preserving gap order.
func (p Planner) Plan(symbol string, interval models.Interval, gaps []models.GapInterval) []models.ExtractionRange {
	chunk := p.MaxChunkBuckets
	if chunk <= 0 {
		chunk = DefaultChunkBuckets
	}
	span := time.Duration(chunk) * interval.Duration()

	var ranges []models.ExtractionRange
	for _, g := range gaps {
		for start := g.Start; start.Before(g.End); start = start.Add(span) {
			end := start.Add(span)
			if end.After(g.End) {
				end = g.End
			}
			ranges = append(ranges, models.ExtractionRange{
				Symbol:   symbol,
				Interval: interval,
				Start:    start,
				End:      end,
			})
		}
	}
	return ranges
}
