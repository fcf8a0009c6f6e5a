// Package extractor orchestrates scheduled incremental extraction: it
// resolves the range each symbol needs, runs fetch, validate and write per
// chunk, and isolates failures so one bad symbol never stalls the rest.
package extractor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/binance"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/events"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/gaps"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/storage"
)

// Fetcher is the exchange surface the orchestrator needs. *binance.Client
// satisfies it; tests substitute a fake.
type Fetcher interface {
	FetchKlineRange(ctx context.Context, r models.ExtractionRange) ([]json.RawMessage, error)
	FetchFundingRange(ctx context.Context, symbol string, start, end time.Time) ([]json.RawMessage, error)
	FetchTradeRange(ctx context.Context, symbol string, start, end time.Time) ([]json.RawMessage, error)
}

// Config controls a run. Zero values take the documented defaults.
type Config struct {
	Interval models.Interval
	Symbols  []string

	// Workers bounds concurrent symbol extractions. Default 4.
	Workers int

	// OverlapBuckets is how many already-stored buckets each incremental
	// range re-fetches, so a revision of the most recent candles is always
	// picked up. Zero applies the default of 2; any negative value disables
	// the overlap, resuming exactly at the last known time.
	OverlapBuckets int

	// Lookback is the horizon used when a symbol has no stored data, and
	// the scan width for backfill runs. Default 30 days.
	Lookback time.Duration

	// Deadline, when positive, is the soft run budget: a symbol finishes
	// its current chunk when the budget expires and marks the rest
	// incomplete. Zero means unbounded.
	Deadline time.Duration

	// ChunkBuckets caps one fetch chunk. Default gaps.DefaultChunkBuckets.
	ChunkBuckets int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.OverlapBuckets == 0 {
		c.OverlapBuckets = 2
	} else if c.OverlapBuckets < 0 {
		c.OverlapBuckets = 0
	}
	if c.Lookback <= 0 {
		c.Lookback = 30 * 24 * time.Hour
	}
}

// Orchestrator runs extraction cycles against one storage backend.
type Orchestrator struct {
	client    Fetcher
	storage   storage.Adapter
	detector  *gaps.Detector
	planner   gaps.Planner
	publisher events.Publisher
	logger    *slog.Logger
	cfg       Config

	now func() time.Time
}

// New wires an orchestrator. publisher may be nil; completion events are
// then skipped entirely.
func New(client Fetcher, store storage.Adapter, detector *gaps.Detector, publisher events.Publisher, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:    client,
		storage:   store,
		detector:  detector,
		planner:   gaps.Planner{MaxChunkBuckets: cfg.ChunkBuckets},
		publisher: publisher,
		logger:    logger.With("component", "orchestrator"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run performs one incremental extraction cycle over the configured symbols
// and returns the per-symbol outcomes. The returned error covers only setup
// failures; symbol failures live in the summary.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	return o.run(ctx, o.incrementalRanges)
}

// Backfill scans the lookback window of every symbol for holes and fills
// them oldest first.
func (o *Orchestrator) Backfill(ctx context.Context) (*RunSummary, error) {
	return o.run(ctx, o.gapRanges)
}

// rangePlanner resolves the chunks a symbol needs this run. A nil slice with
// nil error means the symbol is already up to date.
type rangePlanner func(ctx context.Context, symbol string) ([]models.ExtractionRange, error)

func (o *Orchestrator) run(ctx context.Context, plan rangePlanner) (*RunSummary, error) {
	runID := uuid.NewString()
	started := o.now()

	var deadline time.Time
	if o.cfg.Deadline > 0 {
		deadline = started.Add(o.cfg.Deadline)
	}

	o.logger.Info("extraction run starting",
		"run", runID,
		"interval", o.cfg.Interval,
		"symbols", len(o.cfg.Symbols),
		"workers", o.cfg.Workers)

	results := make([]SymbolResult, len(o.cfg.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, symbol := range o.cfg.Symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = o.extractSymbol(gctx, runID, symbol, plan, deadline)
			return nil
		})
	}
	// Workers never return errors; Wait only fences completion.
	_ = g.Wait()

	summary := &RunSummary{
		RunID:    runID,
		Interval: o.cfg.Interval,
		Results:  results,
		Duration: o.now().Sub(started),
	}

	o.logger.Info("extraction run finished",
		"run", runID,
		"succeeded", summary.Succeeded(),
		"failed", summary.Failed(),
		"written", summary.TotalWritten(),
		"duration", summary.Duration)

	o.publishRun(ctx, summary)
	return summary, nil
}

// extractSymbol drives one symbol through its chunks. It never returns an
// error: every failure lands in the result and the caller's other symbols
// keep going.
func (o *Orchestrator) extractSymbol(ctx context.Context, runID, symbol string, plan rangePlanner, deadline time.Time) SymbolResult {
	started := o.now()
	res := SymbolResult{Symbol: symbol, Interval: o.cfg.Interval, State: StatePending}
	log := o.logger.With("run", runID, "symbol", symbol)

	defer func() {
		res.Duration = o.now().Sub(started)
		o.publishSymbol(ctx, runID, res)
	}()

	chunks, err := plan(ctx, symbol)
	if err != nil {
		log.Error("range resolution failed", "error", err)
		res.State, res.Err = StateFailed, err
		return res
	}
	if len(chunks) == 0 {
		log.Debug("symbol up to date")
		res.State = StateSuccess
		return res
	}
	res.Start = chunks[0].Start
	res.End = chunks[len(chunks)-1].End
	res.Gaps = len(chunks)

	session, err := o.storage.Session(ctx)
	if err != nil {
		log.Error("storage session failed", "error", err)
		res.State, res.Err = StateFailed, err
		return res
	}

	for _, chunk := range chunks {
		if !deadline.IsZero() && o.now().After(deadline) {
			log.Warn("run deadline reached, leaving remaining chunks for next run",
				"next_chunk", chunk.String())
			res.State = StateIncomplete
			return res
		}
		fetched, written, dropped, err := o.processChunk(ctx, log, session, chunk, &res)
		res.Fetched += fetched
		res.Written += written
		res.Dropped += dropped
		if err != nil {
			log.Error("chunk failed", "chunk", chunk.String(), "error", err)
			res.State, res.Err = StateFailed, err
			return res
		}
	}
	res.State = StateSuccess
	log.Info("symbol complete",
		"fetched", res.Fetched, "written", res.Written, "dropped", res.Dropped)
	return res
}

// processChunk runs one chunk through fetch, validate and write. Malformed
// rows are dropped and counted; only transport and storage errors fail the
// chunk.
func (o *Orchestrator) processChunk(ctx context.Context, log *slog.Logger, session storage.Adapter, chunk models.ExtractionRange, res *SymbolResult) (fetched, written, dropped int, err error) {
	res.State = StateFetching
	raw, err := o.client.FetchKlineRange(ctx, chunk)
	if err != nil {
		return 0, 0, 0, err
	}

	res.State = StateValidating
	candles := make([]models.Candle, 0, len(raw))
	for _, row := range raw {
		c, perr := binance.ParseCandle(row, chunk.Symbol, chunk.Interval)
		if perr != nil {
			log.Warn("dropping malformed candle", "error", perr)
			dropped++
			continue
		}
		candles = append(candles, *c)
	}

	res.State = StateWriting
	written, err = session.WriteCandles(ctx, candles)
	if err != nil {
		return len(raw), written, dropped, err
	}
	return len(raw), written, dropped, nil
}

// incrementalRanges resolves the catch-up range for one symbol: from last
// known time minus the safety overlap (or the lookback horizon on first
// contact) up to the most recent closed bucket.
func (o *Orchestrator) incrementalRanges(ctx context.Context, symbol string) ([]models.ExtractionRange, error) {
	step := o.cfg.Interval.Duration()
	end := o.cfg.Interval.Truncate(o.now().UTC())

	var start time.Time
	last, ok, err := o.storage.LastKnownTime(ctx, symbol, o.cfg.Interval)
	if err != nil {
		return nil, err
	}
	if ok {
		start = last.Add(-time.Duration(o.cfg.OverlapBuckets) * step)
	} else {
		start = o.cfg.Interval.Truncate(end.Add(-o.cfg.Lookback))
	}
	if !start.Before(end) {
		return nil, nil
	}

	full := models.GapInterval{Start: start, End: end}
	return o.planner.Plan(symbol, o.cfg.Interval, []models.GapInterval{full}), nil
}

// gapRanges scans the lookback window for missing buckets and plans chunks
// to fill them.
func (o *Orchestrator) gapRanges(ctx context.Context, symbol string) ([]models.ExtractionRange, error) {
	end := o.cfg.Interval.Truncate(o.now().UTC())
	start := o.cfg.Interval.Truncate(end.Add(-o.cfg.Lookback))

	found, err := o.detector.Detect(ctx, models.ExtractionRange{
		Symbol:   symbol,
		Interval: o.cfg.Interval,
		Start:    start,
		End:      end,
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return o.planner.Plan(symbol, o.cfg.Interval, found), nil
}

func (o *Orchestrator) publishSymbol(ctx context.Context, runID string, res SymbolResult) {
	if o.publisher == nil {
		return
	}
	event := events.SymbolCompleted{
		Symbol:        res.Symbol,
		Interval:      res.Interval.String(),
		Start:         res.Start,
		End:           res.End,
		Fetched:       res.Fetched,
		Written:       res.Written,
		Dropped:       res.Dropped,
		Success:       res.State == StateSuccess,
		Duration:      res.Duration.String(),
		CompletedAt:   o.now().UTC(),
		ExtractionRun: runID,
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	if err := o.publisher.PublishSymbol(ctx, event); err != nil {
		o.logger.Warn("symbol event publish failed", "symbol", res.Symbol, "error", err)
	}
}

func (o *Orchestrator) publishRun(ctx context.Context, summary *RunSummary) {
	if o.publisher == nil {
		return
	}
	event := events.RunCompleted{
		ExtractionRun: summary.RunID,
		Interval:      summary.Interval.String(),
		Symbols:       len(summary.Results),
		Succeeded:     summary.Succeeded(),
		Failed:        summary.Failed(),
		TotalWritten:  summary.TotalWritten(),
		Duration:      summary.Duration.String(),
		CompletedAt:   o.now().UTC(),
	}
	if err := o.publisher.PublishRun(ctx, event); err != nil {
		o.logger.Warn("run event publish failed", "run", summary.RunID, "error", err)
	}
}
