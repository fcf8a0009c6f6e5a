package extractor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/binance"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/storage"
)

// ExtractFunding pulls funding-rate history for the lookback window of every
// configured symbol. Funding records are immutable and keyed by funding
// time, so replays are free: duplicate writes are no-ops.
func (o *Orchestrator) ExtractFunding(ctx context.Context) (*RunSummary, error) {
	return o.runEntity(ctx, "funding", func(ctx context.Context, log *slog.Logger, session storage.Adapter, symbol string, start, end time.Time) (int, int, int, error) {
		raw, err := o.client.FetchFundingRange(ctx, symbol, start, end)
		if err != nil {
			return 0, 0, 0, err
		}
		rates := make([]models.FundingRate, 0, len(raw))
		dropped := 0
		for _, row := range raw {
			f, perr := binance.ParseFundingRate(row, symbol)
			if perr != nil {
				log.Warn("dropping malformed funding rate", "error", perr)
				dropped++
				continue
			}
			rates = append(rates, *f)
		}
		written, err := session.WriteFundingRates(ctx, rates)
		return len(raw), written, dropped, err
	})
}

// ExtractTrades pulls historical trades for the lookback window of every
// configured symbol. Trades are keyed by trade ID; duplicates are no-ops.
func (o *Orchestrator) ExtractTrades(ctx context.Context) (*RunSummary, error) {
	return o.runEntity(ctx, "trades", func(ctx context.Context, log *slog.Logger, session storage.Adapter, symbol string, start, end time.Time) (int, int, int, error) {
		raw, err := o.client.FetchTradeRange(ctx, symbol, start, end)
		if err != nil {
			return 0, 0, 0, err
		}
		trades := make([]models.Trade, 0, len(raw))
		dropped := 0
		for _, row := range raw {
			t, perr := binance.ParseTrade(row, symbol)
			if perr != nil {
				log.Warn("dropping malformed trade", "error", perr)
				dropped++
				continue
			}
			trades = append(trades, *t)
		}
		written, err := session.WriteTrades(ctx, trades)
		return len(raw), written, dropped, err
	})
}

type entityFn func(ctx context.Context, log *slog.Logger, session storage.Adapter, symbol string, start, end time.Time) (fetched, written, dropped int, err error)

func (o *Orchestrator) runEntity(ctx context.Context, entity string, extract entityFn) (*RunSummary, error) {
	runID := uuid.NewString()
	started := o.now()
	end := started.UTC()
	start := end.Add(-o.cfg.Lookback)

	o.logger.Info("entity run starting",
		"run", runID, "entity", entity, "symbols", len(o.cfg.Symbols))

	results := make([]SymbolResult, len(o.cfg.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, symbol := range o.cfg.Symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			log := o.logger.With("run", runID, "entity", entity, "symbol", symbol)
			res := SymbolResult{Symbol: symbol, State: StateFetching, Start: start, End: end}
			symbolStart := o.now()

			session, err := o.storage.Session(gctx)
			if err == nil {
				res.Fetched, res.Written, res.Dropped, err = extract(gctx, log, session, symbol, start, end)
			}
			if err != nil {
				log.Error("entity extraction failed", "error", err)
				res.State, res.Err = StateFailed, err
			} else {
				res.State = StateSuccess
				log.Info("entity extraction complete",
					"fetched", res.Fetched, "written", res.Written, "dropped", res.Dropped)
			}
			res.Duration = o.now().Sub(symbolStart)
			o.publishSymbol(gctx, runID, res)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	summary := &RunSummary{
		RunID:    runID,
		Results:  results,
		Duration: o.now().Sub(started),
	}
	o.publishRun(ctx, summary)
	return summary, nil
}
