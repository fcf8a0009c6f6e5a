package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

// Memory is a thread-safe in-memory Adapter. It backs unit tests and dry
// runs, and doubles as the reference implementation of the merge semantics
// the durable backends must match.
type Memory struct {
	mu sync.RWMutex

	// candles: symbol -> interval -> open time -> candle
	candles map[string]map[models.Interval]map[time.Time]*models.Candle
	// funding: symbol -> funding time
	funding map[string]map[time.Time]*models.FundingRate
	// trades: symbol -> trade id
	trades map[string]map[int64]*models.Trade

	closed bool
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		candles: make(map[string]map[models.Interval]map[time.Time]*models.Candle),
		funding: make(map[string]map[time.Time]*models.FundingRate),
		trades:  make(map[string]map[int64]*models.Trade),
	}
}

func (m *Memory) LastKnownTime(ctx context.Context, symbol string, interval models.Interval) (time.Time, bool, error) {
	if err := m.ready(ctx); err != nil {
		return time.Time{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.candles[symbol][interval]
	if len(series) == 0 {
		return time.Time{}, false, nil
	}
	var latest time.Time
	for t := range series {
		if t.After(latest) {
			latest = t
		}
	}
	return latest, true, nil
}

func (m *Memory) ExistingTimes(ctx context.Context, symbol string, interval models.Interval, start, end time.Time) ([]time.Time, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var times []time.Time
	for t := range m.candles[symbol][interval] {
		if !t.Before(start) && t.Before(end) {
			times = append(times, t)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

func (m *Memory) WriteCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if err := m.ready(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	written := 0
	for i := range candles {
		c := candles[i]
		if m.candles[c.Symbol] == nil {
			m.candles[c.Symbol] = make(map[models.Interval]map[time.Time]*models.Candle)
		}
		if m.candles[c.Symbol][c.Interval] == nil {
			m.candles[c.Symbol][c.Interval] = make(map[time.Time]*models.Candle)
		}
		if existing, ok := m.candles[c.Symbol][c.Interval][c.OpenTime]; ok {
			existing.Merge(&c)
		} else {
			stored := c
			m.candles[c.Symbol][c.Interval][c.OpenTime] = &stored
		}
		written++
	}
	return written, nil
}

func (m *Memory) WriteFundingRates(ctx context.Context, rates []models.FundingRate) (int, error) {
	if err := m.ready(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	written := 0
	for i := range rates {
		f := rates[i]
		if m.funding[f.Symbol] == nil {
			m.funding[f.Symbol] = make(map[time.Time]*models.FundingRate)
		}
		// Funding events are immutable; a duplicate key is a no-op.
		if _, ok := m.funding[f.Symbol][f.FundingTime]; ok {
			continue
		}
		stored := f
		m.funding[f.Symbol][f.FundingTime] = &stored
		written++
	}
	return written, nil
}

func (m *Memory) WriteTrades(ctx context.Context, trades []models.Trade) (int, error) {
	if err := m.ready(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	written := 0
	for i := range trades {
		t := trades[i]
		if m.trades[t.Symbol] == nil {
			m.trades[t.Symbol] = make(map[int64]*models.Trade)
		}
		if _, ok := m.trades[t.Symbol][t.TradeID]; ok {
			continue
		}
		stored := t
		m.trades[t.Symbol][t.TradeID] = &stored
		written++
	}
	return written, nil
}

// Session returns the adapter itself; memory has no per-connection state.
func (m *Memory) Session(ctx context.Context) (Adapter, error) {
	return m, nil
}

func (m *Memory) Initialize(ctx context.Context) error {
	return nil
}

func (m *Memory) HealthCheck(ctx context.Context) error {
	return m.ready(ctx)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Candle returns a copy of the stored candle, for assertions in tests.
func (m *Memory) Candle(symbol string, interval models.Interval, openTime time.Time) (models.Candle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.candles[symbol][interval][openTime]
	if !ok {
		return models.Candle{}, false
	}
	return *c, true
}

// CandleCount returns the number of stored candles for (symbol, interval).
func (m *Memory) CandleCount(symbol string, interval models.Interval) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.candles[symbol][interval])
}

func (m *Memory) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return newError("access", "", errors.New("storage is closed"))
	}
	return nil
}
