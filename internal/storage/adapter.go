// Package storage defines the persistence contract the extractor writes
// through, and the concrete backends that implement it. Every backend obeys
// the same semantics: candle writes are idempotent merge-upserts keyed on
// (symbol, interval, open_time); funding rates and trades are immutable
// inserts where a duplicate key is a silent no-op. This subsystem only
// writes; reads exist solely to drive incremental continuation and gap
// detection.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

// Adapter is the storage contract, implemented identically by the relational,
// document and in-memory backends. Call sites depend on this interface only,
// never on a concrete backend type.
type Adapter interface {
	// LastKnownTime returns the open time of the newest stored candle for
	// (symbol, interval), or ok=false when none exists. It anchors the
	// default continuation point for incremental extraction.
	LastKnownTime(ctx context.Context, symbol string, interval models.Interval) (t time.Time, ok bool, err error)

	// ExistingTimes returns the sorted, ascending open times stored for
	// (symbol, interval) within [start, end). Consumed by gap detection.
	ExistingTimes(ctx context.Context, symbol string, interval models.Interval, start, end time.Time) ([]time.Time, error)

	// WriteCandles upserts the batch and returns the number of records
	// written. Writing the same batch twice yields the same stored state.
	// A batch-level failure falls back to per-record writes; a record that
	// still fails is dropped with a logged error rather than failing the
	// batch.
	WriteCandles(ctx context.Context, candles []models.Candle) (int, error)

	// WriteFundingRates inserts funding events, ignoring duplicates.
	WriteFundingRates(ctx context.Context, rates []models.FundingRate) (int, error)

	// WriteTrades inserts trades, ignoring duplicates.
	WriteTrades(ctx context.Context, trades []models.Trade) (int, error)

	// Session returns a worker-scoped handle sharing the backend's
	// connectivity but none of its per-call state, so one worker's failure
	// never poisons another's writes.
	Session(ctx context.Context) (Adapter, error)

	// Initialize prepares schema or collections. Idempotent.
	Initialize(ctx context.Context) error

	// HealthCheck verifies connectivity with a lightweight operation.
	HealthCheck(ctx context.Context) error

	// Close releases connections. The adapter is unusable afterwards.
	Close() error
}

// Error wraps a backend failure with the operation and logical table.
type Error struct {
	Operation string
	Table     string
	Err       error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(operation, table string, err error) *Error {
	return &Error{Operation: operation, Table: table, Err: err}
}
