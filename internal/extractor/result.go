package extractor

import (
	"time"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

// State tracks where a symbol's extraction currently stands.
type State string

const (
	StatePending    State = "pending"
	StateFetching   State = "fetching"
	StateValidating State = "validating"
	StateWriting    State = "writing"
	StateSuccess    State = "success"
	StateFailed     State = "failed"

	// StateIncomplete means the run deadline arrived before all chunks
	// for the symbol were processed. Everything written so far is valid;
	// the next run resumes from last known time.
	StateIncomplete State = "incomplete"
)

// Terminal reports whether the state is an end state.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateIncomplete
}

// SymbolResult is the outcome of one symbol within a run. A failed symbol
// carries its error here; it never aborts the run.
type SymbolResult struct {
	Symbol   string
	Interval models.Interval
	State    State
	Start    time.Time
	End      time.Time
	Fetched  int
	Written  int
	Dropped  int
	Gaps     int
	Err      error
	Duration time.Duration
}

// RunSummary aggregates a run across all symbols.
type RunSummary struct {
	RunID    string
	Interval models.Interval
	Results  []SymbolResult
	Duration time.Duration
}

// Succeeded counts symbols that reached StateSuccess.
func (s *RunSummary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.State == StateSuccess {
			n++
		}
	}
	return n
}

// Failed counts symbols that reached StateFailed.
func (s *RunSummary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.State == StateFailed {
			n++
		}
	}
	return n
}

// Incomplete counts symbols the run deadline cut short. Their data is valid
// but the run as a whole did not finish, so callers treat them like failures
// when deciding exit status.
func (s *RunSummary) Incomplete() int {
	n := 0
	for _, r := range s.Results {
		if r.State == StateIncomplete {
			n++
		}
	}
	return n
}

// TotalWritten sums written records across symbols.
func (s *RunSummary) TotalWritten() int {
	n := 0
	for _, r := range s.Results {
		n += r.Written
	}
	return n
}
