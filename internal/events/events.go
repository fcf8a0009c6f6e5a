// Package events publishes extraction completion notifications so downstream
// consumers can react to freshly written data without polling storage.
package events

import (
	"context"
	"time"
)

// SymbolCompleted reports the outcome of one symbol's extraction.
type SymbolCompleted struct {
	Symbol        string    `json:"symbol"`
	Interval      string    `json:"interval"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Fetched       int       `json:"fetched"`
	Written       int       `json:"written"`
	Dropped       int       `json:"dropped"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Duration      string    `json:"duration"`
	CompletedAt   time.Time `json:"completed_at"`
	ExtractionRun string    `json:"extraction_run"`
}

// RunCompleted summarizes a whole extraction run across all symbols.
type RunCompleted struct {
	ExtractionRun string    `json:"extraction_run"`
	Interval      string    `json:"interval"`
	Symbols       int       `json:"symbols"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	TotalWritten  int       `json:"total_written"`
	Duration      string    `json:"duration"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Publisher delivers extraction events. Implementations must tolerate
// delivery failure: publishing is observability, never part of the write
// path, so errors are reported but the run proceeds.
type Publisher interface {
	PublishSymbol(ctx context.Context, event SymbolCompleted) error
	PublishRun(ctx context.Context, event RunCompleted) error
	Close() error
}
