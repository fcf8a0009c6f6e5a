package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the structured log. It is the default when
// no broker is configured and the drop-in stand-in for tests.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher backed by the given logger.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With("component", "event_log")}
}

func (p *LogPublisher) PublishSymbol(ctx context.Context, event SymbolCompleted) error {
	p.logger.Info("symbol extraction completed",
		"symbol", event.Symbol,
		"interval", event.Interval,
		"start", event.Start,
		"end", event.End,
		"fetched", event.Fetched,
		"written", event.Written,
		"dropped", event.Dropped,
		"success", event.Success,
		"error", event.Error,
		"duration", event.Duration,
		"run", event.ExtractionRun)
	return nil
}

func (p *LogPublisher) PublishRun(ctx context.Context, event RunCompleted) error {
	p.logger.Info("extraction run completed",
		"run", event.ExtractionRun,
		"interval", event.Interval,
		"symbols", event.Symbols,
		"succeeded", event.Succeeded,
		"failed", event.Failed,
		"total_written", event.TotalWritten,
		"duration", event.Duration)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

var _ Publisher = (*LogPublisher)(nil)
