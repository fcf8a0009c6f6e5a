// Package models holds the typed market-data entities the extractor moves
// around: candles, funding rates, trades, and the work-unit types built from
// them. Everything downstream of the parse boundary operates on these types
// only; raw exchange payloads never leave the validator.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one fixed-width OHLCV bucket for a symbol. OpenTime is the bucket
// start, inclusive, and is unique per (symbol, interval). CloseTime is derived
// as OpenTime plus one interval.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Interval  Interval        `json:"interval"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`

	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`

	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	TradeCount  int64           `json:"trade_count"`

	TakerBuyBaseVolume  decimal.Decimal `json:"taker_buy_base_volume"`
	TakerBuyQuoteVolume decimal.Decimal `json:"taker_buy_quote_volume"`
}

// ValidationError reports a single malformed or inconsistent field on a raw
// record. Records carrying one are dropped; they never abort a batch.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks the candle invariants: required identifiers, boundary
// alignment of OpenTime, the derived CloseTime, the high/low envelope around
// open and close, and non-negative volumes and trade count.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if !c.Interval.Valid() {
		return &ValidationError{Field: "interval", Message: fmt.Sprintf("unsupported interval %q", c.Interval)}
	}
	if c.OpenTime.IsZero() {
		return &ValidationError{Field: "open_time", Message: "open time cannot be zero"}
	}
	if !c.Interval.Aligned(c.OpenTime) {
		return &ValidationError{
			Field:   "open_time",
			Message: fmt.Sprintf("open time %s is not aligned to a %s boundary", c.OpenTime.Format(time.RFC3339), c.Interval),
		}
	}
	if want := c.OpenTime.Add(c.Interval.Duration()); !c.CloseTime.Equal(want) {
		return &ValidationError{
			Field:   "close_time",
			Message: fmt.Sprintf("close time %s does not equal open time plus one %s", c.CloseTime.Format(time.RFC3339), c.Interval),
		}
	}

	for _, p := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close},
	} {
		if p.v.LessThanOrEqual(decimal.Zero) {
			return &ValidationError{Field: p.name, Message: p.name + " price must be greater than 0"}
		}
	}

	if maxOC := decimal.Max(c.Open, c.Close); c.High.LessThan(maxOC) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high %s is below max(open, close) %s", c.High, maxOC),
		}
	}
	if minOC := decimal.Min(c.Open, c.Close); c.Low.GreaterThan(minOC) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low %s is above min(open, close) %s", c.Low, minOC),
		}
	}

	if c.Volume.IsNegative() {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}
	if c.QuoteVolume.IsNegative() {
		return &ValidationError{Field: "quote_volume", Message: "quote volume must be greater than or equal to 0"}
	}
	if c.TradeCount < 0 {
		return &ValidationError{Field: "trade_count", Message: "trade count must be greater than or equal to 0"}
	}
	if c.TakerBuyBaseVolume.IsNegative() {
		return &ValidationError{Field: "taker_buy_base_volume", Message: "taker buy base volume must be greater than or equal to 0"}
	}
	if c.TakerBuyQuoteVolume.IsNegative() {
		return &ValidationError{Field: "taker_buy_quote_volume", Message: "taker buy quote volume must be greater than or equal to 0"}
	}

	return nil
}

// Merge folds a newer observation of the same bucket into c. The newest write
// wins for close, volumes and trade count; high and low widen, because the
// most recent bucket may be re-fetched more than once while still open.
// Symbol, interval and times must already match; Merge does not check them.
func (c *Candle) Merge(newer *Candle) {
	c.High = decimal.Max(c.High, newer.High)
	c.Low = decimal.Min(c.Low, newer.Low)
	c.Close = newer.Close
	c.Volume = newer.Volume
	c.QuoteVolume = newer.QuoteVolume
	c.TradeCount = newer.TradeCount
	c.TakerBuyBaseVolume = newer.TakerBuyBaseVolume
	c.TakerBuyQuoteVolume = newer.TakerBuyQuoteVolume
}

func (c *Candle) String() string {
	return fmt.Sprintf("Candle{%s %s %s O:%s H:%s L:%s C:%s V:%s}",
		c.Symbol, c.Interval, c.OpenTime.Format(time.RFC3339),
		c.Open, c.High, c.Low, c.Close, c.Volume)
}
