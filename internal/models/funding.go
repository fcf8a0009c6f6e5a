package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FundingRate is one settled funding event for a perpetual symbol. Funding
// events are immutable once written; FundingTime is unique per symbol.
type FundingRate struct {
	Symbol      string           `json:"symbol"`
	FundingTime time.Time        `json:"funding_time"`
	Rate        decimal.Decimal  `json:"rate"`
	MarkPrice   *decimal.Decimal `json:"mark_price,omitempty"`
}

// Validate checks the funding-rate invariants. The rate is signed, so only
// identifiers and the timestamp are constrained.
func (f *FundingRate) Validate() error {
	if f.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if f.FundingTime.IsZero() {
		return &ValidationError{Field: "funding_time", Message: "funding time cannot be zero"}
	}
	if f.MarkPrice != nil && f.MarkPrice.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "mark_price", Message: "mark price must be greater than 0"}
	}
	return nil
}

func (f *FundingRate) String() string {
	return fmt.Sprintf("FundingRate{%s %s rate:%s}", f.Symbol, f.FundingTime.Format(time.RFC3339), f.Rate)
}
