package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one executed trade as reported by the exchange. TradeID is the
// exchange-assigned identifier, unique per symbol. Trades are immutable once
// written.
type Trade struct {
	Symbol        string          `json:"symbol"`
	TradeID       int64           `json:"trade_id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	QuoteQuantity decimal.Decimal `json:"quote_quantity"`
	Time          time.Time       `json:"time"`
	IsBuyerMaker  bool            `json:"is_buyer_maker"`
}

// Validate checks the trade invariants.
func (t *Trade) Validate() error {
	if t.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if t.TradeID < 0 {
		return &ValidationError{Field: "trade_id", Message: "trade id must be greater than or equal to 0"}
	}
	if t.Price.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "price", Message: "price must be greater than 0"}
	}
	if t.Quantity.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "quantity", Message: "quantity must be greater than 0"}
	}
	if t.QuoteQuantity.IsNegative() {
		return &ValidationError{Field: "quote_quantity", Message: "quote quantity must be greater than or equal to 0"}
	}
	if t.Time.IsZero() {
		return &ValidationError{Field: "time", Message: "time cannot be zero"}
	}
	return nil
}

func (t *Trade) String() string {
	return fmt.Sprintf("Trade{%s #%d %s @ %s}", t.Symbol, t.TradeID, t.Quantity, t.Price)
}
