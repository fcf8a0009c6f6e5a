package binance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/errors"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

// This file is the single parse boundary between raw exchange payloads and
// the typed entities. All numeric coercion (decimal strings, millisecond
// timestamps) happens here; nothing downstream ever touches a raw record.

// Kline rows are fixed-position arrays:
//
//	[ openTime, open, high, low, close, volume, closeTime,
//	  quoteVolume, tradeCount, takerBuyBase, takerBuyQuote, ignore ]
const (
	klineFieldOpenTime = iota
	klineFieldOpen
	klineFieldHigh
	klineFieldLow
	klineFieldClose
	klineFieldVolume
	klineFieldCloseTime
	klineFieldQuoteVolume
	klineFieldTradeCount
	klineFieldTakerBuyBase
	klineFieldTakerBuyQuote

	klineFieldCount = 12
)

// ParseCandle converts one raw kline row into a validated Candle. A malformed
// row yields a KindValidation error; the caller drops the row and continues
// with the rest of the page.
func ParseCandle(raw json.RawMessage, symbol string, interval models.Interval) (*models.Candle, error) {
	row := gjson.ParseBytes(raw)
	if !row.IsArray() {
		return nil, errors.Validation("parse_candle", fmt.Errorf("kline row is not an array"))
	}
	fields := row.Array()
	if len(fields) < klineFieldCount {
		return nil, errors.Validation("parse_candle", fmt.Errorf("kline row has %d fields, want %d", len(fields), klineFieldCount))
	}

	openTime := time.UnixMilli(fields[klineFieldOpenTime].Int()).UTC()

	open, err := parseDecimal(fields[klineFieldOpen], "open")
	if err != nil {
		return nil, err
	}
	high, err := parseDecimal(fields[klineFieldHigh], "high")
	if err != nil {
		return nil, err
	}
	low, err := parseDecimal(fields[klineFieldLow], "low")
	if err != nil {
		return nil, err
	}
	closePrice, err := parseDecimal(fields[klineFieldClose], "close")
	if err != nil {
		return nil, err
	}
	volume, err := parseDecimal(fields[klineFieldVolume], "volume")
	if err != nil {
		return nil, err
	}
	quoteVolume, err := parseDecimal(fields[klineFieldQuoteVolume], "quote_volume")
	if err != nil {
		return nil, err
	}
	takerBase, err := parseDecimal(fields[klineFieldTakerBuyBase], "taker_buy_base_volume")
	if err != nil {
		return nil, err
	}
	takerQuote, err := parseDecimal(fields[klineFieldTakerBuyQuote], "taker_buy_quote_volume")
	if err != nil {
		return nil, err
	}

	c := &models.Candle{
		Symbol:   symbol,
		Interval: interval,
		OpenTime: openTime,
		// The exchange reports close time as the last millisecond of the
		// bucket; the entity carries the exclusive bucket end instead.
		CloseTime:           openTime.Add(interval.Duration()),
		Open:                open,
		High:                high,
		Low:                 low,
		Close:               closePrice,
		Volume:              volume,
		QuoteVolume:         quoteVolume,
		TradeCount:          fields[klineFieldTradeCount].Int(),
		TakerBuyBaseVolume:  takerBase,
		TakerBuyQuoteVolume: takerQuote,
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Validation("parse_candle", err)
	}
	return c, nil
}

// ParseFundingRate converts one raw funding-rate object into a validated
// FundingRate. Mark price is optional; some listings omit it.
func ParseFundingRate(raw json.RawMessage, symbol string) (*models.FundingRate, error) {
	rec := gjson.ParseBytes(raw)
	if !rec.IsObject() {
		return nil, errors.Validation("parse_funding", fmt.Errorf("funding record is not an object"))
	}

	rateField := rec.Get("fundingRate")
	if !rateField.Exists() {
		return nil, errors.Validation("parse_funding", fmt.Errorf("missing fundingRate"))
	}
	fundingRate, err := parseDecimal(rateField, "rate")
	if err != nil {
		return nil, err
	}

	f := &models.FundingRate{
		Symbol:      symbol,
		FundingTime: time.UnixMilli(rec.Get("fundingTime").Int()).UTC(),
		Rate:        fundingRate,
	}
	if mp := rec.Get("markPrice"); mp.Exists() && mp.String() != "" {
		markPrice, err := parseDecimal(mp, "mark_price")
		if err != nil {
			return nil, err
		}
		f.MarkPrice = &markPrice
	}

	if err := f.Validate(); err != nil {
		return nil, errors.Validation("parse_funding", err)
	}
	return f, nil
}

// ParseTrade converts one raw aggregate-trade object into a validated Trade.
// Aggregate records carry only price (p) and quantity (q); the quote
// quantity is their product.
func ParseTrade(raw json.RawMessage, symbol string) (*models.Trade, error) {
	rec := gjson.ParseBytes(raw)
	if !rec.IsObject() {
		return nil, errors.Validation("parse_trade", fmt.Errorf("trade record is not an object"))
	}

	price, err := parseDecimal(rec.Get("p"), "price")
	if err != nil {
		return nil, err
	}
	qty, err := parseDecimal(rec.Get("q"), "quantity")
	if err != nil {
		return nil, err
	}

	t := &models.Trade{
		Symbol:        symbol,
		TradeID:       rec.Get("a").Int(),
		Price:         price,
		Quantity:      qty,
		QuoteQuantity: price.Mul(qty),
		Time:          time.UnixMilli(rec.Get("T").Int()).UTC(),
		IsBuyerMaker:  rec.Get("m").Bool(),
	}
	if err := t.Validate(); err != nil {
		return nil, errors.Validation("parse_trade", err)
	}
	return t, nil
}

func parseDecimal(field gjson.Result, name string) (decimal.Decimal, error) {
	if !field.Exists() {
		return decimal.Decimal{}, errors.Validation("parse_decimal", &models.ValidationError{
			Field: name, Message: "field is missing",
		})
	}
	d, err := decimal.NewFromString(field.String())
	if err != nil {
		return decimal.Decimal{}, errors.Validation("parse_decimal", &models.ValidationError{
			Field: name, Message: fmt.Sprintf("invalid decimal %q: %v", field.String(), err),
		})
	}
	return d, nil
}
