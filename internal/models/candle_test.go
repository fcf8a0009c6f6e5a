package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandle(t *testing.T) Candle {
	t.Helper()
	open := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return Candle{
		Symbol:              "BTCUSDT",
		Interval:            Interval1h,
		OpenTime:            open,
		CloseTime:           open.Add(time.Hour),
		Open:                decimal.NewFromInt(50000),
		High:                decimal.NewFromInt(50500),
		Low:                 decimal.NewFromInt(49800),
		Close:               decimal.NewFromInt(50200),
		Volume:              decimal.NewFromFloat(120.5),
		QuoteVolume:         decimal.NewFromInt(6040000),
		TradeCount:          4200,
		TakerBuyBaseVolume:  decimal.NewFromFloat(60.2),
		TakerBuyQuoteVolume: decimal.NewFromInt(3020000),
	}
}

func TestCandleValidate(t *testing.T) {
	t.Run("valid candle passes", func(t *testing.T) {
		c := validCandle(t)
		assert.NoError(t, c.Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Candle)
		field  string
	}{
		{
			name:   "open time not aligned to interval",
			mutate: func(c *Candle) { c.OpenTime = c.OpenTime.Add(7 * time.Minute) },
			field:  "open_time",
		},
		{
			name:   "close time not one interval after open",
			mutate: func(c *Candle) { c.CloseTime = c.OpenTime.Add(30 * time.Minute) },
			field:  "close_time",
		},
		{
			name:   "zero open price",
			mutate: func(c *Candle) { c.Open = decimal.Zero },
			field:  "open",
		},
		{
			name:   "high below close",
			mutate: func(c *Candle) { c.High = decimal.NewFromInt(50100) },
			field:  "high",
		},
		{
			name:   "low above open",
			mutate: func(c *Candle) { c.Low = decimal.NewFromInt(50100) },
			field:  "low",
		},
		{
			name:   "negative volume",
			mutate: func(c *Candle) { c.Volume = decimal.NewFromInt(-1) },
			field:  "volume",
		},
		{
			name:   "negative trade count",
			mutate: func(c *Candle) { c.TradeCount = -1 },
			field:  "trade_count",
		},
		{
			name:   "empty symbol",
			mutate: func(c *Candle) { c.Symbol = "" },
			field:  "symbol",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandle(t)
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCandleMerge(t *testing.T) {
	existing := validCandle(t)
	newer := validCandle(t)
	newer.High = decimal.NewFromInt(51000)
	newer.Low = decimal.NewFromInt(49500)
	newer.Close = decimal.NewFromInt(50900)
	newer.Volume = decimal.NewFromFloat(150.0)
	newer.TradeCount = 5000

	existing.Merge(&newer)

	assert.True(t, existing.High.Equal(decimal.NewFromInt(51000)), "high widens to max")
	assert.True(t, existing.Low.Equal(decimal.NewFromInt(49500)), "low widens to min")
	assert.True(t, existing.Close.Equal(decimal.NewFromInt(50900)), "close takes newest")
	assert.True(t, existing.Volume.Equal(decimal.NewFromFloat(150.0)))
	assert.Equal(t, int64(5000), existing.TradeCount)
}

func TestCandleMergeKeepsWiderEnvelope(t *testing.T) {
	existing := validCandle(t)
	existing.High = decimal.NewFromInt(52000)
	existing.Low = decimal.NewFromInt(49000)

	// The replay reports a narrower candle; the stored envelope must hold.
	narrower := validCandle(t)
	existing.Merge(&narrower)

	assert.True(t, existing.High.Equal(decimal.NewFromInt(52000)))
	assert.True(t, existing.Low.Equal(decimal.NewFromInt(49000)))
	assert.True(t, existing.Close.Equal(narrower.Close))
}
