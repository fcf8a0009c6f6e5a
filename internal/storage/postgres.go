package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

const perRecordAttempts = 3

// Postgres implements Adapter on a relational schema. Candle upserts ride
// ON CONFLICT: the newest write replaces close, volumes and trade count while
// GREATEST/LEAST widen the high/low envelope, so re-fetching a still-open
// bucket can only refine the stored row, never duplicate it.
type Postgres struct {
	db     *gorm.DB
	logger *slog.Logger
}

type candleRow struct {
	Symbol    string    `gorm:"column:symbol;primaryKey;size:32"`
	Interval  string    `gorm:"column:interval;primaryKey;size:8"`
	OpenTime  time.Time `gorm:"column:open_time;primaryKey;index:idx_candles_open_time"`
	CloseTime time.Time `gorm:"column:close_time;not null"`

	Open  decimal.Decimal `gorm:"column:open;type:numeric(38,18);not null"`
	High  decimal.Decimal `gorm:"column:high;type:numeric(38,18);not null"`
	Low   decimal.Decimal `gorm:"column:low;type:numeric(38,18);not null"`
	Close decimal.Decimal `gorm:"column:close;type:numeric(38,18);not null"`

	Volume      decimal.Decimal `gorm:"column:volume;type:numeric(38,18);not null"`
	QuoteVolume decimal.Decimal `gorm:"column:quote_volume;type:numeric(38,18);not null"`
	TradeCount  int64           `gorm:"column:trade_count;not null"`

	TakerBuyBaseVolume  decimal.Decimal `gorm:"column:taker_buy_base_volume;type:numeric(38,18);not null"`
	TakerBuyQuoteVolume decimal.Decimal `gorm:"column:taker_buy_quote_volume;type:numeric(38,18);not null"`
}

func (candleRow) TableName() string { return "candles" }

type fundingRateRow struct {
	Symbol      string           `gorm:"column:symbol;primaryKey;size:32"`
	FundingTime time.Time        `gorm:"column:funding_time;primaryKey"`
	Rate        decimal.Decimal  `gorm:"column:rate;type:numeric(38,18);not null"`
	MarkPrice   *decimal.Decimal `gorm:"column:mark_price;type:numeric(38,18)"`
}

func (fundingRateRow) TableName() string { return "funding_rates" }

type tradeRow struct {
	Symbol        string          `gorm:"column:symbol;primaryKey;size:32"`
	TradeID       int64           `gorm:"column:trade_id;primaryKey"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(38,18);not null"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:numeric(38,18);not null"`
	QuoteQuantity decimal.Decimal `gorm:"column:quote_quantity;type:numeric(38,18);not null"`
	Time          time.Time       `gorm:"column:time;not null;index:idx_trades_time"`
	IsBuyerMaker  bool            `gorm:"column:is_buyer_maker;not null"`
}

func (tradeRow) TableName() string { return "trades" }

// NewPostgres opens a connection pool against dsn.
func NewPostgres(dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, newError("open", "", err)
	}
	return &Postgres{db: db, logger: logger.With("component", "postgres_storage")}, nil
}

// Initialize creates tables and indexes. AutoMigrate is idempotent.
func (p *Postgres) Initialize(ctx context.Context) error {
	if err := p.db.WithContext(ctx).AutoMigrate(&candleRow{}, &fundingRateRow{}, &tradeRow{}); err != nil {
		return newError("migrate", "", err)
	}
	return nil
}

func (p *Postgres) LastKnownTime(ctx context.Context, symbol string, interval models.Interval) (time.Time, bool, error) {
	var row candleRow
	err := p.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval.String()).
		Order("open_time DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, newError("last_known_time", "candles", err)
	}
	return row.OpenTime.UTC(), true, nil
}

func (p *Postgres) ExistingTimes(ctx context.Context, symbol string, interval models.Interval, start, end time.Time) ([]time.Time, error) {
	var times []time.Time
	err := p.db.WithContext(ctx).
		Model(&candleRow{}).
		Where("symbol = ? AND interval = ? AND open_time >= ? AND open_time < ?",
			symbol, interval.String(), start, end).
		Order("open_time ASC").
		Pluck("open_time", &times).Error
	if err != nil {
		return nil, newError("existing_times", "candles", err)
	}
	for i := range times {
		times[i] = times[i].UTC()
	}
	return times, nil
}

var candleMergeClause = clause.OnConflict{
	Columns: []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
	DoUpdates: clause.Assignments(map[string]interface{}{
		"close_time":             gorm.Expr("excluded.close_time"),
		"high":                   gorm.Expr("GREATEST(candles.high, excluded.high)"),
		"low":                    gorm.Expr("LEAST(candles.low, excluded.low)"),
		"close":                  gorm.Expr("excluded.close"),
		"volume":                 gorm.Expr("excluded.volume"),
		"quote_volume":           gorm.Expr("excluded.quote_volume"),
		"trade_count":            gorm.Expr("excluded.trade_count"),
		"taker_buy_base_volume":  gorm.Expr("excluded.taker_buy_base_volume"),
		"taker_buy_quote_volume": gorm.Expr("excluded.taker_buy_quote_volume"),
	}),
}

func (p *Postgres) WriteCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	rows := make([]candleRow, len(candles))
	for i, c := range candles {
		rows[i] = toCandleRow(c)
	}

	err := p.db.WithContext(ctx).Clauses(candleMergeClause).Create(&rows).Error
	if err == nil {
		return len(rows), nil
	}

	// Batch failed as a whole; retry record by record so one bad row does
	// not take down the rest.
	p.logger.Warn("candle batch write failed, falling back to per-record writes",
		"batch_size", len(rows), "error", err)
	return writePerRecord(p.logger, "candles", len(rows), func(i int) error {
		return p.db.WithContext(ctx).Clauses(candleMergeClause).Create(&rows[i]).Error
	})
}

func (p *Postgres) WriteFundingRates(ctx context.Context, rates []models.FundingRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}
	rows := make([]fundingRateRow, len(rates))
	for i, f := range rates {
		rows[i] = fundingRateRow{
			Symbol:      f.Symbol,
			FundingTime: f.FundingTime,
			Rate:        f.Rate,
			MarkPrice:   f.MarkPrice,
		}
	}

	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error == nil {
		return int(res.RowsAffected), nil
	}

	p.logger.Warn("funding batch write failed, falling back to per-record writes",
		"batch_size", len(rows), "error", res.Error)
	return writePerRecord(p.logger, "funding_rates", len(rows), func(i int) error {
		return p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows[i]).Error
	})
}

func (p *Postgres) WriteTrades(ctx context.Context, trades []models.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	rows := make([]tradeRow, len(trades))
	for i, t := range trades {
		rows[i] = tradeRow{
			Symbol:        t.Symbol,
			TradeID:       t.TradeID,
			Price:         t.Price,
			Quantity:      t.Quantity,
			QuoteQuantity: t.QuoteQuantity,
			Time:          t.Time,
			IsBuyerMaker:  t.IsBuyerMaker,
		}
	}

	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error == nil {
		return int(res.RowsAffected), nil
	}

	p.logger.Warn("trade batch write failed, falling back to per-record writes",
		"batch_size", len(rows), "error", res.Error)
	return writePerRecord(p.logger, "trades", len(rows), func(i int) error {
		return p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows[i]).Error
	})
}

// writePerRecord retries each record individually after a batch failure.
// Records that still fail after perRecordAttempts are dropped with a logged
// error; the rest of the batch proceeds and the returned count reflects the
// survivors.
func writePerRecord(logger *slog.Logger, table string, n int, write func(i int) error) (int, error) {
	written := 0
	for i := 0; i < n; i++ {
		var err error
		for attempt := 1; attempt <= perRecordAttempts; attempt++ {
			if err = write(i); err == nil {
				written++
				break
			}
		}
		if err != nil {
			logger.Error("dropping record after per-record retries",
				"table", table, "index", i, "attempts", perRecordAttempts, "error", err)
		}
	}
	return written, nil
}

// Session returns a handle with fresh statement state on the shared pool.
func (p *Postgres) Session(ctx context.Context) (Adapter, error) {
	return &Postgres{
		db:     p.db.WithContext(ctx).Session(&gorm.Session{NewDB: true}),
		logger: p.logger,
	}, nil
}

func (p *Postgres) HealthCheck(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return newError("health", "", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return newError("health", "", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return newError("close", "", err)
	}
	return sqlDB.Close()
}

func toCandleRow(c models.Candle) candleRow {
	return candleRow{
		Symbol:              c.Symbol,
		Interval:            c.Interval.String(),
		OpenTime:            c.OpenTime,
		CloseTime:           c.CloseTime,
		Open:                c.Open,
		High:                c.High,
		Low:                 c.Low,
		Close:               c.Close,
		Volume:              c.Volume,
		QuoteVolume:         c.QuoteVolume,
		TradeCount:          c.TradeCount,
		TakerBuyBaseVolume:  c.TakerBuyBaseVolume,
		TakerBuyQuoteVolume: c.TakerBuyQuoteVolume,
	}
}

var _ Adapter = (*Postgres)(nil)

// Backend names accepted by Open.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongodb"
	BackendMemory   = "memory"
)

// Open constructs the backend named by kind. The memory backend ignores dsn.
func Open(ctx context.Context, kind, dsn string, logger *slog.Logger) (Adapter, error) {
	switch kind {
	case BackendPostgres:
		return NewPostgres(dsn, logger)
	case BackendMongo:
		return NewMongo(ctx, dsn, logger)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
