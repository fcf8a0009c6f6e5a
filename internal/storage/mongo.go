package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

const mongoDatabase = "market_data"

// Mongo implements Adapter on a document store. Candle upserts use $max/$min
// on the high/low fields and $set on the rest, matching the relational merge
// semantics: replays widen the price envelope and refresh everything else.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// NewMongo connects to the deployment at uri.
func NewMongo(ctx context.Context, uri string, logger *slog.Logger) (*Mongo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, newError("open", "", err)
	}
	return &Mongo{
		client: client,
		db:     client.Database(mongoDatabase),
		logger: logger.With("component", "mongo_storage"),
	}, nil
}

func (m *Mongo) candles() *mongo.Collection      { return m.db.Collection("candles") }
func (m *Mongo) fundingRates() *mongo.Collection { return m.db.Collection("funding_rates") }
func (m *Mongo) trades() *mongo.Collection       { return m.db.Collection("trades") }

// Initialize creates the unique indexes each collection depends on.
func (m *Mongo) Initialize(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	_, err := m.candles().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "interval", Value: 1}, {Key: "open_time", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "open_time", Value: 1}}},
	})
	if err != nil {
		return newError("migrate", "candles", err)
	}

	_, err = m.fundingRates().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "funding_time", Value: 1}},
		Options: unique,
	})
	if err != nil {
		return newError("migrate", "funding_rates", err)
	}

	_, err = m.trades().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "trade_id", Value: 1}},
		Options: unique,
	})
	if err != nil {
		return newError("migrate", "trades", err)
	}
	return nil
}

func (m *Mongo) LastKnownTime(ctx context.Context, symbol string, interval models.Interval) (time.Time, bool, error) {
	filter := bson.M{"symbol": symbol, "interval": interval.String()}
	opts := options.FindOne().SetSort(bson.D{{Key: "open_time", Value: -1}})

	var doc struct {
		OpenTime time.Time `bson:"open_time"`
	}
	err := m.candles().FindOne(ctx, filter, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, newError("last_known_time", "candles", err)
	}
	return doc.OpenTime.UTC(), true, nil
}

func (m *Mongo) ExistingTimes(ctx context.Context, symbol string, interval models.Interval, start, end time.Time) ([]time.Time, error) {
	filter := bson.M{
		"symbol":    symbol,
		"interval":  interval.String(),
		"open_time": bson.M{"$gte": start, "$lt": end},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "open_time", Value: 1}}).
		SetProjection(bson.M{"open_time": 1, "_id": 0})

	cur, err := m.candles().Find(ctx, filter, opts)
	if err != nil {
		return nil, newError("existing_times", "candles", err)
	}
	defer cur.Close(ctx)

	var times []time.Time
	for cur.Next(ctx) {
		var doc struct {
			OpenTime time.Time `bson:"open_time"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, newError("existing_times", "candles", err)
		}
		times = append(times, doc.OpenTime.UTC())
	}
	if err := cur.Err(); err != nil {
		return nil, newError("existing_times", "candles", err)
	}
	return times, nil
}

func (m *Mongo) WriteCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	writes := make([]mongo.WriteModel, 0, len(candles))
	for _, c := range candles {
		open, err := toDecimal128(c.Open)
		if err != nil {
			m.logger.Error("dropping candle with unencodable price",
				"symbol", c.Symbol, "open_time", c.OpenTime, "error", err)
			continue
		}
		high, _ := toDecimal128(c.High)
		low, _ := toDecimal128(c.Low)
		cls, _ := toDecimal128(c.Close)
		vol, _ := toDecimal128(c.Volume)
		quoteVol, _ := toDecimal128(c.QuoteVolume)
		takerBase, _ := toDecimal128(c.TakerBuyBaseVolume)
		takerQuote, _ := toDecimal128(c.TakerBuyQuoteVolume)

		filter := bson.M{"symbol": c.Symbol, "interval": c.Interval.String(), "open_time": c.OpenTime}
		update := bson.M{
			"$max": bson.M{"high": high},
			"$min": bson.M{"low": low},
			"$set": bson.M{
				"close_time":             c.CloseTime,
				"close":                  cls,
				"volume":                 vol,
				"quote_volume":           quoteVol,
				"trade_count":            c.TradeCount,
				"taker_buy_base_volume":  takerBase,
				"taker_buy_quote_volume": takerQuote,
			},
			"$setOnInsert": bson.M{"open": open},
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	return m.bulkWrite(ctx, m.candles(), "candles", writes, true)
}

func (m *Mongo) WriteFundingRates(ctx context.Context, rates []models.FundingRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}
	writes := make([]mongo.WriteModel, 0, len(rates))
	for _, f := range rates {
		rate, err := toDecimal128(f.Rate)
		if err != nil {
			m.logger.Error("dropping funding rate with unencodable value",
				"symbol", f.Symbol, "funding_time", f.FundingTime, "error", err)
			continue
		}
		doc := bson.M{"rate": rate}
		if f.MarkPrice != nil {
			if mark, err := toDecimal128(*f.MarkPrice); err == nil {
				doc["mark_price"] = mark
			}
		}
		filter := bson.M{"symbol": f.Symbol, "funding_time": f.FundingTime}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(filter).SetUpdate(bson.M{"$setOnInsert": doc}).SetUpsert(true))
	}
	return m.bulkWrite(ctx, m.fundingRates(), "funding_rates", writes, false)
}

func (m *Mongo) WriteTrades(ctx context.Context, trades []models.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	writes := make([]mongo.WriteModel, 0, len(trades))
	for _, t := range trades {
		price, err := toDecimal128(t.Price)
		if err != nil {
			m.logger.Error("dropping trade with unencodable price",
				"symbol", t.Symbol, "trade_id", t.TradeID, "error", err)
			continue
		}
		qty, _ := toDecimal128(t.Quantity)
		quoteQty, _ := toDecimal128(t.QuoteQuantity)

		filter := bson.M{"symbol": t.Symbol, "trade_id": t.TradeID}
		update := bson.M{"$setOnInsert": bson.M{
			"price":          price,
			"quantity":       qty,
			"quote_quantity": quoteQty,
			"time":           t.Time,
			"is_buyer_maker": t.IsBuyerMaker,
		}}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	return m.bulkWrite(ctx, m.trades(), "trades", writes, false)
}

// bulkWrite runs an unordered bulk so one failed write does not abort the
// rest. countModified distinguishes merge-style collections, where a replay
// that touches an existing document still counts as written, from
// insert-once collections where it does not.
func (m *Mongo) bulkWrite(ctx context.Context, coll *mongo.Collection, table string, writes []mongo.WriteModel, countModified bool) (int, error) {
	if len(writes) == 0 {
		return 0, nil
	}
	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		if res == nil {
			return 0, newError("write", table, err)
		}
		// Partial success: unordered bulk keeps going past failed writes.
		m.logger.Warn("bulk write completed with errors",
			"table", table, "requested", len(writes), "error", err)
	}
	return bulkWritten(res, countModified), nil
}

// bulkWritten derives the written count from a bulk result. Upserted
// documents always count; for merge-style collections a replay that matched
// an existing document counts too, whether or not the merge changed it.
func bulkWritten(res *mongo.BulkWriteResult, countModified bool) int {
	written := int(res.UpsertedCount)
	if countModified {
		written += int(res.ModifiedCount) + int(res.MatchedCount-res.ModifiedCount)
	}
	return written
}

// Session returns the same handle: the driver's client is already a
// goroutine-safe pool and carries no per-caller statement state.
func (m *Mongo) Session(ctx context.Context) (Adapter, error) {
	return m, nil
}

func (m *Mongo) HealthCheck(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return newError("health", "", err)
	}
	return nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		return newError("close", "", err)
	}
	return nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

var _ Adapter = (*Mongo)(nil)
