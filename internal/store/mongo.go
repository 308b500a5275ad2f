// Package store implements the C3 store client on top of MongoDB.
//
// Grounded on original_source/src/db/mongoManager.cpp for document shapes and operation
// semantics (ParseKline's numeric coercion, GetLatestSyncedKlines' sort-desc-then-reverse,
// BulkWriteClosedKlines' unordered bulk upsert, ReadIndicatorLatestState's fixed-key/dynamic-map
// split) and on the teacher's repositories/candle_repository.go for the repository method
// shape (bulk upsert generalized from pgx.Batch/ON CONFLICT to mongo.BulkWrite/$set+upsert).
package store

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/GeekChomolungma/ChomoSyncer/internal/candle"
	"github.com/GeekChomolungma/ChomoSyncer/internal/errs"
	"github.com/GeekChomolungma/ChomoSyncer/internal/logging"
)

const (
	MarketInfoDB = "market_info"
	IndicatorsDB = "indicators"
)

// IndicatorState mirrors original_source/src/ta/indicator_state.h: fixed identity fields plus
// a sparse map of named numeric values (prev_close, seeded, warmup_count, sum_gain, sum_loss,
// avg_gain, avg_loss, rsi, ...).
type IndicatorState struct {
	Name        string
	Symbol      string
	Interval    string
	StartTimeMs int64
	EndTimeMs   int64
	Period      int
	Values      map[string]float64
}

var fixedIndicatorKeys = map[string]bool{
	"_id": true, "starttime": true, "endtime": true,
	"name": true, "period": true, "symbol": true, "interval": true,
}

// Client wraps a single pooled *mongo.Client, mirroring the teacher's single pooled
// *pgxpool.Pool / *redis.Client pattern.
type Client struct {
	mc  *mongo.Client
	log *logging.Logger
}

func Connect(ctx context.Context, uri string, log *logging.Logger) (*Client, error) {
	opts := options.Client().ApplyURI(uri).SetWriteConcern(writeconcern.Majority())
	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errs.New(errs.KindStore, "connect", err)
	}
	if err := mc.Ping(ctx, nil); err != nil {
		return nil, errs.New(errs.KindStore, "ping", err)
	}
	return &Client{mc: mc, log: log}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.mc.Disconnect(ctx)
}

// CandleCollection returns "<SYMBOL>_<interval>_Binance" per §6.
func CandleCollection(symbol, interval string) string {
	return strings.ToUpper(symbol) + "_" + interval + "_Binance"
}

// IndicatorCollection returns "<name>_<period>_<SYMBOL>_<interval>_Binance" per §4.7.
// This intentionally includes period, unlike the original's makeSymbolKeyIndicatorName,
// which omitted it (see DESIGN.md redesign notes).
func IndicatorCollection(name string, period int, symbol, interval string) string {
	return name + "_" + strconv.Itoa(period) + "_" + strings.ToUpper(symbol) + "_" + interval + "_Binance"
}

func candleDoc(c candle.Candle) bson.M {
	return bson.M{
		"starttime":     c.StartTimeMs,
		"endtime":       c.EndTimeMs,
		"symbol":        c.Symbol,
		"interval":      c.Interval,
		"open":          c.Open,
		"high":          c.High,
		"low":           c.Low,
		"close":         c.Close,
		"volume":        c.Volume,
		"quotevolume":   c.QuoteVolume,
		"tradecount":    c.TradeCount,
		"firsttradeid":  c.FirstTradeID,
		"lasttradeid":   c.LastTradeID,
		"takerbuybase":  c.TakerBuyBase,
		"takerbuyquote": c.TakerBuyQuote,
		"isfinal":       c.IsFinal,
	}
}

// toFloat64 accepts int32, int64, float64, or primitive.Decimal128, mirroring
// mongoManager.cpp::ParseKline's defensive numeric coercion across BSON's numeric type zoo.
func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func docToCandle(doc bson.M) candle.Candle {
	return candle.Candle{
		Symbol:        stringField(doc, "symbol"),
		Interval:      stringField(doc, "interval"),
		StartTimeMs:   toInt64(doc["starttime"]),
		EndTimeMs:     toInt64(doc["endtime"]),
		Open:          toFloat64(doc["open"]),
		High:          toFloat64(doc["high"]),
		Low:           toFloat64(doc["low"]),
		Close:         toFloat64(doc["close"]),
		Volume:        toFloat64(doc["volume"]),
		QuoteVolume:   toFloat64(doc["quotevolume"]),
		TradeCount:    toInt64(doc["tradecount"]),
		FirstTradeID:  toInt64(doc["firsttradeid"]),
		LastTradeID:   toInt64(doc["lasttradeid"]),
		TakerBuyBase:  toFloat64(doc["takerbuybase"]),
		TakerBuyQuote: toFloat64(doc["takerbuyquote"]),
		IsFinal:       boolField(doc, "isfinal"),
	}
}

func stringField(doc bson.M, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func boolField(doc bson.M, key string) bool {
	if v, ok := doc[key].(bool); ok {
		return v
	}
	return false
}

// LatestSyncedRange returns the largest start_time_ms document's (start,end), or (0,0,nil)
// when the collection is empty. Grounded on mongoManager.cpp::GetLatestSyncedTime.
func (c *Client) LatestSyncedRange(ctx context.Context, db, collection string) (int64, int64, error) {
	coll := c.mc.Database(db).Collection(collection)
	opts := options.FindOne().SetSort(bson.D{{Key: "starttime", Value: -1}})
	var doc bson.M
	err := coll.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, errs.New(errs.KindStore, "LatestSyncedRange "+collection, err)
	}
	return toInt64(doc["starttime"]), toInt64(doc["endtime"]), nil
}

// LatestNDescending sorts by start_time_ms descending, limits to n, and reverses the result
// to ascending order before returning, per mongoManager.cpp::GetLatestSyncedKlines.
func (c *Client) LatestNDescending(ctx context.Context, db, collection string, upperBoundEndMs *int64, n int64) ([]candle.Candle, error) {
	coll := c.mc.Database(db).Collection(collection)
	filter := bson.M{}
	if upperBoundEndMs != nil && *upperBoundEndMs != 0 {
		filter["endtime"] = bson.M{"$lte": *upperBoundEndMs}
	}
	opts := options.Find().SetSort(bson.D{{Key: "starttime", Value: -1}}).SetLimit(n)
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.New(errs.KindStore, "LatestNDescending "+collection, err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.New(errs.KindStore, "LatestNDescending decode "+collection, err)
	}

	out := make([]candle.Candle, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = docToCandle(d)
	}
	return out, nil
}

// Range returns candles with start_time_ms in [fromMs, toMs].
func (c *Client) Range(ctx context.Context, db, collection string, fromMs, toMs int64, n int64, ascending bool) ([]candle.Candle, error) {
	coll := c.mc.Database(db).Collection(collection)
	filter := bson.M{"starttime": bson.M{"$gte": fromMs, "$lte": toMs}}
	sortDir := 1
	if !ascending {
		sortDir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "starttime", Value: sortDir}})
	if n > 0 {
		opts = opts.SetLimit(n)
	}
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.New(errs.KindStore, "Range "+collection, err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.New(errs.KindStore, "Range decode "+collection, err)
	}
	out := make([]candle.Candle, len(docs))
	for i, d := range docs {
		out[i] = docToCandle(d)
	}
	return out, nil
}

// UpsertClosed bulk-upserts candles, one unordered bulk-write operation per (symbol,interval)
// collection. Matches by start_time_ms, $sets the entire document. Grounded on
// mongoManager.cpp::BulkWriteClosedKlines; per §4.3/§7, a per-document failure in the unordered
// batch is logged but does not abort the remaining documents or buckets.
func (c *Client) UpsertClosed(ctx context.Context, db string, bucketed map[candle.Key][]candle.Candle) error {
	var firstErr error
	for key, candles := range bucketed {
		if len(candles) == 0 {
			continue
		}
		collection := CandleCollection(key.Symbol, key.Interval)
		coll := c.mc.Database(db).Collection(collection)

		models := make([]mongo.WriteModel, 0, len(candles))
		for _, cd := range candles {
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"starttime": cd.StartTimeMs}).
				SetUpdate(bson.M{"$set": candleDoc(cd)}).
				SetUpsert(true))
		}

		bwOpts := options.BulkWrite().SetOrdered(false)
		res, err := coll.BulkWrite(ctx, models, bwOpts)
		if err != nil {
			c.log.Error("bulk upsert failed", logging.Fields{
				"collection": collection, "batch_size": len(candles), "error": err,
			})
			if firstErr == nil {
				firstErr = errs.New(errs.KindStore, "UpsertClosed "+collection, err)
			}
			continue
		}
		c.log.Info("bulk upsert committed", logging.Fields{
			"collection": collection,
			"matched":    res.MatchedCount,
			"modified":   res.ModifiedCount,
			"upserted":   res.UpsertedCount,
		})
	}
	return firstErr
}

// ReadIndicatorLatest returns the document with the largest start_time_ms, splitting fixed
// identity keys from the dynamic value map per mongoManager.cpp::ReadIndicatorLatestState.
func (c *Client) ReadIndicatorLatest(ctx context.Context, db, collection string) (*IndicatorState, error) {
	coll := c.mc.Database(db).Collection(collection)
	opts := options.FindOne().SetSort(bson.D{{Key: "starttime", Value: -1}})
	var doc bson.M
	err := coll.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindStore, "ReadIndicatorLatest "+collection, err)
	}

	state := &IndicatorState{
		Name:        stringField(doc, "name"),
		Symbol:      stringField(doc, "symbol"),
		Interval:    stringField(doc, "interval"),
		StartTimeMs: toInt64(doc["starttime"]),
		EndTimeMs:   toInt64(doc["endtime"]),
		Period:      int(toInt64(doc["period"])),
		Values:      make(map[string]float64),
	}
	for k, v := range doc {
		if fixedIndicatorKeys[k] {
			continue
		}
		state.Values[k] = toFloat64(v)
	}
	return state, nil
}

// WriteIndicatorState upserts by start_time_ms, $setting the entire document, per
// mongoManager.cpp::WriteIndicatorState.
func (c *Client) WriteIndicatorState(ctx context.Context, db, collection string, state IndicatorState) error {
	coll := c.mc.Database(db).Collection(collection)
	doc := bson.M{
		"starttime": state.StartTimeMs,
		"endtime":   state.EndTimeMs,
		"name":      state.Name,
		"period":    state.Period,
		"symbol":    state.Symbol,
		"interval":  state.Interval,
	}
	for k, v := range state.Values {
		doc[k] = v
	}
	_, err := coll.UpdateOne(ctx,
		bson.M{"starttime": state.StartTimeMs},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.New(errs.KindStore, "WriteIndicatorState "+collection, err)
	}
	return nil
}

// SortCandlesAscending sorts in place by start_time_ms, used by the dispatcher (C6) and
// history sync (C4) before feeding the indicator engine, per §4.6 step 5.
func SortCandlesAscending(cs []candle.Candle) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].StartTimeMs < cs[j].StartTimeMs })
}
