// Package candle defines the canonical candle record and its exchange wire codecs.
//
// Grounded on original_source/src/dtos/kline.h for field layout (live-event k.* keys and the
// 11-element REST array positions) and on the teacher's models/candle.go for field naming.
// Per spec design notes, this package has no dependency on storage or transport packages.
package candle

// Candle is the canonical OHLCV record. Identity is (Symbol, Interval, StartTimeMs).
type Candle struct {
	Symbol        string  `json:"symbol"`
	Interval      string  `json:"interval"`
	StartTimeMs   int64   `json:"start_time_ms"`
	EndTimeMs     int64   `json:"end_time_ms"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	QuoteVolume   float64 `json:"quote_volume"`
	TradeCount    int64   `json:"trade_count"`
	FirstTradeID  int64   `json:"first_trade_id"`
	LastTradeID   int64   `json:"last_trade_id"`
	TakerBuyBase  float64 `json:"taker_buy_base"`
	TakerBuyQuote float64 `json:"taker_buy_quote"`
	IsFinal       bool    `json:"is_final"`
}

// Key identifies a (symbol, interval) pair, used to bucket candles for store/indicator fan-out.
type Key struct {
	Symbol   string
	Interval string
}

func (c Candle) Key() Key {
	return Key{Symbol: c.Symbol, Interval: c.Interval}
}
