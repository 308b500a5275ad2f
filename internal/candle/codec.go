package candle

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/GeekChomolungma/ChomoSyncer/internal/errs"
)

// wireEnvelope is the outer live-event shape: {"e":"kline","E":...,"s":"BTCUSDT","k":{...}}.
// Grounded on original_source/src/dtos/kline.h's KlineResponseWs field-to-JSON-path mapping.
type wireEnvelope struct {
	EventType string          `json:"e"`
	EventTime json.Number     `json:"E"`
	Symbol    string          `json:"s"`
	Kline     json.RawMessage `json:"k"`
}

type wireKline struct {
	StartTime     json.Number `json:"t"`
	EndTime       json.Number `json:"T"`
	Symbol        string      `json:"s"`
	Interval      string      `json:"i"`
	FirstTradeID  json.Number `json:"f"`
	LastTradeID   json.Number `json:"L"`
	Open          string      `json:"o"`
	Close         string      `json:"c"`
	High          string      `json:"h"`
	Low           string      `json:"l"`
	Volume        string      `json:"v"`
	TradeCount    json.Number `json:"n"`
	IsFinal       bool        `json:"x"`
	QuoteVolume   string      `json:"q"`
	TakerBuyBase  string      `json:"V"`
	TakerBuyQuote string      `json:"Q"`
}

// ackEnvelope is the initial subscription acknowledgement: {"result":null,"id":1}.
type ackEnvelope struct {
	Result json.RawMessage `json:"result"`
	ID     json.Number     `json:"id"`
}

// ParseLiveEvent recognizes the initial subscription ack (returning ack=true, candle=nil) or
// decodes a kline event into a Candle. Missing optional fields default to zero; it never errors
// on an absent optional, only on a missing/mistyped required field (start/end time, OHLC).
func ParseLiveEvent(data []byte) (ack bool, c *Candle, err error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false, nil, errs.NewParseError("root", "invalid json")
	}

	if resultRaw, ok := probe["result"]; ok {
		var ae ackEnvelope
		if err := json.Unmarshal(data, &ae); err == nil && isNullRaw(resultRaw) {
			return true, nil, nil
		}
	}

	kRaw, ok := probe["k"]
	if !ok {
		return false, nil, errs.NewParseError("k", "missing")
	}

	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, nil, errs.NewParseError("root", "invalid json")
	}

	var wk wireKline
	if err := json.Unmarshal(kRaw, &wk); err != nil {
		return false, nil, errs.NewParseError("k", "invalid json")
	}

	startMs, err := wk.StartTime.Int64()
	if err != nil {
		return false, nil, errs.NewParseError("k.t", "missing or not numeric")
	}
	endMs, err := wk.EndTime.Int64()
	if err != nil {
		return false, nil, errs.NewParseError("k.T", "missing or not numeric")
	}

	open, err := parseDecimal(wk.Open)
	if err != nil {
		return false, nil, errs.NewParseError("k.o", "missing or not numeric")
	}
	high, err := parseDecimal(wk.High)
	if err != nil {
		return false, nil, errs.NewParseError("k.h", "missing or not numeric")
	}
	low, err := parseDecimal(wk.Low)
	if err != nil {
		return false, nil, errs.NewParseError("k.l", "missing or not numeric")
	}
	closeP, err := parseDecimal(wk.Close)
	if err != nil {
		return false, nil, errs.NewParseError("k.c", "missing or not numeric")
	}

	symbol := wk.Symbol
	if symbol == "" {
		symbol = env.Symbol
	}

	candle := &Candle{
		Symbol:        symbol,
		Interval:      wk.Interval,
		StartTimeMs:   startMs,
		EndTimeMs:     endMs,
		Open:          open,
		High:          high,
		Low:           low,
		Close:         closeP,
		Volume:        parseDecimalDefault(wk.Volume),
		QuoteVolume:   parseDecimalDefault(wk.QuoteVolume),
		TradeCount:    numberDefault(wk.TradeCount),
		FirstTradeID:  numberDefault(wk.FirstTradeID),
		LastTradeID:   numberDefault(wk.LastTradeID),
		TakerBuyBase:  parseDecimalDefault(wk.TakerBuyBase),
		TakerBuyQuote: parseDecimalDefault(wk.TakerBuyQuote),
		IsFinal:       wk.IsFinal,
	}
	return false, candle, nil
}

// ParseRESTArray decodes the REST klines response: an array of 11-element arrays.
// symbol and interval are not present on the wire and must be supplied by the caller.
// is_final is always false on return: closedness is a time-filter concern owned by history
// sync (C4), never decided by the codec (per spec §4.1).
func ParseRESTArray(data []byte, symbol, interval string) ([]Candle, error) {
	var rows [][]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errs.NewParseError("root", "invalid json")
	}

	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 11 {
			return nil, errs.NewParseError(fmt.Sprintf("row[%d]", i), "too few elements")
		}
		start, err := toInt64(row[0])
		if err != nil {
			return nil, errs.NewParseError(fmt.Sprintf("row[%d][0]", i), "not numeric")
		}
		open, err := toFloat64(row[1])
		if err != nil {
			return nil, errs.NewParseError(fmt.Sprintf("row[%d][1]", i), "not numeric")
		}
		high, err := toFloat64(row[2])
		if err != nil {
			return nil, errs.NewParseError(fmt.Sprintf("row[%d][2]", i), "not numeric")
		}
		low, err := toFloat64(row[3])
		if err != nil {
			return nil, errs.NewParseError(fmt.Sprintf("row[%d][3]", i), "not numeric")
		}
		closeP, err := toFloat64(row[4])
		if err != nil {
			return nil, errs.NewParseError(fmt.Sprintf("row[%d][4]", i), "not numeric")
		}
		volume, _ := toFloat64(row[5])
		end, err := toInt64(row[6])
		if err != nil {
			return nil, errs.NewParseError(fmt.Sprintf("row[%d][6]", i), "not numeric")
		}
		quoteVolume, _ := toFloat64(row[7])
		tradeCount, _ := toInt64(row[8])
		takerBuyBase, _ := toFloat64(row[9])
		takerBuyQuote, _ := toFloat64(row[10])

		out = append(out, Candle{
			Symbol:        symbol,
			Interval:      interval,
			StartTimeMs:   start,
			EndTimeMs:     end,
			Open:          open,
			High:          high,
			Low:           low,
			Close:         closeP,
			Volume:        volume,
			QuoteVolume:   quoteVolume,
			TradeCount:    tradeCount,
			TakerBuyBase:  takerBuyBase,
			TakerBuyQuote: takerBuyQuote,
			IsFinal:       false,
		})
	}
	return out, nil
}

// Serialize round-trips a Candle back into the nested live-event JSON shape so that
// Serialize(parse_live_event(x)) reproduces the same logical fields (modulo key order).
func Serialize(c Candle) ([]byte, error) {
	wk := wireKline{
		StartTime:     json.Number(strconv.FormatInt(c.StartTimeMs, 10)),
		EndTime:       json.Number(strconv.FormatInt(c.EndTimeMs, 10)),
		Symbol:        c.Symbol,
		Interval:      c.Interval,
		FirstTradeID:  json.Number(strconv.FormatInt(c.FirstTradeID, 10)),
		LastTradeID:   json.Number(strconv.FormatInt(c.LastTradeID, 10)),
		Open:          formatDecimal(c.Open),
		Close:         formatDecimal(c.Close),
		High:          formatDecimal(c.High),
		Low:           formatDecimal(c.Low),
		Volume:        formatDecimal(c.Volume),
		TradeCount:    json.Number(strconv.FormatInt(c.TradeCount, 10)),
		IsFinal:       c.IsFinal,
		QuoteVolume:   formatDecimal(c.QuoteVolume),
		TakerBuyBase:  formatDecimal(c.TakerBuyBase),
		TakerBuyQuote: formatDecimal(c.TakerBuyQuote),
	}
	kBytes, err := json.Marshal(wk)
	if err != nil {
		return nil, err
	}
	env := struct {
		EventType string          `json:"e"`
		EventTime int64           `json:"E"`
		Symbol    string          `json:"s"`
		Kline     json.RawMessage `json:"k"`
	}{
		EventType: "kline",
		EventTime: c.EndTimeMs,
		Symbol:    c.Symbol,
		Kline:     kBytes,
	}
	return json.Marshal(env)
}

func isNullRaw(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.ParseFloat(s, 64)
}

func parseDecimalDefault(s string) float64 {
	v, err := parseDecimal(s)
	if err != nil {
		return 0
	}
	return v
}

func numberDefault(n json.Number) int64 {
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return v
}

func formatDecimal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
