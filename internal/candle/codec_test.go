package candle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLiveEvent_Ack(t *testing.T) {
	ack, c, err := ParseLiveEvent([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	require.True(t, ack)
	require.Nil(t, c)
}

func TestParseLiveEvent_Kline(t *testing.T) {
	payload := []byte(`{
		"e":"kline","E":1690848000123,"s":"BTCUSDT",
		"k":{
			"t":1690848000000,"T":1690848899999,"s":"BTCUSDT","i":"1m",
			"f":100,"L":200,
			"o":"29000.00","c":"29100.50","h":"29200","l":"28950","v":"10",
			"n":55,"x":true,"q":"290500.25","V":"5","Q":"145000.00"
		}
	}`)
	ack, c, err := ParseLiveEvent(payload)
	require.NoError(t, err)
	require.False(t, ack)
	require.NotNil(t, c)
	require.Equal(t, "BTCUSDT", c.Symbol)
	require.Equal(t, int64(1690848000000), c.StartTimeMs)
	require.Equal(t, int64(1690848899999), c.EndTimeMs)
	require.Equal(t, 29100.50, c.Close)
	require.True(t, c.IsFinal)
	require.Equal(t, int64(55), c.TradeCount)
}

func TestParseLiveEvent_MissingOptionalDoesNotAbort(t *testing.T) {
	payload := []byte(`{
		"e":"kline","E":1,"s":"BTCUSDT",
		"k":{"t":1,"T":2,"i":"1m","o":"1","c":"2","h":"3","l":"0.5","x":false}
	}`)
	ack, c, err := ParseLiveEvent(payload)
	require.NoError(t, err)
	require.False(t, ack)
	require.NotNil(t, c)
	require.Equal(t, float64(0), c.Volume)
	require.Equal(t, int64(0), c.TradeCount)
}

func TestParseLiveEvent_MissingRequiredErrors(t *testing.T) {
	_, _, err := ParseLiveEvent([]byte(`{"e":"kline","k":{"i":"1m","o":"1","c":"2","h":"3","l":"0.5"}}`))
	require.Error(t, err)
}

func TestParseRESTArray(t *testing.T) {
	payload := []byte(`[
		[1690848000000,"29000.00","29200","28950","29100.50","10",1690848899999,"290500.25",55,"5","145000.00"]
	]`)
	out, err := ParseRESTArray(payload, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "BTCUSDT", out[0].Symbol)
	require.Equal(t, "1m", out[0].Interval)
	require.Equal(t, int64(1690848000000), out[0].StartTimeMs)
	require.Equal(t, int64(1690848899999), out[0].EndTimeMs)
	require.Equal(t, 29100.50, out[0].Close)
	require.False(t, out[0].IsFinal, "REST codec must not set is_final; that is History sync's job")
}

func TestSerializeRoundTrip(t *testing.T) {
	orig := Candle{
		Symbol: "BTCUSDT", Interval: "1m", StartTimeMs: 1690848000000, EndTimeMs: 1690848899999,
		Open: 29000, High: 29200, Low: 28950, Close: 29100.5, Volume: 10,
		QuoteVolume: 290500.25, TradeCount: 55, FirstTradeID: 100, LastTradeID: 200,
		TakerBuyBase: 5, TakerBuyQuote: 145000, IsFinal: true,
	}
	bytes, err := Serialize(orig)
	require.NoError(t, err)

	ack, got, err := ParseLiveEvent(bytes)
	require.NoError(t, err)
	require.False(t, ack)
	require.Equal(t, orig, *got)
}
