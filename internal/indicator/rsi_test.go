package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GeekChomolungma/ChomoSyncer/internal/candle"
	"github.com/GeekChomolungma/ChomoSyncer/internal/store"
)

var referenceCloses = []float64{
	46.1250, 47.1250, 46.4375, 46.9375, 44.9375, 44.2500, 44.6250, 45.7500,
	47.8125, 47.5625, 47.0000, 44.5625, 46.3125, 47.6875, 46.6875,
}

func feed(r *RSI, closes []float64) []bool {
	updated := make([]bool, len(closes))
	for i, closeP := range closes {
		c := candle.Candle{
			Symbol: "BTCUSDT", Interval: "1m",
			StartTimeMs: int64(i) * 60_000,
			Close:       closeP,
			IsFinal:     true,
		}
		updated[i] = r.Update(c)
	}
	return updated
}

func TestRSI_WilderWarmupAndSeed(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	updated := feed(r, referenceCloses)

	// First close only sets prev_close (not-updated); next 13 are warm-up (not emitting
	// seeded output but Update still reports updated=true once past initialization).
	require.False(t, updated[0])
	for i := 1; i < 14; i++ {
		require.True(t, updated[i])
	}
	require.True(t, updated[14])

	snap := r.Snapshot()
	require.NotNil(t, snap)
	require.Equal(t, float64(1), snap.Values["seeded"])
	require.InDelta(t, 51.78, snap.Values["rsi"], 0.05)
}

func TestRSI_BoundsWheneverSeeded(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	feed(r, referenceCloses)
	snap := r.Snapshot()
	require.GreaterOrEqual(t, snap.Values["rsi"], float64(0))
	require.LessOrEqual(t, snap.Values["rsi"], float64(100))
}

func TestRSI_WarmupCountInvariant(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	for i, closeP := range referenceCloses[:10] {
		c := candle.Candle{StartTimeMs: int64(i) * 60_000, Close: closeP, IsFinal: true}
		r.Update(c)
		snap := r.Snapshot()
		if snap.Values["seeded"] == 0 {
			require.GreaterOrEqual(t, snap.Values["warmup_count"], float64(0))
			require.Less(t, snap.Values["warmup_count"], float64(14))
		}
	}
}

func TestRSI_IdempotentReplay(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	feed(r, referenceCloses)
	first := *r.Snapshot()

	updatedSecondPass := feed(r, referenceCloses)
	for _, u := range updatedSecondPass {
		require.False(t, u, "replaying already-seen start_time_ms must be rejected as not-updated")
	}

	second := *r.Snapshot()
	require.Equal(t, first, second)
}

func TestRSI_RejectsNonFinal(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	c := candle.Candle{StartTimeMs: 60_000, Close: 10, IsFinal: false}
	require.False(t, r.Update(c))
}

func TestRSI_LoadStateRoundTrip(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	feed(r, referenceCloses)
	snap := *r.Snapshot()

	restored := NewRSI("BTCUSDT", "1m", 14)
	require.NoError(t, restored.LoadState(snap))

	c := candle.Candle{StartTimeMs: snap.StartTimeMs + 60_000, Close: 48.0, IsFinal: true}
	require.True(t, restored.Update(c))
	require.False(t, math.IsNaN(restored.Snapshot().Values["rsi"]))
}

func TestRSI_LoadStateRoundTrip_PreservesWarmupCountWhenSeeded(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	feed(r, referenceCloses)
	snap := *r.Snapshot()
	require.Equal(t, float64(1), snap.Values["seeded"])
	require.Equal(t, float64(14), snap.Values["warmup_count"])

	restored := NewRSI("BTCUSDT", "1m", 14)
	require.NoError(t, restored.LoadState(snap))

	restoredSnap := restored.Snapshot()
	require.Equal(t, float64(1), restoredSnap.Values["seeded"])
	require.Equal(t, float64(14), restoredSnap.Values["warmup_count"],
		"a seeded calculator must not degrade warmup_count to 0 across a load/snapshot cycle")
}

func TestRSI_LoadStateRejectsWrongName(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	err := r.LoadState(store.IndicatorState{Name: "macd", Period: 14, Values: map[string]float64{"prev_close": 1}})
	require.Error(t, err)
}

func TestRSI_LoadStateInfersSeededWhenFlagMissing(t *testing.T) {
	r := NewRSI("BTCUSDT", "1m", 14)
	err := r.LoadState(store.IndicatorState{
		Name: "rsi", Period: 14,
		Values: map[string]float64{"prev_close": 10, "avg_gain": 1, "avg_loss": 0.5},
	})
	require.NoError(t, err)

	c := candle.Candle{StartTimeMs: 1, Close: 11, IsFinal: true}
	require.True(t, r.Update(c))
}
