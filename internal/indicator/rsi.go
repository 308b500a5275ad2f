package indicator

import (
	"github.com/GeekChomolungma/ChomoSyncer/internal/candle"
	"github.com/GeekChomolungma/ChomoSyncer/internal/errs"
	"github.com/GeekChomolungma/ChomoSyncer/internal/store"
)

// RSI implements the Wilder-smoothed relative strength index per spec §4.7.1. It is a
// from-scratch state machine (prev_close/seeded/warmup_count/sum_gain/sum_loss/avg_gain/
// avg_loss/last_start_ms), deliberately not the original's deque-based rolling window that
// re-seeds whenever both running averages are exactly zero.
type RSI struct {
	symbol   string
	interval string
	period   int

	prevClose   float64
	initialized bool
	seeded      bool
	warmupCount int
	sumGain     float64
	sumLoss     float64
	avgGain     float64
	avgLoss     float64
	lastStartMs int64

	lastRSI    float64
	hasLastRSI bool
}

func NewRSI(symbol, interval string, period int) *RSI {
	return &RSI{symbol: symbol, interval: interval, period: period}
}

func (r *RSI) Name() string  { return "rsi" }
func (r *RSI) Period() int   { return r.period }

// Update applies one closed candle. It rejects non-final candles and out-of-order/duplicate
// start times (idempotence guard), and otherwise follows the warm-up/run state machine exactly
// as specified.
func (r *RSI) Update(c candle.Candle) bool {
	if !c.IsFinal {
		return false
	}
	if r.initialized && c.StartTimeMs <= r.lastStartMs {
		return false
	}

	if !r.initialized {
		r.prevClose = c.Close
		r.initialized = true
		r.lastStartMs = c.StartTimeMs
		return false
	}

	change := c.Close - r.prevClose
	gain := max0(change)
	loss := max0(-change)

	if !r.seeded {
		r.sumGain += gain
		r.sumLoss += loss
		r.warmupCount++
		if r.warmupCount >= r.period {
			r.avgGain = r.sumGain / float64(r.period)
			r.avgLoss = r.sumLoss / float64(r.period)
			r.seeded = true
		}
	} else {
		n := float64(r.period)
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}

	if r.seeded {
		if r.avgLoss == 0 {
			r.lastRSI = 100
		} else {
			r.lastRSI = 100 - 100/(1+r.avgGain/r.avgLoss)
		}
		r.hasLastRSI = true
	}

	r.prevClose = c.Close
	r.lastStartMs = c.StartTimeMs
	return true
}

func max0(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

// Snapshot returns the current state for persistence, or nil if nothing has been observed yet.
func (r *RSI) Snapshot() *store.IndicatorState {
	if !r.initialized {
		return nil
	}
	values := map[string]float64{
		"prev_close":   r.prevClose,
		"warmup_count": float64(r.warmupCount),
		"sum_gain":     r.sumGain,
		"sum_loss":     r.sumLoss,
		"avg_gain":     r.avgGain,
		"avg_loss":     r.avgLoss,
	}
	if r.seeded {
		values["seeded"] = 1
	} else {
		values["seeded"] = 0
	}
	if r.hasLastRSI {
		values["rsi"] = r.lastRSI
	}
	return &store.IndicatorState{
		Name:        r.Name(),
		Symbol:      r.symbol,
		Interval:    r.interval,
		StartTimeMs: r.lastStartMs,
		Period:      r.period,
		Values:      values,
	}
}

// LoadState restores the calculator from a persisted snapshot. It rejects a snapshot for a
// different indicator name or period; it infers seeded=1 for legacy snapshots that carry
// avg_gain/avg_loss but omit the seeded flag, per §4.7.1.
func (r *RSI) LoadState(state store.IndicatorState) error {
	if state.Name != r.Name() {
		return errs.New(errs.KindState, "RSI.LoadState name mismatch", nil)
	}
	if state.Period != r.period {
		return errs.New(errs.KindState, "RSI.LoadState period mismatch", nil)
	}

	prevClose, ok := state.Values["prev_close"]
	if !ok {
		return errs.New(errs.KindState, "RSI.LoadState missing prev_close", nil)
	}

	avgGain, hasAvgGain := state.Values["avg_gain"]
	avgLoss, hasAvgLoss := state.Values["avg_loss"]
	seededVal, hasSeeded := state.Values["seeded"]

	seeded := seededVal != 0
	if !hasSeeded && hasAvgGain && hasAvgLoss {
		seeded = true
	}

	if seeded {
		if !hasAvgGain || !hasAvgLoss {
			return errs.New(errs.KindState, "RSI.LoadState missing avg_gain/avg_loss for seeded state", nil)
		}
		r.avgGain = avgGain
		r.avgLoss = avgLoss
		// A seeded calculator always has warmup_count == period (Update stops incrementing it
		// once seeded); restore that invariant rather than leaving the zero value, which would
		// otherwise masquerade as an unseeded warm-up state on the next Snapshot.
		r.warmupCount = r.period
		if warmup, ok := state.Values["warmup_count"]; ok && int(warmup) > r.warmupCount {
			r.warmupCount = int(warmup)
		}
	} else {
		sumGain, hasSumGain := state.Values["sum_gain"]
		sumLoss, hasSumLoss := state.Values["sum_loss"]
		warmup, hasWarmup := state.Values["warmup_count"]
		if !hasSumGain || !hasSumLoss || !hasWarmup {
			return errs.New(errs.KindState, "RSI.LoadState missing warm-up fields", nil)
		}
		if warmup < 0 || int(warmup) >= r.period {
			return errs.New(errs.KindState, "RSI.LoadState warmup_count out of range", nil)
		}
		r.sumGain = sumGain
		r.sumLoss = sumLoss
		r.warmupCount = int(warmup)
	}

	r.prevClose = prevClose
	r.seeded = seeded
	r.initialized = true
	r.lastStartMs = state.StartTimeMs
	if rsi, ok := state.Values["rsi"]; ok {
		r.lastRSI = rsi
		r.hasLastRSI = true
	}
	return nil
}
