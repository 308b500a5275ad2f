// Package indicator implements the C7 indicator engine: a pluggable, warm-startable, per
// (symbol, interval, indicator, period) calculator set with durable state.
//
// Grounded on original_source/src/ta/indicator_calculator.h (the LoadState/Update/Name/Period
// capability set) and src/ta/indicator_manager.cpp/.h (the engine's lifecycle: LoadCalculators,
// LoadStates replay, ProcessNewCandle dispatch-then-persist). The RSI algorithm itself is NOT
// grounded on src/ta/rsi.cpp's deque-reseed-on-zero behavior — that is intentionally NOT carried
// over; RSI implements the seeded/warmup_count/sum_gain/sum_loss state machine the spec defines.
package indicator

import (
	"github.com/GeekChomolungma/ChomoSyncer/internal/candle"
	"github.com/GeekChomolungma/ChomoSyncer/internal/store"
)

// Calculator is the capability set every indicator variant implements.
type Calculator interface {
	Name() string
	Period() int
	LoadState(state store.IndicatorState) error
	Update(c candle.Candle) (updated bool)
	Snapshot() *store.IndicatorState
}
