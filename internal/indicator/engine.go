package indicator

import (
	"context"
	"sync"

	"github.com/GeekChomolungma/ChomoSyncer/internal/candle"
	"github.com/GeekChomolungma/ChomoSyncer/internal/logging"
	"github.com/GeekChomolungma/ChomoSyncer/internal/store"
)

// Factory builds the default calculator set for a (symbol, interval) pair. The default
// configuration is a single RSI(14), per spec §4.7.
type Factory func(symbol, interval string) []Calculator

func DefaultFactory(symbol, interval string) []Calculator {
	return []Calculator{NewRSI(symbol, interval, 14)}
}

// Engine owns the calculator set for every configured (symbol, interval) pair and serializes
// updates per pair with a dedicated mutex, per §5's concurrency model (dispatcher and
// history-sync/gap-fill goroutines may call ProcessNewCandle for different pairs concurrently,
// but never for the same pair concurrently without this lock).
type Engine struct {
	store   *store.Client
	factory Factory
	log     *logging.Logger

	mu          sync.Mutex
	calculators map[candle.Key][]Calculator
	pairLocks   map[candle.Key]*sync.Mutex
}

func NewEngine(storeClient *store.Client, factory Factory, log *logging.Logger) *Engine {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Engine{
		store:       storeClient,
		factory:     factory,
		log:         log,
		calculators: make(map[candle.Key][]Calculator),
		pairLocks:   make(map[candle.Key]*sync.Mutex),
	}
}

// LoadCalculators instantiates the configured calculator list for every symbol x interval pair.
func (e *Engine) LoadCalculators(symbols, intervals []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range symbols {
		for _, iv := range intervals {
			key := candle.Key{Symbol: s, Interval: iv}
			if _, exists := e.calculators[key]; exists {
				continue
			}
			e.calculators[key] = e.factory(s, iv)
			e.pairLocks[key] = &sync.Mutex{}
			e.log.Info("loaded indicator calculators", logging.Fields{"symbol": s, "interval": iv})
		}
	}
}

// LoadStates hot-starts every calculator from its last persisted state in the indicators
// database. Absence of state is not an error; the calculator simply starts cold.
func (e *Engine) LoadStates(ctx context.Context, symbols, intervals []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range symbols {
		for _, iv := range intervals {
			key := candle.Key{Symbol: s, Interval: iv}
			for _, calc := range e.calculators[key] {
				collection := store.IndicatorCollection(calc.Name(), calc.Period(), s, iv)
				state, err := e.store.ReadIndicatorLatest(ctx, store.IndicatorsDB, collection)
				if err != nil {
					e.log.Warn("failed to read indicator state, starting cold", logging.Fields{
						"symbol": s, "interval": iv, "indicator": calc.Name(), "error": err,
					})
					continue
				}
				if state == nil {
					continue
				}
				if err := calc.LoadState(*state); err != nil {
					e.log.Warn("indicator state rejected, falling back to cold start", logging.Fields{
						"symbol": s, "interval": iv, "indicator": calc.Name(), "error": err,
					})
				}
			}
		}
	}
}

func (e *Engine) lockFor(key candle.Key) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.pairLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.pairLocks[key] = l
	}
	return l
}

// ProcessNewCandle dispatches c to every calculator registered for its (symbol, interval) pair;
// for each calculator that reports updated, its snapshot is persisted via the store client.
func (e *Engine) ProcessNewCandle(ctx context.Context, c candle.Candle) {
	key := c.Key()
	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	calcs := e.calculators[key]
	e.mu.Unlock()

	for _, calc := range calcs {
		if !calc.Update(c) {
			continue
		}
		snap := calc.Snapshot()
		if snap == nil {
			continue
		}
		collection := store.IndicatorCollection(calc.Name(), calc.Period(), key.Symbol, key.Interval)
		if err := e.store.WriteIndicatorState(ctx, store.IndicatorsDB, collection, *snap); err != nil {
			e.log.Error("failed to persist indicator state", logging.Fields{
				"symbol": key.Symbol, "interval": key.Interval, "indicator": calc.Name(), "error": err,
			})
		}
	}
}
