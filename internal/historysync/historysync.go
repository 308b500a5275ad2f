// Package historysync implements C4: per (symbol, interval) REST backfill workers that
// converge with the live stream's high-water mark.
//
// Loop shape grounded on original_source/src/dataSync/exBinance.cpp::syncOneSymbol (query
// boundary via LatestSyncedRange -> REST fetch -> filter unclosed tail -> feed indicator ->
// bulk upsert -> stop when short batch). Concurrency shape (goroutine per pair, bounded
// WaitGroup + semaphore) grounded on the teacher's services/data_collection_service.go.
package historysync

import (
	"context"
	"sync"

	"github.com/GeekChomolungma/ChomoSyncer/internal/binancerest"
	"github.com/GeekChomolungma/ChomoSyncer/internal/candle"
	"github.com/GeekChomolungma/ChomoSyncer/internal/clock"
	"github.com/GeekChomolungma/ChomoSyncer/internal/errs"
	"github.com/GeekChomolungma/ChomoSyncer/internal/logging"
	"github.com/GeekChomolungma/ChomoSyncer/internal/store"
)

const (
	restLimit = 1000
	graceMs   = 1000
)

// IndicatorSink is the subset of the indicator engine's surface history sync needs, kept as an
// interface so tests can substitute a fake without pulling in the full engine/store stack.
type IndicatorSink interface {
	ProcessNewCandle(ctx context.Context, c candle.Candle)
}

// RESTSource is the subset of binancerest.Client needed, as an interface for testability.
type RESTSource interface {
	Klines(ctx context.Context, symbol, interval string, startTimeMs int64, limit int) ([]byte, error)
}

// StoreSource is the subset of store.Client needed, as an interface for testability.
type StoreSource interface {
	LatestSyncedRange(ctx context.Context, db, collection string) (int64, int64, error)
	UpsertClosed(ctx context.Context, db string, bucketed map[candle.Key][]candle.Candle) error
}

type Syncer struct {
	rest      RESTSource
	store     StoreSource
	indicator IndicatorSink
	log       *logging.Logger
	now       clock.Source
	epochMs   int64

	maxConcurrency int
}

func New(rest RESTSource, storeClient StoreSource, ind IndicatorSink, log *logging.Logger, now clock.Source, epochMs int64, maxConcurrency int) *Syncer {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Syncer{
		rest: rest, store: storeClient, indicator: ind, log: log, now: now,
		epochMs: epochMs, maxConcurrency: maxConcurrency,
	}
}

// RunAll runs one convergence pass per (symbol, interval) concurrently, bounded by a semaphore
// channel, and blocks until every worker has converged (or failed). Failures in one worker do
// not affect others, per §4.4.
func (s *Syncer) RunAll(ctx context.Context, symbols, intervals []string) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxConcurrency)

	for _, sym := range symbols {
		for _, iv := range intervals {
			sym, iv := sym, iv
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := s.SyncOne(ctx, sym, iv); err != nil {
					s.log.Error("history sync worker failed", logging.Fields{
						"symbol": sym, "interval": iv, "error": err,
					})
				}
			}()
		}
	}
	wg.Wait()
}

// SyncOne runs a single (symbol, interval) pair to convergence: it loops REST-paginating from
// the last persisted boundary until a response shorter than the page limit signals caught-up.
func (s *Syncer) SyncOne(ctx context.Context, symbol, interval string) error {
	collection := store.CandleCollection(symbol, interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		startMs, endMs, err := s.store.LatestSyncedRange(ctx, store.MarketInfoDB, collection)
		if err != nil {
			return errs.New(errs.KindStore, "LatestSyncedRange "+collection, err)
		}
		nextStart := s.epochMs
		if startMs != 0 || endMs != 0 {
			nextStart = endMs + 1
		}

		body, err := s.rest.Klines(ctx, symbol, interval, nextStart, restLimit)
		if err != nil {
			// A transport failure ends only this iteration; the next pass re-reads the store's
			// high-water mark and fetches again.
			s.log.Warn("rest fetch failed, retrying", logging.Fields{
				"symbol": symbol, "interval": interval,
				"error": errs.New(errs.KindTransport, "Klines "+symbol+" "+interval, err),
			})
			continue
		}

		rows, err := candle.ParseRESTArray(body, symbol, interval)
		if err != nil {
			s.log.Error("rest parse error, ending sync for this pair", logging.Fields{
				"symbol": symbol, "interval": interval, "error": err,
			})
			return err
		}

		nowMs := s.now()
		closed := make([]candle.Candle, 0, len(rows))
		for _, c := range rows {
			if nowMs >= c.EndTimeMs+graceMs {
				c.IsFinal = true
				closed = append(closed, c)
			}
		}

		// REST pages arrive ascending already, but re-assert the ordering invariant explicitly
		// (§4.6 step 5 applies to every feed path, not only the dispatcher's) rather than trust
		// it silently.
		store.SortCandlesAscending(closed)

		for _, c := range closed {
			s.indicator.ProcessNewCandle(ctx, c)
		}

		if len(closed) > 0 {
			bucketed := map[candle.Key][]candle.Candle{{Symbol: symbol, Interval: interval}: closed}
			if err := s.store.UpsertClosed(ctx, store.MarketInfoDB, bucketed); err != nil {
				return err
			}
		}

		if len(rows) < restLimit {
			return nil
		}
	}
}
