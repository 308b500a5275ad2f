// Package dispatcher implements C6: the single-worker consumer that drains the global Redis
// Streams log, republishes per pair, and feeds closed candles to the indicator engine and store
// in strict (symbol, interval) start-time order.
//
// Grounded on original_source/src/dataSync/exBinance.cpp::handle_data_persistence (the exact
// fetch -> republish/ack -> trim -> split -> sort -> indicator -> upsert -> sleep-if-empty loop).
package dispatcher

import (
	"context"
	"time"

	"github.com/GeekChomolungma/ChomoSyncer/internal/buffer"
	"github.com/GeekChomolungma/ChomoSyncer/internal/candle"
	"github.com/GeekChomolungma/ChomoSyncer/internal/errs"
	"github.com/GeekChomolungma/ChomoSyncer/internal/logging"
	"github.com/GeekChomolungma/ChomoSyncer/internal/store"
)

const (
	consumerName = "consumer1"
	batchSize    = 0 // no COUNT: each read drains every pending new entry
	idleSleep    = 1 * time.Second
)

// Buffer is the subset of buffer.Client the dispatcher needs, kept as an interface for testing.
type Buffer interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64) ([]buffer.Entry, error)
	Ack(ctx context.Context, stream, group, id string) error
	Trim(ctx context.Context, stream string, maxLenApprox int64) error
	Publish(ctx context.Context, stream, payload string) error
}

// Store is the subset of store.Client the dispatcher needs.
type Store interface {
	UpsertClosed(ctx context.Context, db string, bucketed map[candle.Key][]candle.Candle) error
}

// IndicatorSink is the subset of the indicator engine the dispatcher needs.
type IndicatorSink interface {
	ProcessNewCandle(ctx context.Context, c candle.Candle)
}

type Dispatcher struct {
	buf       Buffer
	store     Store
	indicator IndicatorSink
	log       *logging.Logger
}

func New(buf Buffer, storeClient Store, ind IndicatorSink, log *logging.Logger) *Dispatcher {
	return &Dispatcher{buf: buf, store: storeClient, indicator: ind, log: log}
}

// Run loops until ctx is cancelled, draining the global stream once per iteration.
func (d *Dispatcher) Run(ctx context.Context) {
	if err := d.buf.EnsureGroup(ctx, buffer.GlobalStream, buffer.GlobalGroup); err != nil {
		d.log.Error("failed to ensure global consumer group", logging.Fields{"error": err})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := d.runOnce(ctx)
		if err != nil {
			d.log.Error("dispatcher iteration failed", logging.Fields{"error": err})
			continue
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
		}
	}
}

// runOnce executes one fetch-dispatch-trim cycle and returns the number of entries processed.
func (d *Dispatcher) runOnce(ctx context.Context) (int, error) {
	entries, err := d.buf.ReadGroup(ctx, buffer.GlobalStream, buffer.GlobalGroup, consumerName, batchSize)
	if err != nil {
		return 0, errs.New(errs.KindBuffer, "ReadGroup global", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	bucketed := make(map[candle.Key][]candle.Candle)
	for _, entry := range entries {
		ack, c, parseErr := candle.ParseLiveEvent([]byte(entry.Payload))
		if parseErr != nil {
			d.log.Warn("dropping unparsable stream entry", logging.Fields{"error": parseErr})
			if ackErr := d.buf.Ack(ctx, buffer.GlobalStream, buffer.GlobalGroup, entry.ID); ackErr != nil {
				d.log.Error("failed to ack unparsable entry", logging.Fields{"error": ackErr})
			}
			continue
		}
		if ack {
			if ackErr := d.buf.Ack(ctx, buffer.GlobalStream, buffer.GlobalGroup, entry.ID); ackErr != nil {
				d.log.Error("failed to ack ack-frame entry", logging.Fields{"error": ackErr})
			}
			continue
		}

		pairStream := buffer.PerPairStream(c.Symbol, c.Interval)
		if pubErr := d.buf.Publish(ctx, pairStream, entry.Payload); pubErr != nil {
			d.log.Error("failed to republish to per-pair stream", logging.Fields{"stream": pairStream, "error": pubErr})
		} else if trimErr := d.buf.Trim(ctx, pairStream, buffer.DefaultTrimLen); trimErr != nil {
			d.log.Warn("failed to trim per-pair stream", logging.Fields{"stream": pairStream, "error": trimErr})
		}

		if c.IsFinal {
			bucketed[c.Key()] = append(bucketed[c.Key()], *c)
		}

		if ackErr := d.buf.Ack(ctx, buffer.GlobalStream, buffer.GlobalGroup, entry.ID); ackErr != nil {
			d.log.Error("failed to ack global entry", logging.Fields{"error": ackErr})
		}
	}

	if err := d.buf.Trim(ctx, buffer.GlobalStream, buffer.DefaultTrimLen); err != nil {
		d.log.Warn("failed to trim global stream", logging.Fields{"error": err})
	}

	for key, candles := range bucketed {
		store.SortCandlesAscending(candles)
		for _, c := range candles {
			d.indicator.ProcessNewCandle(ctx, c)
		}
		if err := d.store.UpsertClosed(ctx, store.MarketInfoDB, map[candle.Key][]candle.Candle{key: candles}); err != nil {
			d.log.Error("failed to bulk-upsert closed batch", logging.Fields{
				"symbol": key.Symbol, "interval": key.Interval, "error": err,
			})
		}
	}

	return len(entries), nil
}
