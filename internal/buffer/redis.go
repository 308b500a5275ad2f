// Package buffer implements the C2 buffer client on top of Redis Streams.
//
// Command sequence grounded on original_source/src/db/marketDataStreamManager.cpp
// (XADD .. * data <payload>, XGROUP CREATE .. $ MKSTREAM, XREADGROUP GROUP .. STREAMS .. >,
// XACK, XTRIM .. MAXLEN ~ n); pool sizing grounded on the teacher's pkg/cache/redis.go.
package buffer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GeekChomolungma/ChomoSyncer/internal/errs"
)

const (
	// DataField is the single field name every stream entry's payload is stored under.
	DataField = "data"

	GlobalStream = "global_klines_stream"
	GlobalGroup  = "global_klines_group"

	DefaultTrimLen = 10000
)

// Entry is one consumed stream message.
type Entry struct {
	ID      string
	Payload string
}

// Client wraps a pooled *redis.Client with the Streams operations C2 needs.
type Client struct {
	rdb *redis.Client
}

// Options mirrors the teacher's connection posture (pkg/cache/redis.go): a sized pool with
// short read/write timeouts tuned for a low-latency ingestion hot path.
type Options struct {
	Host     string
	Port     int
	Password string
}

func New(opts Options) *Client {
	addr := opts.Host
	if opts.Port != 0 && !strings.Contains(addr, ":") {
		addr = addr + ":" + strconv.Itoa(opts.Port)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   -1, // no retries inside the client; callers retry at their own level
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish appends payload to stream under the "data" field with a server-assigned id.
func (c *Client) Publish(ctx context.Context, stream, payload string) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{DataField: payload},
	}).Err()
	if err != nil {
		return errs.New(errs.KindBuffer, "XADD "+stream, err)
	}
	return nil
}

// EnsureGroup creates the consumer group (and the stream, via MKSTREAM) if it does not already
// exist. A BUSYGROUP reply (group already exists) is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errs.New(errs.KindBuffer, "XGROUP CREATE "+stream, err)
	}
	return nil
}

// ReadGroup lazily ensures the group/stream exist, then reads up to count new (">") entries
// for consumer; a count of 0 sends no COUNT and reads every new entry. A short block is used so an empty stream does not spin the caller.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64) ([]Entry, error) {
	if err := c.EnsureGroup(ctx, stream, group); err != nil {
		return nil, err
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    2 * time.Second,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errs.New(errs.KindBuffer, "XREADGROUP "+stream, err)
	}

	var out []Entry
	for _, streamResult := range res {
		for _, msg := range streamResult.Messages {
			payload, ok := msg.Values[DataField]
			if !ok {
				continue
			}
			s, ok := payload.(string)
			if !ok {
				continue
			}
			out = append(out, Entry{ID: msg.ID, Payload: s})
		}
	}
	return out, nil
}

// Ack removes id from the group's pending entries list.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return errs.New(errs.KindBuffer, "XACK "+stream, err)
	}
	return nil
}

// Trim caps stream at approximately maxLenApprox newest entries.
func (c *Client) Trim(ctx context.Context, stream string, maxLenApprox int64) error {
	if err := c.rdb.XTrimMaxLenApprox(ctx, stream, maxLenApprox, 0).Err(); err != nil {
		return errs.New(errs.KindBuffer, "XTRIM "+stream, err)
	}
	return nil
}

// PerPairStream returns the "<symbol>-<interval>-stream" name, lowercased per §6.
func PerPairStream(symbol, interval string) string {
	return strings.ToLower(symbol) + "-" + strings.ToLower(interval) + "-stream"
}

// PerPairGroup returns the "<symbol>-group" consumer group name, lowercased per §6.
func PerPairGroup(symbol string) string {
	return strings.ToLower(symbol) + "-group"
}
