package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GeekChomolungma/ChomoSyncer/internal/buffer"
	"github.com/GeekChomolungma/ChomoSyncer/internal/candle"
	"github.com/GeekChomolungma/ChomoSyncer/internal/logging"
)

type fakeBuffer struct {
	entries      []buffer.Entry
	acked        []string
	published    map[string][]string
	trimmed      []string
	groupEnsured bool
}

func newFakeBuffer() *fakeBuffer {
	return &fakeBuffer{published: map[string][]string{}}
}

func (f *fakeBuffer) EnsureGroup(ctx context.Context, stream, group string) error {
	f.groupEnsured = true
	return nil
}

func (f *fakeBuffer) ReadGroup(ctx context.Context, stream, group, consumer string, count int64) ([]buffer.Entry, error) {
	out := f.entries
	f.entries = nil
	return out, nil
}

func (f *fakeBuffer) Ack(ctx context.Context, stream, group, id string) error {
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeBuffer) Trim(ctx context.Context, stream string, maxLenApprox int64) error {
	f.trimmed = append(f.trimmed, stream)
	return nil
}

func (f *fakeBuffer) Publish(ctx context.Context, stream, payload string) error {
	f.published[stream] = append(f.published[stream], payload)
	return nil
}

type fakeStore struct {
	upserts []map[candle.Key][]candle.Candle
}

func (f *fakeStore) UpsertClosed(ctx context.Context, db string, bucketed map[candle.Key][]candle.Candle) error {
	f.upserts = append(f.upserts, bucketed)
	return nil
}

type fakeIndicator struct {
	seen []candle.Candle
}

func (f *fakeIndicator) ProcessNewCandle(ctx context.Context, c candle.Candle) {
	f.seen = append(f.seen, c)
}

func klinePayload(symbol, interval string, startMs int64, isFinal bool) string {
	return fmt.Sprintf(`{"e":"kline","s":%q,"k":{"t":%d,"T":%d,"s":%q,"i":%q,"f":1,"L":1,"o":"1","c":"1","h":"1","l":"1","v":"1","q":"1","n":1,"x":%t,"Q":"1","V":"1"}}`,
		symbol, startMs, startMs+59999, symbol, interval, isFinal)
}

func ackPayload() string { return `{"result":null,"id":1}` }

func TestRunOnce_AckFrame_AcksAndSkips(t *testing.T) {
	buf := newFakeBuffer()
	buf.entries = []buffer.Entry{{ID: "1-1", Payload: ackPayload()}}
	st := &fakeStore{}
	ind := &fakeIndicator{}
	d := New(buf, st, ind, logging.New(logging.LevelError))

	n, err := d.runOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"1-1"}, buf.acked)
	require.Empty(t, ind.seen)
	require.Empty(t, st.upserts)
}

func TestRunOnce_ClosedCandle_RepublishesSortsAndUpserts(t *testing.T) {
	buf := newFakeBuffer()
	buf.entries = []buffer.Entry{
		{ID: "2-1", Payload: klinePayload("BTCUSDT", "1m", 120_000, true)},
		{ID: "1-1", Payload: klinePayload("BTCUSDT", "1m", 60_000, true)},
	}
	st := &fakeStore{}
	ind := &fakeIndicator{}
	d := New(buf, st, ind, logging.New(logging.LevelError))

	n, err := d.runOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Len(t, ind.seen, 2)
	require.Equal(t, int64(60_000), ind.seen[0].StartTimeMs)
	require.Equal(t, int64(120_000), ind.seen[1].StartTimeMs)

	require.Len(t, st.upserts, 1)
	require.Contains(t, buf.published, "btcusdt-1m-stream")
	require.Len(t, buf.published["btcusdt-1m-stream"], 2)
	require.Contains(t, buf.trimmed, "btcusdt-1m-stream")
	require.Contains(t, buf.trimmed, buffer.GlobalStream)
	require.Len(t, buf.acked, 2)
}

func TestRunOnce_NonFinalCandle_RepublishesButNotUpserted(t *testing.T) {
	buf := newFakeBuffer()
	buf.entries = []buffer.Entry{{ID: "1-1", Payload: klinePayload("ETHUSDT", "1m", 60_000, false)}}
	st := &fakeStore{}
	ind := &fakeIndicator{}
	d := New(buf, st, ind, logging.New(logging.LevelError))

	n, err := d.runOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, ind.seen)
	require.Empty(t, st.upserts)
	require.Contains(t, buf.published, "ethusdt-1m-stream")
}

func TestRunOnce_EmptyBatch_ReturnsZero(t *testing.T) {
	buf := newFakeBuffer()
	st := &fakeStore{}
	ind := &fakeIndicator{}
	d := New(buf, st, ind, logging.New(logging.LevelError))

	n, err := d.runOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
