package liveclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GeekChomolungma/ChomoSyncer/internal/logging"
)

// fakeConn is a scripted Conn: each ReadMessage call pops the next scripted frame/error.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	errs    []error
	idx     int
	closed  bool
	writes  int
	blocked chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{blocked: make(chan struct{})}
}

func (f *fakeConn) script(frame []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	f.errs = append(f.errs, err)
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	if f.idx < len(f.frames) {
		frame, err := f.frames[f.idx], f.errs[f.idx]
		f.idx++
		f.mu.Unlock()
		return 1, frame, err
	}
	f.mu.Unlock()
	<-f.blocked // block forever once the script is exhausted, like an idle live socket
	return 0, nil, errors.New("unreachable")
}

func (f *fakeConn) WriteMessage(int, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.blocked)
	}
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []string
}

func (f *fakePublisher) Publish(ctx context.Context, stream, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeGapFiller struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeGapFiller) RunAll(ctx context.Context, symbols, intervals []string) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeGapFiller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRun_AckThenDataFrame_PublishesOnlyData(t *testing.T) {
	conn := newFakeConn()
	conn.script([]byte(`{"result":null,"id":1}`), nil)
	conn.script([]byte(`{"e":"kline","s":"BTCUSDT","k":{}}`), nil)

	dial := func(ctx context.Context, params []string) (Conn, error) { return conn, nil }
	pub := &fakePublisher{}
	gf := &fakeGapFiller{}

	c := New(dial, pub, gf, logging.New(logging.LevelError), []string{"BTCUSDT"}, []string{"1m"}).
		WithIntervals(20*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	waitFor(t, func() bool { return pub.count() == 1 })
	require.Equal(t, StateRunning, c.state)
	cancel()
}

func TestRun_ReadErrorTriggersReconnectAndGapFill(t *testing.T) {
	firstConn := newFakeConn()
	firstConn.script([]byte(`{"result":null,"id":1}`), nil)
	firstConn.script(nil, errors.New("connection reset"))

	secondConn := newFakeConn()
	secondConn.script([]byte(`{"result":null,"id":1}`), nil)

	var dialCount int
	var mu sync.Mutex
	dial := func(ctx context.Context, params []string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dialCount++
		if dialCount == 1 {
			return firstConn, nil
		}
		return secondConn, nil
	}

	pub := &fakePublisher{}
	gf := &fakeGapFiller{}

	c := New(dial, pub, gf, logging.New(logging.LevelError), []string{"BTCUSDT"}, []string{"1m"}).
		WithIntervals(20*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, func() bool { return gf.count() == 1 })
	require.True(t, firstConn.closed)
}

func TestRun_ConnectFailureEntersReconnectingImmediately(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	secondConn := newFakeConn()
	secondConn.script([]byte(`{"result":null,"id":1}`), nil)

	dial := func(ctx context.Context, params []string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("dial refused")
		}
		return secondConn, nil
	}

	pub := &fakePublisher{}
	gf := &fakeGapFiller{}
	c := New(dial, pub, gf, logging.New(logging.LevelError), []string{"BTCUSDT"}, []string{"1m"}).
		WithIntervals(20*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, func() bool { return gf.count() == 1 })
}
