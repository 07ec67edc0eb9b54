// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/clock"
	"github.com/jeranaias/rigrun-stream/internal/loop"
	"github.com/jeranaias/rigrun-stream/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FAKES
// =============================================================================

type fakeChannel struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeChannel) Read() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeChannel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	err      error
	sessions []string
	channels []*fakeChannel
}

func (d *fakeDialer) Dial(_ context.Context, sessionID string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, sessionID)
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[i]
}

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
	states []State
	errs   []error
}

func (r *recorder) handler() Handler {
	return HandlerFuncs{
		Event: func(ev protocol.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		},
		State: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		Error: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	t      *testing.T
	ctx    context.Context
	lp     *loop.Loop
	clk    *clock.Fake
	dialer *fakeDialer
	rec    *recorder
	m      *Manager
}

func testConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  2 * time.Second,
		ReconnectBase:     time.Second,
		ReconnectMax:      8 * time.Second,
		MaxAttempts:       4,
		DialTimeout:       time.Second,
		SendQueue:         8,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:      t,
		ctx:    ctx,
		lp:     loop.New(zap.NewNop()),
		clk:    clock.NewFake(),
		dialer: &fakeDialer{},
		rec:    &recorder{},
	}
	h.m = NewManager(h.lp, h.dialer, cfg, h.rec.handler(), WithClock(h.clk), WithLogger(zap.NewNop()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.lp.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = h.lp.Call(ctx, h.m.Disconnect)
		cancel()
		<-done
	})
	return h
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.lp.Call(h.ctx, fn))
}

func (h *harness) state() State {
	var s State
	h.do(func() { s = h.m.State() })
	return s
}

func (h *harness) waitFor(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, 2*time.Second, time.Millisecond, msg)
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	h.waitFor(func() bool { return h.state() == want }, "waiting for state "+want.String())
}

func (h *harness) waitAttempt(n int) {
	h.t.Helper()
	h.waitFor(func() bool {
		var attempt int
		var s State
		h.do(func() { attempt, s = h.m.Attempt(), h.m.State() })
		return attempt == n && s == StateErroring
	}, "waiting for failed attempt")
}

// =============================================================================
// TESTS
// =============================================================================

func TestBackoff(t *testing.T) {
	cfg := Config{ReconnectBase: time.Second, ReconnectMax: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())

	h.do(func() {
		h.m.Connect("s1")
		h.m.Connect("s1")
	})
	h.waitState(StateConnected)
	h.do(func() { h.m.Connect("s1") })

	assert.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, "s1", h.m.Session())
}

func TestSendRequiresConnection(t *testing.T) {
	h := newHarness(t, testConfig())
	meta := protocol.Metadata{ModelType: "chat", Provider: "openai", Model: "gpt-4o-mini"}

	var err error
	h.do(func() { err = h.m.Send("early", meta) })
	assert.ErrorIs(t, err, ErrNotConnected)

	h.do(func() { h.m.Connect("s1") })
	h.waitState(StateConnected)

	h.do(func() { err = h.m.Send("hello", meta) })
	require.NoError(t, err)

	ch := h.dialer.channel(0)
	h.waitFor(func() bool { return len(ch.writes()) == 1 }, "frame written")
	assert.JSONEq(t,
		`{"type":"message","text":"hello","metadata":{"model_type":"chat","provider":"openai","model":"gpt-4o-mini"}}`,
		ch.writes()[0])
}

func TestInboundEventsInOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	h.do(func() { h.m.Connect("s1") })
	h.waitState(StateConnected)

	ch := h.dialer.channel(0)
	ch.in <- []byte(`{"type":"message.start"}`)
	ch.in <- []byte(`not json`)
	ch.in <- []byte(`{"type":"message.delta","content":"a"}`)
	ch.in <- []byte(`{"type":"message.delta","content":"b"}`)
	ch.in <- []byte(`{"type":"pong"}`)

	h.waitFor(func() bool { return h.rec.eventCount() == 3 }, "three events")
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Equal(t, protocol.TypeStart, h.rec.events[0].Type)
	assert.Equal(t, "a", h.rec.events[1].Content)
	assert.Equal(t, "b", h.rec.events[2].Content)
}

func TestReconnectGivesUp(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	h.dialer.setErr(errors.New("connection refused"))

	h.do(func() { h.m.Connect("s1") })
	for attempt := 1; attempt < cfg.MaxAttempts; attempt++ {
		h.waitAttempt(attempt)
		h.clk.Advance(cfg.Backoff(attempt))
	}
	h.waitAttempt(cfg.MaxAttempts)

	var exhausted bool
	h.do(func() { exhausted = h.m.Exhausted() })
	assert.True(t, exhausted)
	assert.Equal(t, cfg.MaxAttempts, h.dialer.dials())
	assert.Equal(t, 0, h.clk.Pending(), "no retry after exhaustion")

	errs := h.rec.errors()
	require.Len(t, errs, cfg.MaxAttempts+1)
	var ce *ConnectionError
	require.ErrorAs(t, errs[0], &ce)
	assert.Equal(t, 1, ce.Attempt)
	assert.ErrorIs(t, errs[len(errs)-1], ErrReconnectExhausted)

	h.clk.Advance(time.Hour)
	assert.Equal(t, cfg.MaxAttempts, h.dialer.dials(), "stays down without a signal")

	// A lifecycle signal restarts the budget.
	h.dialer.setErr(nil)
	h.do(func() { h.m.HandleLifecycle(SignalFocus) })
	h.waitState(StateConnected)
	assert.Equal(t, cfg.MaxAttempts+1, h.dialer.dials())
}

func TestManualReconnectRestoresBudget(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	h.dialer.setErr(errors.New("connection refused"))

	h.do(func() { h.m.Connect("s1") })
	for attempt := 1; attempt < cfg.MaxAttempts; attempt++ {
		h.waitAttempt(attempt)
		h.clk.Advance(cfg.Backoff(attempt))
	}
	h.waitAttempt(cfg.MaxAttempts)

	// Still refusing: the manual redial gets a full new series.
	h.do(func() { h.m.Reconnect() })
	for attempt := 1; attempt < cfg.MaxAttempts; attempt++ {
		h.waitAttempt(attempt)
		var exhausted bool
		h.do(func() { exhausted = h.m.Exhausted() })
		assert.False(t, exhausted, "attempt %d", attempt)
		assert.Equal(t, 1, h.clk.Pending(), "retry scheduled after attempt %d", attempt)
		h.clk.Advance(cfg.Backoff(attempt))
	}
	h.waitAttempt(cfg.MaxAttempts)

	var exhausted bool
	h.do(func() { exhausted = h.m.Exhausted() })
	assert.True(t, exhausted)
	assert.Equal(t, 2*cfg.MaxAttempts, h.dialer.dials())
}

func TestReconnectIgnoredWhileConnected(t *testing.T) {
	h := newHarness(t, testConfig())
	h.do(func() { h.m.Reconnect() })
	assert.Equal(t, 0, h.dialer.dials(), "no session bound")

	h.do(func() { h.m.Connect("s1") })
	h.waitState(StateConnected)
	h.do(func() { h.m.Reconnect() })
	assert.Equal(t, 1, h.dialer.dials())
}

func TestReconnectAfterDrop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.do(func() { h.m.Connect("s1") })
	h.waitState(StateConnected)

	h.dialer.channel(0).Close()
	h.waitAttempt(1)

	h.clk.Advance(time.Second)
	h.waitState(StateConnected)
	assert.Equal(t, 2, h.dialer.dials())
}

func TestHeartbeatTimeoutDrops(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	h.do(func() { h.m.Connect("s1") })
	h.waitState(StateConnected)
	ch := h.dialer.channel(0)

	h.clk.Advance(cfg.HeartbeatInterval)
	h.do(func() {})
	h.waitFor(func() bool { return len(ch.writes()) == 1 }, "ping written")
	assert.JSONEq(t, `{"type":"ping"}`, ch.writes()[0])

	h.clk.Advance(cfg.HeartbeatTimeout)
	h.waitAttempt(1)
	assert.True(t, ch.isClosed())

	errs := h.rec.errors()
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], ErrHeartbeatTimeout)
}

func TestPongKeepsConnectionAlive(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	h.do(func() { h.m.Connect("s1") })
	h.waitState(StateConnected)
	ch := h.dialer.channel(0)

	h.clk.Advance(cfg.HeartbeatInterval)
	h.do(func() {})
	ch.in <- []byte(`{"type":"pong"}`)
	h.waitFor(func() bool {
		var last time.Time
		h.do(func() { last = h.m.LastPong() })
		return !last.IsZero()
	}, "pong recorded")

	h.clk.Advance(cfg.HeartbeatTimeout)
	h.do(func() {})
	assert.Equal(t, StateConnected, h.state())
	assert.Empty(t, h.rec.errors())
	assert.Equal(t, 0, h.rec.eventCount(), "pong is not forwarded")

	h.clk.Advance(cfg.HeartbeatInterval)
	h.do(func() {})
	h.waitFor(func() bool { return len(ch.writes()) == 2 }, "second ping")
}

func TestSessionSwitchSuppressesOldChannel(t *testing.T) {
	h := newHarness(t, testConfig())
	h.do(func() { h.m.Connect("a") })
	h.waitState(StateConnected)

	var oldGen uint64
	h.do(func() {
		oldGen = h.m.gen
		h.m.Connect("b")
	})
	h.waitState(StateConnected)
	assert.True(t, h.dialer.channel(0).isClosed(), "previous channel torn down")
	assert.Equal(t, "b", h.m.Session())

	h.do(func() {
		h.m.received(oldGen, []byte(`{"type":"message.delta","content":"leak"}`))
		h.m.dropped(oldGen, io.EOF)
	})
	assert.Equal(t, 0, h.rec.eventCount())
	assert.Empty(t, h.rec.errors())
	assert.Equal(t, StateConnected, h.state())
}

func TestDisconnectCancelsTimers(t *testing.T) {
	h := newHarness(t, testConfig())
	h.do(func() { h.m.Connect("s1") })
	h.waitState(StateConnected)
	require.Equal(t, 1, h.clk.Pending(), "heartbeat armed")

	h.do(h.m.Disconnect)
	assert.Equal(t, StateDisconnected, h.state())
	assert.Equal(t, 0, h.clk.Pending())
	assert.True(t, h.dialer.channel(0).isClosed())

	var err error
	h.do(func() { err = h.m.Send("x", protocol.Metadata{}) })
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.dialer.setErr(errors.New("refused"))
	h.do(func() { h.m.Connect("s1") })
	h.waitAttempt(1)
	require.Equal(t, 1, h.clk.Pending())

	h.do(h.m.Disconnect)
	assert.Equal(t, 0, h.clk.Pending())
	h.clk.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dials())
}

func TestLifecycleSignals(t *testing.T) {
	h := newHarness(t, testConfig())

	// No session bound: nothing to reconnect.
	h.do(func() { h.m.HandleLifecycle(SignalVisible) })
	assert.Equal(t, 0, h.dialer.dials())

	h.do(func() { h.m.Connect("s1") })
	h.waitState(StateConnected)

	h.do(func() { h.m.HandleLifecycle(SignalHidden) })
	assert.Equal(t, StateConnected, h.state(), "hidden never disconnects")
	assert.False(t, h.m.Visible())

	h.do(func() { h.m.HandleLifecycle(SignalRestored) })
	assert.True(t, h.m.Visible())
	assert.Equal(t, 1, h.dialer.dials(), "already connected")
}
