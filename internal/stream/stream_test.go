// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"strings"
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

// manualScheduler records scheduled flushes and runs them on demand.
type manualScheduler struct {
	handles []*manualHandle
}

type manualHandle struct {
	fn        func()
	cancelled bool
	ran       bool
}

func (h *manualHandle) Cancel() { h.cancelled = true }

func (s *manualScheduler) Schedule(fn func()) Handle {
	h := &manualHandle{fn: fn}
	s.handles = append(s.handles, h)
	return h
}

// live returns the number of scheduled, uncancelled, unrun flushes.
func (s *manualScheduler) live() int {
	n := 0
	for _, h := range s.handles {
		if !h.cancelled && !h.ran {
			n++
		}
	}
	return n
}

// fire runs every live flush.
func (s *manualScheduler) fire() {
	for _, h := range s.handles {
		if !h.cancelled && !h.ran {
			h.ran = true
			h.fn()
		}
	}
}

func newTestReducer(sched Scheduler, published *[]string) *Reducer {
	return NewReducer(sched, func(s string) {
		if published != nil {
			*published = append(*published, s)
		}
	}, clock.NewFake(), zap.NewNop())
}

func start() protocol.Event { return protocol.Event{Type: protocol.TypeStart} }

func delta(s string) protocol.Event {
	return protocol.Event{Type: protocol.TypeDelta, Content: s, HasContent: true}
}

func end() protocol.Event { return protocol.Event{Type: protocol.TypeEnd} }

// =============================================================================
// DELTA BUFFER
// =============================================================================

func TestDeltaBufferSchedulesOnce(t *testing.T) {
	sched := &manualScheduler{}
	var published []string
	buf := NewDeltaBuffer(sched, func(s string) { published = append(published, s) })

	buf.Append("a")
	buf.Append("b")
	buf.Append("c")

	assert.Equal(t, 1, sched.live(), "only one flush may be pending")
	assert.Equal(t, "", buf.Published(), "buffer is not the published value")

	sched.fire()
	assert.Equal(t, []string{"abc"}, published)
	assert.False(t, buf.Pending())

	buf.Append("d")
	assert.Equal(t, 1, sched.live())
	sched.fire()
	assert.Equal(t, []string{"abc", "abcd"}, published)
}

func TestDeltaBufferFlushIsPrefix(t *testing.T) {
	sched := &manualScheduler{}
	var published []string
	buf := NewDeltaBuffer(sched, func(s string) { published = append(published, s) })

	deltas := []string{"Lo", "rem ", "ip", "sum ", "dolor", " sit"}
	var all strings.Builder
	for i, d := range deltas {
		buf.Append(d)
		all.WriteString(d)
		if i%2 == 1 {
			sched.fire()
		}
	}
	sched.fire()

	for _, p := range published {
		assert.True(t, strings.HasPrefix(all.String(), p), "flush %q is not a prefix", p)
	}
	for i := 1; i < len(published); i++ {
		assert.GreaterOrEqual(t, len(published[i]), len(published[i-1]), "published content shrank")
	}
}

func TestDeltaBufferReset(t *testing.T) {
	sched := &manualScheduler{}
	flushed := 0
	buf := NewDeltaBuffer(sched, func(string) { flushed++ })

	buf.Append("x")
	buf.Flush()
	buf.Append("y")
	buf.Reset()

	assert.Equal(t, 0, sched.live())
	assert.Equal(t, "", buf.Content())
	assert.Equal(t, "", buf.Published())
	sched.fire()
	assert.Equal(t, 1, flushed, "cancelled flush must not run")
}

// =============================================================================
// REDUCER
// =============================================================================

func TestReducerScenarioDeltasThenEnd(t *testing.T) {
	sched := &manualScheduler{}
	r := newTestReducer(sched, nil)

	assert.True(t, r.Apply(start()).Started)
	r.Apply(delta("Hi"))
	r.Apply(delta(" there"))
	res := r.Apply(end())

	require.NotNil(t, res.Message)
	assert.Equal(t, "Hi there", res.Message.Content)
	assert.Equal(t, "assistant", res.Message.Role.String())
	assert.NotEmpty(t, res.Message.ID)
	assert.False(t, r.Streaming())
	assert.Nil(t, r.Turn())
	assert.Equal(t, 0, sched.live(), "end cancels the pending flush")
	assert.Equal(t, "", r.Published())
}

func TestReducerScenarioError(t *testing.T) {
	sched := &manualScheduler{}
	r := newTestReducer(sched, nil)

	r.Apply(start())
	r.Apply(delta("partial"))
	res := r.Apply(protocol.Event{Type: protocol.TypeError, Content: "rate limited"})

	assert.Nil(t, res.Message)
	require.NotNil(t, res.Err)
	assert.Equal(t, "rate limited", res.Err.Message)
	assert.Contains(t, res.Err.Error(), "rate limited")
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, 0, sched.live())

	r.Apply(start())
	res = r.Apply(protocol.Event{Type: protocol.TypeMessageError, Content: "boom"})
	require.NotNil(t, res.Err)
	assert.Equal(t, Idle, r.State())
}

func TestReducerScenarioSingleShotEnd(t *testing.T) {
	r := newTestReducer(&manualScheduler{}, nil)

	res := r.Apply(protocol.Event{Type: protocol.TypeEnd, Content: "precomputed", HasContent: true, MessageID: "srv-9"})
	require.NotNil(t, res.Message)
	assert.Equal(t, "precomputed", res.Message.Content)
	assert.Equal(t, "srv-9", res.Message.ID)

	r.Apply(start())
	res = r.Apply(protocol.Event{Type: protocol.TypeEnd, Content: "precomputed", HasContent: true})
	require.NotNil(t, res.Message)
	assert.Equal(t, "precomputed", res.Message.Content, "empty buffer falls back to end content")
}

func TestReducerBufferWinsOverEndContent(t *testing.T) {
	r := newTestReducer(&manualScheduler{}, nil)
	r.Apply(start())
	r.Apply(delta("streamed"))
	res := r.Apply(protocol.Event{Type: protocol.TypeEnd, Content: "other", HasContent: true})
	require.NotNil(t, res.Message)
	assert.Equal(t, "streamed", res.Message.Content)
}

func TestReducerEmptyEndCreatesNothing(t *testing.T) {
	r := newTestReducer(&manualScheduler{}, nil)
	r.Apply(start())
	res := r.Apply(end())
	assert.Nil(t, res.Message)
	assert.True(t, res.Ignored)
	assert.False(t, r.Streaming())
}

func TestReducerEndFallbackNeedsContentField(t *testing.T) {
	r := newTestReducer(&manualScheduler{}, nil)

	ev, err := protocol.Decode([]byte(`{"type":"message.end","content":"single shot"}`))
	require.NoError(t, err)
	res := r.Apply(ev)
	require.NotNil(t, res.Message)
	assert.Equal(t, "single shot", res.Message.Content)

	ev, err = protocol.Decode([]byte(`{"type":"message.end","content":""}`))
	require.NoError(t, err)
	require.True(t, ev.HasContent)
	assert.True(t, r.Apply(ev).Ignored, "present but empty")

	ev, err = protocol.Decode([]byte(`{"type":"message.end"}`))
	require.NoError(t, err)
	require.False(t, ev.HasContent)
	assert.True(t, r.Apply(ev).Ignored, "absent")
}

func TestReducerStartWhileStreamingDiscards(t *testing.T) {
	sched := &manualScheduler{}
	var published []string
	r := newTestReducer(sched, &published)

	r.Apply(start())
	r.Apply(delta("old"))
	res := r.Apply(start())
	assert.True(t, res.Discarded)
	assert.True(t, res.Started)
	assert.Equal(t, 0, sched.live(), "old turn's flush is cancelled")

	r.Apply(delta("new"))
	sched.fire()
	assert.Equal(t, []string{"new"}, published, "turns are never merged")

	final := r.Apply(end())
	require.NotNil(t, final.Message)
	assert.Equal(t, "new", final.Message.Content)
}

func TestReducerIgnoresStrayEvents(t *testing.T) {
	r := newTestReducer(&manualScheduler{}, nil)

	assert.True(t, r.Apply(delta("stray")).Ignored)
	assert.True(t, r.Apply(protocol.Event{Type: protocol.TypePong}).Ignored)
	assert.True(t, r.Apply(protocol.Event{Type: "message.typing"}).Ignored)
	assert.Equal(t, Idle, r.State())
}

func TestReducerConcatenatesInOrder(t *testing.T) {
	sched := &manualScheduler{}
	r := newTestReducer(sched, nil)
	r.Apply(start())

	parts := []string{"The ", "quick ", "brown ", "fox ", "jumps ", "über ", "\U0001F98A"}
	var want strings.Builder
	for i, p := range parts {
		r.Apply(delta(p))
		want.WriteString(p)
		if i == 3 {
			sched.fire()
			assert.Equal(t, want.String(), r.Published())
		}
	}
	res := r.Apply(end())
	require.NotNil(t, res.Message)
	assert.Equal(t, want.String(), res.Message.Content)
}

func TestReducerResetCancelsFlush(t *testing.T) {
	sched := &manualScheduler{}
	var published []string
	r := newTestReducer(sched, &published)

	r.Apply(start())
	r.Apply(delta("session A text"))
	r.Reset()
	sched.fire()

	assert.Empty(t, published, "no stale write after reset")
	assert.False(t, r.Streaming())
}

// =============================================================================
// FRAME SCHEDULER
// =============================================================================

func TestFrameSchedulerRunsOnLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lp := loop.New(zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = lp.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	clk := clock.NewFake()
	sched := NewFrameScheduler(clk, lp.Post, 0)
	assert.Equal(t, DefaultFrameInterval, sched.Interval())

	var published []string
	var buf *DeltaBuffer
	require.NoError(t, lp.Call(ctx, func() {
		buf = NewDeltaBuffer(sched, func(s string) { published = append(published, s) })
		buf.Append("he")
		buf.Append("llo")
	}))
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(DefaultFrameInterval - time.Millisecond)
	require.NoError(t, lp.Call(ctx, func() {}))
	var got []string
	require.NoError(t, lp.Call(ctx, func() { got = append(got, published...) }))
	assert.Empty(t, got, "flush waits a full frame")

	clk.Advance(time.Millisecond)
	require.NoError(t, lp.Call(ctx, func() { got = append([]string(nil), published...) }))
	assert.Equal(t, []string{"hello"}, got)
}

func TestFrameSchedulerCancelAfterFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lp := loop.New(zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = lp.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	clk := clock.NewFake()
	sched := NewFrameScheduler(clk, lp.Post, 10*time.Millisecond)

	ran := false
	var h Handle
	require.NoError(t, lp.Call(ctx, func() {
		h = sched.Schedule(func() { ran = true })
	}))

	// Hold the loop so the timer fires and posts its flush before Cancel
	// gets a chance to run, then cancel from the loop.
	gate := make(chan struct{})
	lp.Post(func() {
		<-gate
		h.Cancel()
	})
	clk.Advance(10 * time.Millisecond)
	close(gate)

	var result bool
	require.NoError(t, lp.Call(ctx, func() { result = ran }))
	assert.False(t, result, "cancelled handle must not run after its timer fired")
}
