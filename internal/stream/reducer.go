// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/clock"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/protocol"
)

// =============================================================================
// ERRORS
// =============================================================================

// StreamError is a protocol-level error that aborted the current turn.
// The conversation remains usable.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "stream error"
	}
	return fmt.Sprintf("stream error: %s", e.Message)
}

// =============================================================================
// TURN
// =============================================================================

// State is the reducer state.
type State int

const (
	Idle State = iota
	Streaming
)

func (s State) String() string {
	if s == Streaming {
		return "streaming"
	}
	return "idle"
}

// Turn is one streaming assistant response from start to end or error.
type Turn struct {
	buffer *DeltaBuffer
}

// Content returns everything received in this turn.
func (t *Turn) Content() string { return t.buffer.Content() }

// Published returns the content as of the last frame flush.
func (t *Turn) Published() string { return t.buffer.Published() }

// =============================================================================
// REDUCER
// =============================================================================

// Result describes what one event did.
type Result struct {
	// Message is set when the event finalized an assistant message.
	Message *model.Message
	// Err is set when the event aborted the turn.
	Err *StreamError
	// Started is set when a new turn began.
	Started bool
	// Discarded is set when a start arrived mid-stream and the old turn
	// was dropped.
	Discarded bool
	// Ignored is set when the event had no effect.
	Ignored bool
}

// Reducer is the Idle/Streaming state machine. At most one Turn exists.
type Reducer struct {
	sched   Scheduler
	onFlush func(string)
	clock   clock.Clock
	logger  *zap.Logger

	turn *Turn
}

// NewReducer creates a reducer. onFlush is called with the published
// streaming content after each frame flush.
func NewReducer(sched Scheduler, onFlush func(string), clk clock.Clock, logger *zap.Logger) *Reducer {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{
		sched:   sched,
		onFlush: onFlush,
		clock:   clk,
		logger:  logger.Named("stream"),
	}
}

// State returns the current state.
func (r *Reducer) State() State {
	if r.turn != nil {
		return Streaming
	}
	return Idle
}

// Streaming reports whether a turn is in flight.
func (r *Reducer) Streaming() bool { return r.turn != nil }

// Turn returns the in-flight turn, or nil.
func (r *Reducer) Turn() *Turn { return r.turn }

// Published returns the streaming text currently visible, or "".
func (r *Reducer) Published() string {
	if r.turn == nil {
		return ""
	}
	return r.turn.Published()
}

// Apply feeds one event through the state machine.
func (r *Reducer) Apply(ev protocol.Event) Result {
	switch ev.Type {
	case protocol.TypeStart:
		return r.start()
	case protocol.TypeDelta:
		return r.delta(ev)
	case protocol.TypeEnd:
		return r.end(ev)
	case protocol.TypeMessageError, protocol.TypeError:
		return r.fail(ev)
	case protocol.TypePong:
		return Result{Ignored: true}
	default:
		r.logger.Debug("ignoring unknown event", zap.String("type", ev.Type))
		return Result{Ignored: true}
	}
}

func (r *Reducer) start() Result {
	var res Result
	if r.turn != nil {
		r.logger.Warn("start received while streaming, discarding turn",
			zap.Int("discarded_len", r.turn.buffer.Len()))
		r.turn.buffer.Reset()
		res.Discarded = true
	}
	r.turn = &Turn{buffer: NewDeltaBuffer(r.sched, r.onFlush)}
	res.Started = true
	return res
}

func (r *Reducer) delta(ev protocol.Event) Result {
	if r.turn == nil {
		r.logger.Debug("delta received while idle", zap.Int("len", len(ev.Content)))
		return Result{Ignored: true}
	}
	r.turn.buffer.Append(ev.Content)
	return Result{}
}

func (r *Reducer) end(ev protocol.Event) Result {
	content := ""
	if r.turn != nil {
		content = r.turn.buffer.Content()
		r.clear()
	}
	if content == "" {
		if !ev.HasContent {
			r.logger.Debug("end without buffered text or content field, nothing to finalize")
			return Result{Ignored: true}
		}
		content = ev.Content
	}
	if content == "" {
		r.logger.Debug("end with empty content field, nothing to finalize")
		return Result{Ignored: true}
	}

	msg := model.NewAssistantMessage(ev.MessageID, content, ev.Metadata, r.clock.Now())
	return Result{Message: &msg}
}

func (r *Reducer) fail(ev protocol.Event) Result {
	r.clear()
	r.logger.Info("turn aborted", zap.String("reason", ev.Content))
	return Result{Err: &StreamError{Message: ev.Content}}
}

// Reset discards the in-flight turn and cancels its pending flush.
func (r *Reducer) Reset() {
	r.clear()
}

func (r *Reducer) clear() {
	if r.turn == nil {
		return
	}
	r.turn.buffer.Reset()
	r.turn = nil
}
