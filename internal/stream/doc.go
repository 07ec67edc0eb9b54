// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns inbound protocol events into finalized assistant
// messages.
//
// Deltas accumulate in a DeltaBuffer that is not itself the published
// value. Each delta asks the Scheduler for a flush; at most one flush is
// pending at a time, and a flush publishes the whole buffer, which is always
// a prefix of everything received so far. The Reducer owns the
// Idle/Streaming state machine around the buffer.
//
// # Key Types
//
//   - Reducer: Idle/Streaming state machine over protocol.Event
//   - Turn: the single in-flight streaming response
//   - DeltaBuffer: accumulated text plus the pending flush handle
//   - FrameScheduler: runs flushes on the loop once per frame
//   - StreamError: a protocol-level error that aborted a turn
//
// # Usage
//
//	sched := stream.NewFrameScheduler(clk, lp.Post, 16*time.Millisecond)
//	r := stream.NewReducer(sched, func(text string) { render(text) }, clk, logger)
//	res := r.Apply(ev)
//	if res.Message != nil {
//	    messages = append(messages, *res.Message)
//	}
//
// None of the types here are safe for concurrent use. They are meant to be
// driven from a single run loop.
package stream
