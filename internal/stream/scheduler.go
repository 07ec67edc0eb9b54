// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"time"

	"github.com/jeranaias/rigrun-stream/internal/clock"
)

// DefaultFrameInterval is roughly one frame at 60fps.
const DefaultFrameInterval = 16 * time.Millisecond

// Handle is a scheduled flush that has not run yet.
type Handle interface {
	Cancel()
}

// Scheduler runs fn once, roughly one frame from now.
type Scheduler interface {
	Schedule(fn func()) Handle
}

// =============================================================================
// FRAME SCHEDULER
// =============================================================================

// FrameScheduler fires flushes through a clock timer and hands them to post
// (normally loop.Post), so the callback itself always runs on the loop.
type FrameScheduler struct {
	clock    clock.Clock
	post     func(func()) bool
	interval time.Duration
}

// NewFrameScheduler creates a scheduler. A non-positive interval uses
// DefaultFrameInterval.
func NewFrameScheduler(clk clock.Clock, post func(func()) bool, interval time.Duration) *FrameScheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &FrameScheduler{clock: clk, post: post, interval: interval}
}

// Interval returns the frame interval.
func (s *FrameScheduler) Interval() time.Duration {
	return s.interval
}

// Schedule arms a timer for fn.
func (s *FrameScheduler) Schedule(fn func()) Handle {
	h := &frameHandle{}
	h.timer = s.clock.AfterFunc(s.interval, func() {
		s.post(func() {
			// The timer may have fired before Cancel ran on the loop.
			if h.cancelled {
				return
			}
			h.cancelled = true
			fn()
		})
	})
	return h
}

// frameHandle is only read and written on the loop, except for timer
// which is immutable after Schedule returns.
type frameHandle struct {
	timer     clock.Timer
	cancelled bool
}

func (h *frameHandle) Cancel() {
	h.cancelled = true
	h.timer.Stop()
}
