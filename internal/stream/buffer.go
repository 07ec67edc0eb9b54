// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// =============================================================================
// DELTA BUFFER
// =============================================================================

// DeltaBuffer accumulates streamed text and publishes it at most once per
// scheduled flush.
type DeltaBuffer struct {
	buf       strings.Builder
	published string
	pending   Handle

	sched   Scheduler
	onFlush func(string)
}

// NewDeltaBuffer creates a buffer. onFlush receives the full published
// content after every flush and may be nil.
func NewDeltaBuffer(sched Scheduler, onFlush func(string)) *DeltaBuffer {
	return &DeltaBuffer{sched: sched, onFlush: onFlush}
}

// Append adds a delta and schedules a flush unless one is already pending.
func (b *DeltaBuffer) Append(delta string) {
	b.buf.WriteString(delta)
	if b.pending != nil || b.sched == nil {
		return
	}
	b.pending = b.sched.Schedule(b.flush)
}

// Flush publishes the buffer now and cancels any pending flush.
func (b *DeltaBuffer) Flush() {
	b.cancelPending()
	b.flush()
}

func (b *DeltaBuffer) flush() {
	b.pending = nil
	b.published = b.buf.String()
	if b.onFlush != nil {
		b.onFlush(b.published)
	}
}

// Reset cancels the pending flush and empties both the buffer and the
// published view.
func (b *DeltaBuffer) Reset() {
	b.cancelPending()
	b.buf.Reset()
	b.published = ""
}

func (b *DeltaBuffer) cancelPending() {
	if b.pending != nil {
		b.pending.Cancel()
		b.pending = nil
	}
}

// Content returns everything appended so far.
func (b *DeltaBuffer) Content() string {
	return b.buf.String()
}

// Published returns the content as of the last flush.
func (b *DeltaBuffer) Published() string {
	return b.published
}

// Len returns the accumulated length in bytes.
func (b *DeltaBuffer) Len() int {
	return b.buf.Len()
}

// Pending reports whether a flush is scheduled.
func (b *DeltaBuffer) Pending() bool {
	return b.pending != nil
}
