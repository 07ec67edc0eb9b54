// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package loop provides the single goroutine that owns all conversation
// state. Network readers, timers and UI input never touch state directly;
// they post closures here and the loop runs them one at a time.
//
// Work is split into two tiers. High-priority work (message insertion,
// stream flushes, connection state) always drains before low-priority work
// (session preview text), so a burst of previews can never delay rendering
// of the message itself.
package loop

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted to a loop that is not running.
var ErrStopped = errors.New("loop stopped")

// Loop is a cooperative run loop with a two-tier queue.
// Post and Defer never block, so they are safe to call from the loop itself.
type Loop struct {
	mu      sync.Mutex
	high    []func()
	low     []func()
	stopped bool

	wake    chan struct{}
	done    chan struct{}
	started chan struct{}
	once    sync.Once
	start   sync.Once

	logger *zap.Logger
}

// New creates a loop. It does nothing until Run is called.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		started: make(chan struct{}),
		logger:  logger.Named("loop"),
	}
}

// Post queues fn on the high-priority tier.
// Returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	return l.push(fn, true)
}

// Defer queues fn on the low-priority tier. It runs only when no
// high-priority work is waiting.
func (l *Loop) Defer(fn func()) bool {
	return l.push(fn, false)
}

func (l *Loop) push(fn func(), urgent bool) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	if urgent {
		l.high = append(l.high, fn)
	} else {
		l.low = append(l.low, fn)
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish.
// Must not be called from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The loop may have run fn right before stopping
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run executes queued work until ctx is cancelled. Work still queued when
// the loop stops is discarded.
func (l *Loop) Run(ctx context.Context) error {
	l.start.Do(func() { close(l.started) })
	defer l.stop()

	for {
		if fn := l.next(); fn != nil {
			l.exec(fn)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Started is closed once Run has begun.
func (l *Loop) Started() <-chan struct{} { return l.started }

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Pending reports the number of queued items per tier.
func (l *Loop) Pending() (high, low int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.high), len(l.low)
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.high) > 0 {
		fn := l.high[0]
		l.high[0] = nil
		l.high = l.high[1:]
		return fn
	}
	if len(l.low) > 0 {
		fn := l.low[0]
		l.low[0] = nil
		l.low = l.low[1:]
		return fn
	}
	return nil
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("recovered panic in loop task", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (l *Loop) stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.high = nil
		l.low = nil
		l.mu.Unlock()
		close(l.done)
	})
}
