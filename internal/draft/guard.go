// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-stream/internal/clock"
	"github.com/jeranaias/rigrun-stream/internal/model"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("draft guard closed")

// Config controls save throttling.
type Config struct {
	// Interval is the minimum spacing between saves.
	Interval time.Duration
	// Timeout bounds each store write.
	Timeout time.Duration
}

// DefaultConfig returns the default throttle.
func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		Timeout:  5 * time.Second,
	}
}

// Poster queues work on the run loop.
type Poster interface {
	Post(fn func()) bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock sets the time source for throttling and SavedAt.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// writeOp is one store operation. A non-nil ack turns it into a barrier
// that only signals once everything before it is written. The slot holds a
// single snapshot, so pending save and clear operations coalesce to the
// latest one.
type writeOp struct {
	snap  *model.DraftSnapshot
	clear bool
	ack   chan struct{}
}

// =============================================================================
// GUARD
// =============================================================================

// Guard throttles draft persistence for the active session. Every method
// except Close must be called on the run loop.
type Guard struct {
	cfg     Config
	store   Store
	poster  Poster
	clock   clock.Clock
	logger  *zap.Logger
	limiter *rate.Limiter

	session  string
	slot     *model.DraftSnapshot
	dirty    *model.DraftSnapshot
	trailing clock.Timer
	gen      uint64

	// Writer mailbox. enqueue never blocks the loop.
	mu     sync.Mutex
	latest *writeOp
	acks   []chan struct{}
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// NewGuard loads the current slot from store and starts the writer.
func NewGuard(ctx context.Context, store Store, poster Poster, cfg Config, opts ...Option) (*Guard, error) {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	g := &Guard{
		cfg:    cfg,
		store:  store,
		poster: poster,
		clock:  clock.Real(),
		logger: zap.NewNop(),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("draft")
	g.limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)

	snap, ok, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load draft slot: %w", err)
	}
	if ok {
		g.slot = &snap
	}

	go g.writer()
	return g, nil
}

// Session returns the session input is currently scoped to.
func (g *Guard) Session() string { return g.session }

// Snapshot returns the persisted slot, if any.
func (g *Guard) Snapshot() (model.DraftSnapshot, bool) {
	if g.slot == nil {
		return model.DraftSnapshot{}, false
	}
	return *g.slot, true
}

// Input records the current input of the active session.
func (g *Guard) Input(text string) {
	if g.session == "" || g.closed {
		return
	}
	now := g.clock.Now()
	g.dirty = &model.DraftSnapshot{SessionID: g.session, Content: text, SavedAt: now}

	if g.limiter.AllowN(now, 1) {
		g.stopTrailing()
		g.persist()
		return
	}
	if g.trailing != nil {
		return
	}
	gen := g.gen
	g.trailing = g.clock.AfterFunc(g.cfg.Interval, func() {
		g.poster.Post(func() {
			if gen != g.gen {
				return
			}
			g.trailing = nil
			g.persist()
		})
	})
}

// Activate scopes input to sessionID after persisting anything pending for
// the previous session. It returns the snapshot content only when it was
// typed in sessionID.
func (g *Guard) Activate(sessionID string) (string, bool) {
	g.stopTrailing()
	g.persist()
	g.gen++
	g.session = sessionID

	if sessionID == "" || g.slot == nil || g.slot.SessionID != sessionID || g.slot.Content == "" {
		return "", false
	}
	g.logger.Debug("restoring draft",
		zap.String("session_id", sessionID),
		zap.Int("len", len(g.slot.Content)))
	return g.slot.Content, true
}

// Sent drops pending saves and clears the slot if it belongs to sessionID.
func (g *Guard) Sent(sessionID string) {
	g.stopTrailing()
	g.gen++
	if g.dirty != nil && g.dirty.SessionID == sessionID {
		g.dirty = nil
	}
	if g.slot != nil && g.slot.SessionID == sessionID {
		g.slot = nil
		g.enqueue(writeOp{clear: true})
	}
}

// Flush persists pending input and waits until the store has it.
func (g *Guard) Flush(ctx context.Context) error {
	if g.closed {
		return ErrClosed
	}
	g.stopTrailing()
	g.persist()

	ack := make(chan struct{})
	g.enqueue(writeOp{ack: ack})
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes, stops the writer and closes the store.
func (g *Guard) Close(ctx context.Context) error {
	if g.closed {
		return nil
	}
	flushErr := g.Flush(ctx)
	g.closed = true
	close(g.stop)
	<-g.done
	return errors.Join(flushErr, g.store.Close())
}

func (g *Guard) persist() {
	if g.dirty == nil {
		return
	}
	snap := *g.dirty
	g.dirty = nil
	if snap.Content == "" {
		g.slot = nil
		g.enqueue(writeOp{clear: true})
		return
	}
	g.slot = &snap
	g.enqueue(writeOp{snap: &snap})
}

func (g *Guard) stopTrailing() {
	if g.trailing != nil {
		g.trailing.Stop()
		g.trailing = nil
	}
}

func (g *Guard) enqueue(op writeOp) {
	if g.closed {
		return
	}
	g.mu.Lock()
	if op.ack != nil {
		g.acks = append(g.acks, op.ack)
	} else {
		if g.latest != nil {
			g.logger.Debug("draft write coalesced")
		}
		g.latest = &op
	}
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// writer applies the latest store operation, then releases barriers.
func (g *Guard) writer() {
	defer close(g.done)
	for {
		select {
		case <-g.wake:
			g.drain()
		case <-g.stop:
			g.drain()
			return
		}
	}
}

func (g *Guard) drain() {
	g.mu.Lock()
	op, acks := g.latest, g.acks
	g.latest, g.acks = nil, nil
	g.mu.Unlock()

	if op != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Timeout)
		var err error
		if op.clear {
			err = g.store.Clear(ctx)
		} else {
			err = g.store.Save(ctx, *op.snap)
		}
		cancel()
		if err != nil {
			g.logger.Warn("draft write failed", zap.Error(err))
		}
	}
	for _, ack := range acks {
		close(ack)
	}
}
