// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/clock"
	"github.com/jeranaias/rigrun-stream/internal/protocol"
)

// =============================================================================
// STATE AND SIGNALS
// =============================================================================

// State is the connection state of the active session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateErroring
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErroring:
		return "erroring"
	default:
		return "disconnected"
	}
}

// Signal is a view lifecycle event.
type Signal int

const (
	SignalVisible Signal = iota
	SignalHidden
	SignalFocus
	SignalRestored
)

func (s Signal) String() string {
	switch s {
	case SignalVisible:
		return "visible"
	case SignalHidden:
		return "hidden"
	case SignalFocus:
		return "focus"
	case SignalRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds heartbeat and reconnect tuning.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	MaxAttempts       int
	DialTimeout       time.Duration
	SendQueue         int
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		ReconnectBase:     time.Second,
		ReconnectMax:      30 * time.Second,
		MaxAttempts:       6,
		DialTimeout:       10 * time.Second,
		SendQueue:         64,
	}
}

// Backoff returns the delay before reconnect attempt n (1-based).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.ReconnectBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.ReconnectMax {
			return c.ReconnectMax
		}
	}
	if d > c.ReconnectMax {
		return c.ReconnectMax
	}
	return d
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = def.ReconnectBase
	}
	if c.ReconnectMax < c.ReconnectBase {
		c.ReconnectMax = max(def.ReconnectMax, c.ReconnectBase)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.SendQueue <= 0 {
		c.SendQueue = def.SendQueue
	}
	return c
}

// =============================================================================
// HANDLER
// =============================================================================

// Poster queues work on the run loop. *loop.Loop satisfies it.
type Poster interface {
	Post(fn func()) bool
}

// Handler receives Manager output on the loop.
type Handler interface {
	HandleEvent(ev protocol.Event)
	HandleState(s State)
	HandleError(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Event func(protocol.Event)
	State func(State)
	Error func(error)
}

func (h HandlerFuncs) HandleEvent(ev protocol.Event) {
	if h.Event != nil {
		h.Event(ev)
	}
}

func (h HandlerFuncs) HandleState(s State) {
	if h.State != nil {
		h.State(s)
	}
}

func (h HandlerFuncs) HandleError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source for heartbeat and backoff timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the channel for the active session. Not safe for concurrent
// use; call it only from the loop.
type Manager struct {
	cfg     Config
	poster  Poster
	dialer  Dialer
	handler Handler
	clock   clock.Clock
	logger  *zap.Logger

	session   string
	state     State
	gen       uint64
	attempt   int
	exhausted bool
	visible   bool

	link       *link
	dialCancel context.CancelFunc
	retry      clock.Timer

	pingTimer    clock.Timer
	pongTimer    clock.Timer
	awaitingPong bool
	lastPong     time.Time
	receivedAny  bool
}

// NewManager creates a Manager in StateDisconnected.
func NewManager(poster Poster, dialer Dialer, cfg Config, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		poster:  poster,
		dialer:  dialer,
		handler: handler,
		clock:   clock.Real(),
		logger:  zap.NewNop(),
		visible: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.handler == nil {
		m.handler = HandlerFuncs{}
	}
	m.logger = m.logger.Named("conn")
	return m
}

// State returns the current state.
func (m *Manager) State() State { return m.state }

// Session returns the session the Manager is bound to, or "".
func (m *Manager) Session() string { return m.session }

// Attempt returns the number of consecutive failed attempts.
func (m *Manager) Attempt() int { return m.attempt }

// Exhausted reports whether the reconnect budget is spent.
func (m *Manager) Exhausted() bool { return m.exhausted }

// Visible reports whether the last lifecycle signal left the view visible.
func (m *Manager) Visible() bool { return m.visible }

// LastPong returns when liveness was last confirmed.
func (m *Manager) LastPong() time.Time { return m.lastPong }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Connect binds to sessionID and dials. It is a no-op when already
// connected or connecting to that session. A different session tears the
// current one down first.
func (m *Manager) Connect(sessionID string) {
	if sessionID == "" {
		m.Disconnect()
		return
	}
	if sessionID == m.session {
		if m.state == StateConnected || m.state == StateConnecting {
			return
		}
	} else {
		m.teardown()
		m.session = sessionID
		m.attempt = 0
	}
	m.exhausted = false
	m.stopRetry()
	m.dial()
}

// Reconnect redials the bound session with a fresh attempt budget. It is a
// no-op without a session or while connected or connecting.
func (m *Manager) Reconnect() {
	if m.session == "" || m.state == StateConnected || m.state == StateConnecting {
		return
	}
	m.attempt = 0
	m.Connect(m.session)
}

// Disconnect tears down the channel, cancels every timer and forgets the
// session. Callbacks from the old channel are suppressed.
func (m *Manager) Disconnect() {
	m.teardown()
	m.session = ""
	m.attempt = 0
	m.exhausted = false
	m.setState(StateDisconnected)
}

// Send queues exactly one outbound message frame.
func (m *Manager) Send(text string, meta protocol.Metadata) error {
	if m.state != StateConnected || m.link == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(protocol.NewSendRequest(text, meta))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if !m.link.enqueue(data) {
		return ErrSendQueueFull
	}
	return nil
}

// HandleLifecycle reacts to view visibility, focus and restore. Hidden is
// recorded but never disconnects.
func (m *Manager) HandleLifecycle(sig Signal) {
	switch sig {
	case SignalHidden:
		m.visible = false
		return
	case SignalVisible, SignalRestored:
		m.visible = true
	case SignalFocus:
	default:
		return
	}

	if m.session == "" || m.state == StateConnected || m.state == StateConnecting {
		return
	}
	m.logger.Info("lifecycle reconnect",
		zap.String("signal", sig.String()),
		zap.String("session_id", m.session))
	m.attempt = 0
	m.Connect(m.session)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.handler.HandleState(s)
}

// teardown invalidates every callback of the current generation.
func (m *Manager) teardown() {
	m.gen++
	m.stopRetry()
	m.stopHeartbeat()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.link != nil {
		m.link.close()
		m.link = nil
	}
	m.receivedAny = false
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) dial() {
	m.teardown()
	gen := m.gen
	session := m.session

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.dialCancel = cancel
	m.setState(StateConnecting)
	m.logger.Debug("dialing", zap.String("session_id", session), zap.Int("attempt", m.attempt+1))

	go func() {
		ch, err := m.dialer.Dial(ctx, session)
		if !m.poster.Post(func() { m.dialed(gen, ch, err) }) && ch != nil {
			ch.Close()
		}
	}()
}

func (m *Manager) dialed(gen uint64, ch Channel, err error) {
	if gen != m.gen {
		if ch != nil {
			ch.Close()
		}
		return
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if err != nil {
		m.fail(err)
		return
	}

	m.link = newLink(ch, m.cfg.SendQueue)
	m.link.start(m.poster,
		func(data []byte) { m.received(gen, data) },
		func(err error) { m.dropped(gen, err) })
	m.setState(StateConnected)
	m.logger.Info("connected", zap.String("session_id", m.session))
	m.schedulePing(gen)
}

func (m *Manager) received(gen uint64, data []byte) {
	if gen != m.gen {
		return
	}
	if !m.receivedAny {
		m.receivedAny = true
		m.attempt = 0
	}

	ev, err := protocol.Decode(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	if ev.Type == protocol.TypePong {
		m.pong()
		return
	}
	m.handler.HandleEvent(ev)
}

func (m *Manager) dropped(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	m.logger.Warn("channel dropped", zap.String("session_id", m.session), zap.Error(err))
	m.teardown()
	m.fail(err)
}

// fail records a failed attempt and either schedules a retry or reports
// exhaustion.
func (m *Manager) fail(cause error) {
	m.attempt++
	m.setState(StateErroring)
	m.handler.HandleError(&ConnectionError{Attempt: m.attempt, Cause: cause})

	if m.attempt >= m.cfg.MaxAttempts {
		m.exhausted = true
		m.logger.Error("giving up on reconnect",
			zap.String("session_id", m.session),
			zap.Int("attempts", m.attempt))
		m.handler.HandleError(fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, m.attempt, cause))
		return
	}

	delay := m.cfg.Backoff(m.attempt)
	gen := m.gen
	m.logger.Info("reconnect scheduled",
		zap.String("session_id", m.session),
		zap.Int("attempt", m.attempt),
		zap.Duration("delay", delay))
	m.retry = m.clock.AfterFunc(delay, func() {
		m.poster.Post(func() {
			if gen != m.gen || m.session == "" {
				return
			}
			m.retry = nil
			m.dial()
		})
	})
}

// =============================================================================
// HEARTBEAT
// =============================================================================

func (m *Manager) schedulePing(gen uint64) {
	m.pingTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.poster.Post(func() { m.ping(gen) })
	})
}

func (m *Manager) ping(gen uint64) {
	if gen != m.gen || m.link == nil {
		return
	}
	m.pingTimer = nil
	if !m.link.enqueue(protocol.EncodePing()) {
		m.logger.Warn("ping not queued, writer is behind")
	}
	m.awaitingPong = true
	m.pongTimer = m.clock.AfterFunc(m.cfg.HeartbeatTimeout, func() {
		m.poster.Post(func() {
			if gen != m.gen || !m.awaitingPong {
				return
			}
			m.pongTimer = nil
			m.dropped(gen, ErrHeartbeatTimeout)
		})
	})
}

func (m *Manager) pong() {
	m.lastPong = m.clock.Now()
	if !m.awaitingPong {
		return
	}
	m.awaitingPong = false
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	m.schedulePing(m.gen)
}

func (m *Manager) stopHeartbeat() {
	m.awaitingPong = false
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
}

// =============================================================================
// LINK
// =============================================================================

// link runs the reader and writer goroutines of one channel.
type link struct {
	ch        Channel
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newLink(ch Channel, queue int) *link {
	return &link{
		ch:     ch,
		out:    make(chan []byte, queue),
		closed: make(chan struct{}),
	}
}

func (l *link) start(p Poster, onData func([]byte), onErr func(error)) {
	// Both goroutines may report a failure; only the first reaches the loop.
	var reportOnce sync.Once
	report := func(err error) {
		reportOnce.Do(func() {
			select {
			case <-l.closed:
			default:
				p.Post(func() { onErr(err) })
			}
		})
	}

	go func() {
		for {
			data, err := l.ch.Read()
			if err != nil {
				report(err)
				return
			}
			if !p.Post(func() { onData(data) }) {
				return
			}
		}
	}()
	go func() {
		for {
			select {
			case <-l.closed:
				return
			case data := <-l.out:
				if err := l.ch.Write(data); err != nil {
					report(err)
					return
				}
			}
		}
	}()
}

func (l *link) enqueue(data []byte) bool {
	select {
	case l.out <- data:
		return true
	default:
		return false
	}
}

// close stops both goroutines. It does not wait for them; Close on the
// channel unblocks the reader.
func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.ch.Close()
	})
}
