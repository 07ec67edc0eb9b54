// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-stream/internal/api"
	"github.com/jeranaias/rigrun-stream/internal/clock"
	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/directory"
	"github.com/jeranaias/rigrun-stream/internal/draft"
	"github.com/jeranaias/rigrun-stream/internal/loop"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/protocol"
	"github.com/jeranaias/rigrun-stream/internal/storage"
	"github.com/jeranaias/rigrun-stream/internal/stream"
)

const (
	// DefaultHealthInterval is the health poll period.
	DefaultHealthInterval = 30 * time.Second

	requestTimeout  = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options wires a Client to its collaborators.
type Options struct {
	Sessions api.Sessions
	History  api.History
	// Health is optional; without it no poll runs.
	Health api.Health

	Dialer conn.Dialer
	// DraftStore defaults to an in-memory store.
	DraftStore draft.Store
	// Transcripts is an optional local cache of finalized messages.
	Transcripts *storage.TranscriptStore

	Conn           conn.Config
	Draft          draft.Config
	FrameInterval  time.Duration
	HealthInterval time.Duration
	Selection      model.Selection
	// InitialSession is selected after the first listing when present.
	InitialSession string

	Clock  clock.Clock
	Logger *zap.Logger
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a consistent copy of the client state.
type Snapshot struct {
	Sessions []model.Session
	Active   string
	Messages []model.Message

	Streaming  bool
	StreamText string

	Connection conn.State
	Attempt    int
	Exhausted  bool
	Visible    bool

	Input     string
	Selection model.Selection
	Health    model.Health
	Loading   bool
	// Listed is set once the first session listing has completed.
	Listed bool
	Err    error
	Seq    uint64
}

// CanSubmit reports whether Submit would pass its preconditions for
// non-empty input.
func (s Snapshot) CanSubmit() bool {
	return s.Active != "" && s.Connection == conn.StateConnected
}

// ActiveSession returns the active session entry.
func (s Snapshot) ActiveSession() (model.Session, bool) {
	for _, sess := range s.Sessions {
		if sess.ID == s.Active {
			return sess, true
		}
	}
	return model.Session{}, false
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the goroutine-safe front of the streaming core.
type Client struct {
	opts   Options
	lp     *loop.Loop
	clock  clock.Clock
	logger *zap.Logger

	updates *broadcaster

	// Loop-owned state.
	dir       *directory.Directory
	reducer   *stream.Reducer
	conn      *conn.Manager
	guard     *draft.Guard
	bound     string
	messages  []model.Message
	input     string
	selGen    uint64
	selection model.Selection
	health    model.Health
	lastErr   error
	loading   int
	listed    bool
	seq       uint64

	transcripts chan storage.Transcript

	mu       sync.Mutex
	running  bool
	closed   bool
	cancel   context.CancelFunc
	runCtx   context.Context
	finished chan struct{}
	bg       sync.WaitGroup
}

// New builds a Client. It does nothing until Run is called.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Sessions == nil || opts.History == nil {
		return nil, errors.New("chat: sessions and history collaborators are required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("chat: dialer is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DraftStore == nil {
		opts.DraftStore = draft.NewMemoryStore()
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.Selection.IsZero() {
		opts.Selection = model.DefaultSelection()
	}

	logger := opts.Logger
	c := &Client{
		opts:        opts,
		lp:          loop.New(logger),
		clock:       opts.Clock,
		logger:      logger.Named("chat"),
		dir:         directory.New(),
		selection:   opts.Selection,
		transcripts: make(chan storage.Transcript, 16),
		finished:    make(chan struct{}),
	}
	c.updates = newBroadcaster(c.logger)

	sched := stream.NewFrameScheduler(opts.Clock, c.lp.Post, opts.FrameInterval)
	c.reducer = stream.NewReducer(sched, func(string) { c.publish(ChangeStream) }, opts.Clock, logger)
	c.conn = conn.NewManager(c.lp, opts.Dialer, opts.Conn, connHandler{c},
		conn.WithClock(opts.Clock), conn.WithLogger(logger))

	guard, err := draft.NewGuard(ctx, opts.DraftStore, c.lp, opts.Draft,
		draft.WithClock(opts.Clock), draft.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	c.guard = guard
	return c, nil
}

// Run drives the client until ctx is cancelled or Close is called. extra
// tasks run under the same errgroup and share its lifetime.
func (c *Client) Run(ctx context.Context, extra ...func(context.Context) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.runCtx = ctx
	c.mu.Unlock()
	defer close(c.finished)
	defer cancel()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	c.lp.Post(c.startRefresh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.lp.Run(loopCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		c.shutdown()
		stopLoop()
		return nil
	})
	if c.opts.Health != nil {
		g.Go(func() error { return c.pollHealth(gctx) })
	}
	if c.opts.Transcripts != nil {
		g.Go(func() error { return c.writeTranscripts(gctx) })
	}
	for _, fn := range extra {
		g.Go(func() error { return fn(gctx) })
	}

	err := g.Wait()
	c.bg.Wait()
	c.updates.close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops Run and waits for it to return. A client that never ran
// just releases its draft store.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running, cancel := c.running, c.cancel
	c.mu.Unlock()

	if running {
		cancel()
		<-c.finished
		return nil
	}
	c.updates.close()
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	return c.guard.Close(ctx)
}

// shutdown tears everything down on the loop before it stops.
func (c *Client) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := c.lp.Call(ctx, func() {
		c.reducer.Reset()
		c.conn.Disconnect()
		if err := c.guard.Close(ctx); err != nil {
			c.logger.Warn("draft flush on shutdown failed", zap.Error(err))
		}
	})
	if err != nil {
		c.logger.Warn("shutdown did not complete", zap.Error(err))
	}
}

// =============================================================================
// PUBLIC API
// =============================================================================

// Subscribe returns a channel of change hints and a cancel function.
func (c *Client) Subscribe() (<-chan Update, func()) {
	return c.updates.subscribe()
}

// Snapshot returns a consistent copy of the current state.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() { snap = c.snapshot() })
	return snap, err
}

// Select activates a session.
func (c *Client) Select(ctx context.Context, id string) error {
	var err error
	callErr := c.call(ctx, func() {
		if _, ok := c.dir.Get(id); !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownSession, id)
			return
		}
		if id == c.bound {
			c.dir.ClearUnread(id)
			c.publish(ChangeSessions)
			return
		}
		c.activate(id)
	})
	return errors.Join(callErr, err)
}

// Refresh re-lists sessions from the backend.
func (c *Client) Refresh(ctx context.Context) error {
	list, err := c.opts.Sessions.List(ctx)
	if err != nil {
		return err
	}
	return c.call(ctx, func() { c.applyList(list) })
}

// CreateSession creates a session, prepends it and activates it.
func (c *Client) CreateSession(ctx context.Context, title string) (model.Session, error) {
	s, err := c.opts.Sessions.Create(ctx, title)
	if err != nil {
		return model.Session{}, err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = c.clock.Now()
	}
	err = c.call(ctx, func() {
		c.dir.Add(s)
		c.activate(s.ID)
	})
	return s, err
}

// DeleteSession deletes a session. Deleting the active session falls back
// to the first remaining one, or to an empty state.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.opts.Sessions.Delete(ctx, id); err != nil {
		return err
	}
	return c.call(ctx, func() {
		next, changed := c.dir.Remove(id)
		if changed || id == c.bound {
			c.activate(next)
			return
		}
		c.publish(ChangeSessions)
	})
}

// ClearSessions deletes every session. The directory, message list and
// connection are cleared in one loop step.
func (c *Client) ClearSessions(ctx context.Context) error {
	if err := c.opts.Sessions.DeleteAll(ctx); err != nil {
		return err
	}
	return c.call(ctx, func() {
		c.dir.Clear()
		c.activate("")
	})
}

// SetInput records the current input text and schedules a draft save.
func (c *Client) SetInput(text string) error {
	return c.post(func() {
		c.input = text
		c.guard.Input(text)
		c.publish(ChangeInput)
	})
}

// SetSelection changes the model metadata sent with future messages.
func (c *Client) SetSelection(sel model.Selection) error {
	return c.post(func() {
		if sel.IsZero() {
			return
		}
		c.selection = sel
		c.logger.Info("model selection changed", zap.String("model", sel.String()))
		c.publish(ChangeInput)
	})
}

// Lifecycle forwards a view lifecycle signal.
func (c *Client) Lifecycle(sig conn.Signal) error {
	return c.post(func() {
		c.conn.HandleLifecycle(sig)
		if c.conn.Visible() && c.bound != "" {
			c.dir.ClearUnread(c.bound)
		}
		c.publish(ChangeConnection | ChangeSessions)
	})
}

// Reconnect dials the active session again, restarting the attempt budget
// once it was exhausted. It is a no-op while connected.
func (c *Client) Reconnect() error {
	return c.post(func() {
		if c.bound == "" {
			return
		}
		if c.conn.Session() != c.bound {
			c.conn.Connect(c.bound)
		} else {
			c.conn.Reconnect()
		}
		c.publish(ChangeConnection)
	})
}

// DismissHealth hides the current health warning until the next poll.
func (c *Client) DismissHealth() error {
	return c.post(func() {
		c.health.Dismissed = true
		c.publish(ChangeHealth)
	})
}

// DismissError clears the last surfaced error.
func (c *Client) DismissError() error {
	return c.post(func() {
		c.lastErr = nil
		c.publish(ChangeError)
	})
}

// =============================================================================
// LOOP INTERNALS
// =============================================================================

func (c *Client) call(ctx context.Context, fn func()) error {
	if err := c.lp.Call(ctx, fn); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (c *Client) post(fn func()) error {
	if !c.lp.Post(fn) {
		return ErrClosed
	}
	return nil
}

func (c *Client) publish(changes Change) {
	c.seq++
	c.updates.publish(Update{Changes: changes, Seq: c.seq})
}

func (c *Client) setError(err error) {
	c.lastErr = err
	c.publish(ChangeError)
}

func (c *Client) snapshot() Snapshot {
	return Snapshot{
		Sessions:   c.dir.List(),
		Active:     c.dir.Active(),
		Messages:   model.CloneMessages(c.messages),
		Streaming:  c.reducer.Streaming(),
		StreamText: c.reducer.Published(),
		Connection: c.conn.State(),
		Attempt:    c.conn.Attempt(),
		Exhausted:  c.conn.Exhausted(),
		Visible:    c.conn.Visible(),
		Input:      c.input,
		Selection:  c.selection,
		Health:     c.health,
		Loading:    c.loading > 0,
		Listed:     c.listed,
		Err:        c.lastErr,
		Seq:        c.seq,
	}
}

// background runs fn on a helper goroutine tied to the Run context.
func (c *Client) background(fn func(ctx context.Context)) {
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		fn(reqCtx)
	}()
}

// activate makes id the active session. The previous session's stream,
// messages and connection are dropped first.
func (c *Client) activate(id string) {
	c.selGen++
	c.reducer.Reset()
	c.messages = nil
	c.lastErr = nil
	c.dir.SetActive(id)
	c.bound = id

	c.input = ""
	if content, ok := c.guard.Activate(id); ok {
		c.input = content
	}

	if id == "" {
		c.conn.Disconnect()
		c.publish(ChangeAll)
		return
	}
	if c.conn.Visible() {
		c.dir.ClearUnread(id)
	}
	c.conn.Connect(id)
	c.fetchHistory(id, c.selGen)
	c.publish(ChangeAll)
}

func (c *Client) startRefresh() {
	c.loading++
	c.background(func(ctx context.Context) {
		list, err := c.opts.Sessions.List(ctx)
		c.lp.Post(func() {
			c.loading--
			c.listed = true
			if err != nil {
				c.logger.Warn("session listing failed", zap.Error(err))
				c.setError(err)
				return
			}
			c.applyList(list)
		})
	})
}

func (c *Client) applyList(list []model.Session) {
	c.dir.Replace(list)
	if c.dir.Active() != "" && c.dir.Active() == c.bound {
		c.publish(ChangeSessions)
		return
	}

	next := ""
	if _, ok := c.dir.Get(c.bound); ok {
		next = c.bound
	} else if _, ok := c.dir.Get(c.opts.InitialSession); ok && c.opts.InitialSession != "" {
		next = c.opts.InitialSession
	} else if all := c.dir.List(); len(all) > 0 {
		next = all[0].ID
	}
	if next != "" && next == c.bound {
		c.dir.SetActive(next)
		c.publish(ChangeSessions)
		return
	}
	c.activate(next)
}

func (c *Client) fetchHistory(id string, gen uint64) {
	c.loading++
	c.background(func(ctx context.Context) {
		msgs, err := c.opts.History.Messages(ctx, id)
		c.lp.Post(func() {
			c.loading--
			if gen != c.selGen {
				c.publish(ChangeMessages)
				return
			}
			if err != nil {
				c.logger.Warn("history fetch failed", zap.String("session_id", id), zap.Error(err))
				c.setError(err)
				return
			}
			c.mergeHistory(msgs)
			c.queueTranscript()
			c.publish(ChangeMessages)
		})
	})
}

// mergeHistory puts fetched history ahead of anything appended locally
// since the session was activated.
func (c *Client) mergeHistory(history []model.Message) {
	seen := make(map[string]struct{}, len(history))
	merged := model.CloneMessages(history)
	for _, m := range history {
		seen[m.ID] = struct{}{}
	}
	for _, m := range c.messages {
		if _, dup := seen[m.ID]; !dup {
			merged = append(merged, m)
		}
	}
	c.messages = merged
}

func (c *Client) metadata() protocol.Metadata {
	return protocol.Metadata{
		ModelType: c.selection.ModelType,
		Provider:  c.selection.Provider,
		Model:     c.selection.Model,
	}
}

// deferPreview queues a low-priority preview update for a session. The
// stamp is taken now so late application keeps the original order.
func (c *Client) deferPreview(sessionID, text string, at time.Time) {
	stamp := c.dir.NewStamp(at)
	c.lp.Defer(func() {
		if c.dir.UpdatePreview(sessionID, text, stamp) {
			c.publish(ChangeSessions)
		}
	})
}

// =============================================================================
// CONNECTION CALLBACKS
// =============================================================================

type connHandler struct{ c *Client }

func (h connHandler) HandleEvent(ev protocol.Event) {
	c := h.c
	res := c.reducer.Apply(ev)
	switch {
	case res.Message != nil:
		msg := *res.Message
		c.messages = append(c.messages, msg)
		c.publish(ChangeMessages | ChangeStream)
		c.deferPreview(c.bound, msg.Content, msg.Timestamp)
		if !c.conn.Visible() {
			c.dir.MarkUnread(c.bound)
			c.publish(ChangeSessions)
		}
		c.queueTranscript()
	case res.Err != nil:
		c.setError(res.Err)
		c.publish(ChangeStream)
	case res.Started:
		c.publish(ChangeStream)
	}
}

func (h connHandler) HandleState(s conn.State) {
	c := h.c
	if s == conn.StateConnected {
		var ce *conn.ConnectionError
		if errors.As(c.lastErr, &ce) || errors.Is(c.lastErr, conn.ErrReconnectExhausted) {
			c.lastErr = nil
		}
	}
	if s != conn.StateConnected && c.reducer.Streaming() {
		// The turn cannot complete on a channel that is gone.
		c.reducer.Reset()
	}
	c.publish(ChangeConnection | ChangeStream)
}

func (h connHandler) HandleError(err error) {
	h.c.logger.Warn("connection problem", zap.Error(err))
	h.c.setError(err)
}
