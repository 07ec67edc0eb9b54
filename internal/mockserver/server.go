// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/api"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// DefaultAddr is the listen address used by the CLI.
const DefaultAddr = "127.0.0.1:8000"

// ============================================================================
// CONFIG
// ============================================================================

// Config controls how the mock backend answers.
type Config struct {
	Addr string

	// Token, when set, is required as a bearer token on every request.
	Token string

	// ChunkRunes is the size of each streamed delta.
	ChunkRunes int

	// ChunkDelay is the pause between deltas.
	ChunkDelay time.Duration

	// Reply builds the assistant answer for a user message.
	Reply func(text string) string

	// Health is returned by GET /api/health.
	Health api.HealthReport

	// RateLimit is the sustained requests per second per client; 0 disables.
	RateLimit float64
}

// DefaultConfig returns a config that echoes at a readable pace.
func DefaultConfig() Config {
	return Config{
		Addr:       DefaultAddr,
		ChunkRunes: 4,
		ChunkDelay: 30 * time.Millisecond,
		Reply:      EchoReply,
		Health:     api.HealthReport{IsHealthy: true},
	}
}

// EchoReply answers with the user's own text.
func EchoReply(text string) string {
	return "You said: " + text
}

// ============================================================================
// SERVER
// ============================================================================

type sessionRecord struct {
	session  model.Session
	messages []model.Message
}

// Server is the mock chat backend.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	router   *http.ServeMux
	server   *http.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*sessionRecord
	conns    map[*chatConn]struct{}
	now      func() time.Time

	wg sync.WaitGroup
}

// New creates a Server with an empty store.
func New(cfg Config, logger *zap.Logger) *Server {
	def := DefaultConfig()
	if cfg.ChunkRunes <= 0 {
		cfg.ChunkRunes = def.ChunkRunes
	}
	if cfg.Reply == nil {
		cfg.Reply = def.Reply
	}
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("mockserver"),
		router:   http.NewServeMux(),
		sessions: make(map[string]*sessionRecord),
		conns:    make(map[*chatConn]struct{}),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	s.setupRoutes()
	return s
}

// Seed adds a session with history. Used by tests and demos.
func (s *Server) Seed(sess model.Session, messages ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	s.sessions[sess.ID] = &sessionRecord{session: sess, messages: model.CloneMessages(messages)}
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/sessions", s.handleCreate)
	s.router.HandleFunc("GET /api/sessions", s.handleList)
	s.router.HandleFunc("DELETE /api/sessions", s.handleDeleteAll)
	s.router.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	s.router.HandleFunc("GET /api/sessions/{id}/messages", s.handleMessages)
	s.router.HandleFunc("GET /api/health", s.handleHealth)
	s.router.HandleFunc("GET /ws/chat/{id}", s.handleChat)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
	}
	if s.cfg.RateLimit > 0 {
		mws = append(mws, RateLimitMiddleware(NewRateLimiter(s.cfg.RateLimit, int(s.cfg.RateLimit)+1)))
	}
	mws = append(mws, AuthMiddleware(s.cfg.Token, s.logger))
	return Chain(mws...)(s.router)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON in request body")
			return
		}
	}
	now := s.now()
	sess := model.Session{ID: model.NewID(), Title: req.Title, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	s.sessions[sess.ID] = &sessionRecord{session: sess}
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", sess.ID))
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.list())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	clear(s.sessions)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rec, ok := s.sessions[r.PathValue("id")]
	var msgs []model.Message
	if ok {
		msgs = model.CloneMessages(rec.messages)
	}
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := s.cfg.Health
	if report.Issues == nil {
		report.Issues = []string{}
	}
	if report.Hints == nil {
		report.Hints = []string{}
	}
	s.writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// STORE
// ============================================================================

func (s *Server) list() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec.session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *Server) exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// appendMessage records msg and refreshes the session preview. It reports
// false when the session was deleted meanwhile.
func (s *Server) appendMessage(id string, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return false
	}
	rec.messages = append(rec.messages, msg)
	rec.session.LastMessagePreview = msg.Preview(model.PreviewLength)
	rec.session.UpdatedAt = msg.Timestamp
	if rec.session.Title == "" && msg.Role == model.RoleUser {
		rec.session.Title = util.TruncateRunes(util.SingleLine(msg.Content), 40)
	}
	return true
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("mock backend listening", zap.String("addr", ln.Addr().String()))
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener, closes open chat channels and waits for
// their goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.CloseChannels()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message, "code": status},
	})
}
