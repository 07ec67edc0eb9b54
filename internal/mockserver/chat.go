// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/protocol"
)

// Commands understood in user text, for exercising client error paths.
const (
	// CommandError makes the reply fail with message.error.
	CommandError = "/fail"
	// CommandDrop closes the channel without replying.
	CommandDrop = "/drop"
)

const writeWait = 5 * time.Second

// ============================================================================
// CHAT CHANNEL
// ============================================================================

// chatConn is one open websocket. A single writer goroutine owns the
// socket for writes.
type chatConn struct {
	srv     *Server
	session string
	ws      *websocket.Conn
	logger  *zap.Logger

	out     chan protocol.Event
	replies chan string
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.exists(id) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &chatConn{
		srv:     s,
		session: id,
		ws:      ws,
		logger:  s.logger.With(zap.String("session_id", id)),
		out:     make(chan protocol.Event, 64),
		replies: make(chan string, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.logger.Info("chat channel open")
	s.wg.Add(3)
	go func() { defer s.wg.Done(); c.writeLoop() }()
	go func() { defer s.wg.Done(); c.replyLoop() }()
	go func() { defer s.wg.Done(); c.readLoop() }()
}

// ChannelCount returns the number of open chat channels.
func (s *Server) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseChannels drops every open chat channel, as a server restart would.
func (s *Server) CloseChannels() {
	s.mu.Lock()
	conns := make([]*chatConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (c *chatConn) close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
		c.srv.mu.Lock()
		delete(c.srv.conns, c)
		c.srv.mu.Unlock()
		c.logger.Info("chat channel closed")
	})
}

func (c *chatConn) readLoop() {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.DecodeOutbound(data)
		if err != nil {
			c.emit(protocol.Event{Type: protocol.TypeError, Content: err.Error()})
			continue
		}
		switch frame.Type {
		case protocol.TypePing:
			c.emit(protocol.Event{Type: protocol.TypePong})
		case protocol.TypeMessage:
			text := strings.TrimSpace(frame.Text)
			if text == "" {
				continue
			}
			if text == CommandDrop {
				return
			}
			if !c.srv.appendMessage(c.session, model.NewUserMessageAt(text, c.srv.now())) {
				c.emit(protocol.Event{Type: protocol.TypeError, Content: "session not found"})
				continue
			}
			select {
			case c.replies <- text:
			case <-c.ctx.Done():
				return
			}
		default:
			c.logger.Debug("ignoring frame", zap.String("type", frame.Type))
		}
	}
}

// replyLoop streams one reply at a time so turns never interleave.
func (c *chatConn) replyLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case text := <-c.replies:
			c.stream(text)
		}
	}
}

func (c *chatConn) stream(text string) {
	if !c.emit(protocol.Event{Type: protocol.TypeStart}) {
		return
	}
	if text == CommandError {
		c.emit(protocol.Event{Type: protocol.TypeMessageError, Content: "simulated failure"})
		return
	}

	reply := c.srv.cfg.Reply(text)
	runes := []rune(reply)
	for i := 0; i < len(runes); i += c.srv.cfg.ChunkRunes {
		end := min(i+c.srv.cfg.ChunkRunes, len(runes))
		if !c.emit(protocol.Event{Type: protocol.TypeDelta, Content: string(runes[i:end])}) {
			return
		}
		if d := c.srv.cfg.ChunkDelay; d > 0 {
			select {
			case <-time.After(d):
			case <-c.ctx.Done():
				return
			}
		}
	}

	msg := model.NewAssistantMessage("", reply, nil, c.srv.now())
	if !c.srv.appendMessage(c.session, msg) {
		return
	}
	c.emit(protocol.Event{Type: protocol.TypeEnd, MessageID: msg.ID})
}

func (c *chatConn) emit(ev protocol.Event) bool {
	select {
	case c.out <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *chatConn) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.out:
			data, err := ev.Encode()
			if err != nil {
				c.logger.Warn("encode event failed", zap.Error(err))
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
