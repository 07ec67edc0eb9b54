// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Channel is an established bidirectional message channel.
// Read is called from one goroutine and Write from another; Close must
// unblock a pending Read.
type Channel interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens a channel for a session.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Channel, error)
}

// =============================================================================
// WEBSOCKET DIALER
// =============================================================================

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultReadLimit        = 1 << 20
)

// WSDialer dials {server}/ws/chat/{session_id}.
type WSDialer struct {
	Server       string
	Header       http.Header
	WriteTimeout time.Duration
	ReadLimit    int64

	dialer *websocket.Dialer
}

// NewWSDialer creates a dialer for an http(s) or ws(s) server address.
func NewWSDialer(server string) *WSDialer {
	return &WSDialer{
		Server:       server,
		Header:       http.Header{},
		WriteTimeout: defaultWriteTimeout,
		ReadLimit:    defaultReadLimit,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

// URL returns the websocket URL for a session.
func (d *WSDialer) URL(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("empty session id")
	}
	u, err := url.Parse(d.Server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/chat/" + url.PathEscape(sessionID)
	u.RawPath = ""
	return u.String(), nil
}

// Dial opens the websocket.
func (d *WSDialer) Dial(ctx context.Context, sessionID string) (Channel, error) {
	target, err := d.URL(sessionID)
	if err != nil {
		return nil, err
	}

	c, resp, err := d.dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws dial %s: %s: %w", target, resp.Status, err)
		}
		return nil, fmt.Errorf("ws dial %s: %w", target, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsChannel{conn: c, writeTimeout: d.WriteTimeout}, nil
}

type wsChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsChannel) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsChannel) Write(data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
