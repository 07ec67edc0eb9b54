// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSDialerURL(t *testing.T) {
	tests := []struct {
		server  string
		session string
		want    string
		wantErr bool
	}{
		{"http://localhost:8000", "abc", "ws://localhost:8000/ws/chat/abc", false},
		{"https://chat.example.com/", "abc", "wss://chat.example.com/ws/chat/abc", false},
		{"https://chat.example.com/base", "a b", "wss://chat.example.com/base/ws/chat/a%20b", false},
		{"ws://127.0.0.1:9", "x", "ws://127.0.0.1:9/ws/chat/x", false},
		{"ftp://example.com", "x", "", true},
		{"http://localhost", "", "", true},
	}
	for _, tt := range tests {
		got, err := NewWSDialer(tt.server).URL(tt.session)
		if tt.wantErr {
			assert.Error(t, err, tt.server)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestWSDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotPath := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath <- r.URL.Path
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == `{"type":"ping"}` {
				_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := NewWSDialer(srv.URL).Dial(ctx, "s-42")
	require.NoError(t, err)
	assert.Equal(t, "/ws/chat/s-42", <-gotPath)

	require.NoError(t, ch.Write([]byte(`{"type":"ping"}`)))
	data, err := ch.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "close is idempotent")
	_, err = ch.Read()
	assert.Error(t, err)
}

func TestWSDialerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewWSDialer(srv.URL).Dial(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
