// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
)

func plainTheme() *styles.Theme {
	return styles.NewTheme(styles.ThemeDark, true)
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestRenderMessagesPlain(t *testing.T) {
	r := NewMessageRenderer(plainTheme(), false)
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local)
	out := r.Render([]model.Message{
		model.NewUserMessageAt("hi there", at),
		model.NewAssistantMessage("a1", "hello back", nil, at),
	}, false, "")

	assert.Contains(t, out, "You")
	assert.Contains(t, out, "Assistant")
	assert.Contains(t, out, "09:30")
	assert.Contains(t, out, "hi there")
	assert.Contains(t, out, "hello back")
	assert.Less(t, strings.Index(out, "hi there"), strings.Index(out, "hello back"))
}

func TestRenderStreamingTail(t *testing.T) {
	r := NewMessageRenderer(plainTheme(), false)
	out := r.Render(nil, true, "partial")
	assert.Contains(t, out, "partial"+streamCursor)

	out = r.Render(nil, false, "partial")
	assert.NotContains(t, out, "partial", "stream text is hidden once not streaming")
}

func TestRenderMarkdownAssistant(t *testing.T) {
	r := NewMessageRenderer(plainTheme(), true)
	r.SetWidth(60)
	out := r.RenderMessage(model.NewAssistantMessage("a1", "# Title\n\nsome **bold** text", nil, time.Now()))
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
	assert.Contains(t, out, "Assistant")
}

// =============================================================================
// SIDEBAR
// =============================================================================

func TestSidebarRowsAndBadges(t *testing.T) {
	s := NewSidebar(plainTheme(), 30)
	out := s.Render([]model.Session{
		{ID: "a", Title: "Alpha", LastMessagePreview: "latest words", UnreadCount: 3},
		{ID: "b", Title: ""},
	}, "a")

	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "latest words")
	assert.Contains(t, out, "3")
	assert.Contains(t, out, "New conversation")
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 30)
	}
}

func TestSidebarTruncatesWideTitles(t *testing.T) {
	s := NewSidebar(plainTheme(), 16)
	out := s.Render([]model.Session{{ID: "a", Title: "日本語のとても長いタイトルです"}}, "a")
	assert.Contains(t, out, "…")
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 16)
	}
}

func TestSidebarScrollsToActive(t *testing.T) {
	s := NewSidebar(plainTheme(), 30)
	s.Height = 4
	var sessions []model.Session
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		sessions = append(sessions, model.Session{ID: id, Title: "title-" + id})
	}
	out := s.Render(sessions, "s6")
	assert.Contains(t, out, "title-s6")
	assert.NotContains(t, out, "title-s1")
}

func TestSidebarEmpty(t *testing.T) {
	out := NewSidebar(plainTheme(), 0).Render(nil, "")
	assert.Contains(t, out, "No conversations")
}

// =============================================================================
// STATUS BAR
// =============================================================================

func TestConnectionLabel(t *testing.T) {
	tests := []struct {
		name string
		info StatusInfo
		want string
	}{
		{"no session", StatusInfo{}, "no session"},
		{"connected", StatusInfo{HasSession: true, Connection: conn.StateConnected}, "connected"},
		{"connecting", StatusInfo{HasSession: true, Connection: conn.StateConnecting}, "connecting"},
		{"reconnecting", StatusInfo{HasSession: true, Connection: conn.StateConnecting, Attempt: 2}, "reconnecting (attempt 2)"},
		{"erroring", StatusInfo{HasSession: true, Connection: conn.StateErroring, Attempt: 1}, "connection lost (attempt 1)"},
		{"exhausted", StatusInfo{HasSession: true, Connection: conn.StateErroring, Exhausted: true}, "offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, ConnectionLabel(tt.info), tt.want)
		})
	}
}

func TestStatusBarFitsWidth(t *testing.T) {
	bar := NewStatusBar(plainTheme())
	info := StatusInfo{
		HasSession: true,
		Connection: conn.StateConnected,
		Selection:  model.DefaultSelection(),
		Streaming:  true,
		Spinner:    "*",
	}

	bar.Width = 120
	wide := bar.Render(info)
	require.Equal(t, 120, lipgloss.Width(wide))
	assert.Contains(t, wide, "openai/gpt-4o-mini")
	assert.Contains(t, wide, "streaming")
	assert.Contains(t, wide, "send")

	bar.Width = 60
	narrow := bar.Render(info)
	assert.NotContains(t, narrow, "delete", "shortcuts drop first")
	assert.Contains(t, narrow, "connected")
}
