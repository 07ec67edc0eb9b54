// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
)

// streamCursor trails the in-progress assistant text.
const streamCursor = "▌"

// =============================================================================
// MESSAGE RENDERER
// =============================================================================

// MessageRenderer renders the transcript. Markdown rendering is enabled
// per renderer; the glamour renderer is rebuilt only when the width changes.
type MessageRenderer struct {
	theme    *styles.Theme
	markdown bool

	width int
	md    *glamour.TermRenderer
}

// NewMessageRenderer creates a renderer. markdown toggles glamour for
// assistant messages.
func NewMessageRenderer(theme *styles.Theme, markdown bool) *MessageRenderer {
	return &MessageRenderer{theme: theme, markdown: markdown, width: 80}
}

// SetWidth sets the wrap width.
func (r *MessageRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	if width != r.width {
		r.width = width
		r.md = nil
	}
}

// Render renders finalized messages followed by the in-progress stream.
func (r *MessageRenderer) Render(messages []model.Message, streaming bool, streamText string) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.RenderMessage(msg))
	}
	if streaming {
		if len(messages) > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.label(model.RoleAssistant, time.Time{}))
		b.WriteString("\n")
		b.WriteString(r.theme.MessageBody.Render(streamText + r.theme.StreamCursor.Render(streamCursor)))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderMessage renders a single message with its role label.
func (r *MessageRenderer) RenderMessage(msg model.Message) string {
	var b strings.Builder
	b.WriteString(r.label(msg.Role, msg.Timestamp))
	b.WriteString("\n")

	body := msg.Content
	if msg.Role == model.RoleAssistant && r.markdown {
		body = r.renderMarkdown(body)
	} else {
		body = r.theme.MessageBody.Width(r.width).Render(body)
	}
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
	return b.String()
}

func (r *MessageRenderer) label(role model.Role, at time.Time) string {
	style := r.theme.SystemLabel
	switch role {
	case model.RoleUser:
		style = r.theme.UserLabel
	case model.RoleAssistant:
		style = r.theme.AssistantLabel
	}
	out := style.Render(role.DisplayName())
	if !at.IsZero() {
		out += " " + r.theme.Timestamp.Render(at.Local().Format("15:04"))
	}
	return out
}

// renderMarkdown falls back to plain text when glamour fails.
func (r *MessageRenderer) renderMarkdown(content string) string {
	if r.md == nil {
		style := "light"
		switch {
		case r.theme.NoColor:
			style = "notty"
		case r.theme.IsDark:
			style = "dark"
		}
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(r.width),
		)
		if err != nil {
			return r.theme.MessageBody.Render(content)
		}
		r.md = md
	}
	out, err := r.md.Render(content)
	if err != nil {
		return r.theme.MessageBody.Render(content)
	}
	return out
}
