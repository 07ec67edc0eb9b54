// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// DefaultSidebarWidth is the sidebar column width including padding.
const DefaultSidebarWidth = 28

// =============================================================================
// SIDEBAR COMPONENT
// =============================================================================

// Sidebar renders the session directory. Each session takes two rows:
// title with unread badge, then the last-message preview.
type Sidebar struct {
	Width  int
	Height int
	theme  *styles.Theme
}

// NewSidebar creates a sidebar.
func NewSidebar(theme *styles.Theme, width int) *Sidebar {
	if width <= 0 {
		width = DefaultSidebarWidth
	}
	return &Sidebar{Width: width, theme: theme}
}

// Render draws the sessions with active highlighted. The list is scrolled
// so that the active row is visible.
func (s *Sidebar) Render(sessions []model.Session, active string) string {
	inner := s.Width - 3 // padding plus border
	if inner < 8 {
		inner = 8
	}

	if len(sessions) == 0 {
		return s.theme.Sidebar.Width(s.Width - 1).Height(s.Height).
			Render(s.theme.Muted.Render(fit("No conversations", inner)))
	}

	rows := make([]string, 0, len(sessions)*2)
	activeRow := 0
	for _, sess := range sessions {
		if sess.ID == active {
			activeRow = len(rows)
		}
		rows = append(rows, s.titleRow(sess, sess.ID == active, inner))
		rows = append(rows, s.theme.SessionPreview.Render(fit(util.SingleLine(sess.LastMessagePreview), inner)))
	}

	if s.Height > 0 && len(rows) > s.Height {
		start := activeRow - s.Height/2
		start = max(0, min(start, len(rows)-s.Height))
		rows = rows[start : start+s.Height]
	}

	return s.theme.Sidebar.Width(s.Width - 1).Height(s.Height).Render(strings.Join(rows, "\n"))
}

func (s *Sidebar) titleRow(sess model.Session, active bool, width int) string {
	badge := ""
	if sess.UnreadCount > 0 {
		badge = fmt.Sprintf("%d", sess.UnreadCount)
	}
	titleWidth := width
	if badge != "" {
		titleWidth -= runewidth.StringWidth(badge) + 3
	}
	title := fit(sess.DisplayTitle(), titleWidth)

	style := s.theme.SessionItem
	if active {
		style = s.theme.SessionActive
	}
	out := style.Render(title)
	if badge != "" {
		out += " " + s.theme.UnreadBadge.Render(badge)
	}
	return out
}

// fit truncates s to width display cells and pads it to exactly width.
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = runewidth.Truncate(s, width, "…")
	return runewidth.FillRight(s, width)
}
