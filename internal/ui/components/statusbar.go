// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
)

// =============================================================================
// STATUS BAR COMPONENT
// =============================================================================

// StatusInfo is everything the status bar shows.
type StatusInfo struct {
	Connection conn.State
	Attempt    int
	Exhausted  bool
	Selection  model.Selection
	Streaming  bool
	Spinner    string
	HasSession bool
}

// StatusBar renders the bottom status line.
type StatusBar struct {
	Width int
	theme *styles.Theme
}

// NewStatusBar creates a status bar.
func NewStatusBar(theme *styles.Theme) *StatusBar {
	return &StatusBar{theme: theme}
}

// Render draws the bar. Shortcuts are dropped first when space is short.
func (s *StatusBar) Render(info StatusInfo) string {
	left := s.connection(info)
	if info.Streaming {
		left += "  " + info.Spinner + " streaming"
	}
	right := info.Selection.String()

	shortcuts := s.shortcuts()
	used := lipgloss.Width(left) + lipgloss.Width(right) + 4
	middle := ""
	if s.Width == 0 || used+lipgloss.Width(shortcuts)+2 <= s.Width {
		middle = shortcuts
	}

	gap := s.Width - 2 - lipgloss.Width(left) - lipgloss.Width(middle) - lipgloss.Width(right)
	if gap < 2 {
		gap = 2
	}
	var b strings.Builder
	b.WriteString(left)
	if middle != "" {
		half := gap / 2
		b.WriteString(strings.Repeat(" ", half))
		b.WriteString(middle)
		gap -= half
	}
	b.WriteString(strings.Repeat(" ", gap))
	b.WriteString(right)

	style := s.theme.StatusBar
	if s.Width > 0 {
		style = style.Width(s.Width)
	}
	return style.Render(b.String())
}

// ConnectionLabel describes the connection in words with an ASCII indicator.
func ConnectionLabel(info StatusInfo) string {
	ind := styles.StatusIndicators
	switch {
	case !info.HasSession:
		return ind.Pending + " no session"
	case info.Exhausted:
		return ind.Error + " offline"
	case info.Connection == conn.StateConnected:
		return ind.Success + " connected"
	case info.Connection == conn.StateConnecting && info.Attempt > 0:
		return fmt.Sprintf("%s reconnecting (attempt %d)", ind.Warning, info.Attempt)
	case info.Connection == conn.StateConnecting:
		return ind.Pending + " connecting"
	case info.Connection == conn.StateErroring:
		return fmt.Sprintf("%s connection lost (attempt %d)", ind.Warning, info.Attempt)
	default:
		return ind.Pending + " disconnected"
	}
}

func (s *StatusBar) connection(info StatusInfo) string {
	label := ConnectionLabel(info)
	switch {
	case info.Exhausted:
		return s.theme.StateBad.Render(label)
	case info.Connection == conn.StateConnected:
		return s.theme.StateOK.Render(label)
	case info.Connection == conn.StateDisconnected:
		return s.theme.Muted.Render(label)
	default:
		return s.theme.StateBusy.Render(label)
	}
}

func (s *StatusBar) shortcuts() string {
	pairs := [][2]string{
		{"enter", "send"},
		{"C-n", "new"},
		{"C-x", "delete"},
		{"tab", "next"},
		{"C-r", "retry"},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, s.theme.ShortcutKey.Render(p[0])+" "+s.theme.ShortcutDesc.Render(p[1]))
	}
	return strings.Join(parts, "  ")
}
