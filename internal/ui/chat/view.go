// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-stream/internal/ui/components"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
)

// View renders the full screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	parts := []string{m.renderHeader()}
	parts = append(parts, m.banners()...)

	body := m.viewport.View()
	if m.theme.LayoutMode() != styles.LayoutNarrow {
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.sidebar.Render(m.snap.Sessions, m.snap.Active), body)
	}
	parts = append(parts, body, m.renderInput(), m.renderStatus())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	title := "rigstream"
	if sess, ok := m.snap.ActiveSession(); ok {
		title += "  " + m.theme.HeaderTitle.Render(sess.DisplayTitle())
	} else if m.snap.Loading || !m.snap.Listed {
		title += "  " + m.theme.Muted.Render("loading...")
	}
	style := m.theme.Header
	if m.width > 0 {
		style = style.Width(m.width)
	}
	return style.Render(title)
}

// banners returns the health and error lines currently shown, one per row.
func (m Model) banners() []string {
	var out []string
	ind := styles.StatusIndicators
	if h := m.snap.Health; h.Warning() {
		text := "backend unhealthy"
		if h.Err != nil {
			text = "health check failed: " + h.Err.Error()
		} else if len(h.Issues) > 0 {
			text += ": " + strings.Join(h.Issues, "; ")
		}
		if len(h.Hints) > 0 {
			text += " (" + h.Hints[0] + ")"
		}
		out = append(out, m.theme.WarningBanner.Render(ind.Warning+" "+text+"  [esc]"))
	}
	if err := m.snap.Err; err != nil {
		out = append(out, m.theme.ErrorBanner.Render(ind.Error+" "+err.Error()+"  [esc]"))
	}
	if m.flash != nil {
		out = append(out, m.theme.ErrorBanner.Render(ind.Error+" "+m.flash.Error()))
	}
	return out
}

func (m Model) renderInput() string {
	style := m.theme.InputBox
	if !m.snap.CanSubmit() {
		style = m.theme.InputDisabled
	}
	if m.width > 0 {
		style = style.Width(m.width - 2)
	}
	return style.Render(m.input.View())
}

func (m Model) renderStatus() string {
	_, hasSession := m.snap.ActiveSession()
	return m.statusBar.Render(components.StatusInfo{
		Connection: m.snap.Connection,
		Attempt:    m.snap.Attempt,
		Exhausted:  m.snap.Exhausted,
		Selection:  m.snap.Selection,
		Streaming:  m.snap.Streaming,
		Spinner:    m.spinner.View(),
		HasSession: hasSession,
	})
}
