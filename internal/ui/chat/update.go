// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	core "github.com/jeranaias/rigrun-stream/internal/chat"
	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
)

// Update handles every message for the chat view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.theme.SetSize(msg.Width, msg.Height)
		m.layout()
		m.refreshContent(true)
		return m, nil

	case snapshotMsg:
		m.applySnapshot(msg.snap)
		return m, m.waitForUpdate()

	case closedMsg:
		m.quitting = true
		return m, tea.Quit

	case actionMsg:
		if msg.err != nil {
			m.flash = fmt.Errorf("%s: %w", msg.action, msg.err)
			m.layout()
		} else if msg.action == "send" {
			m.input.SetValue("")
		}
		return m, nil

	case tea.FocusMsg:
		_ = m.backend.Lifecycle(conn.SignalVisible)
		return m, nil

	case tea.BlurMsg:
		_ = m.backend.Lifecycle(conn.SignalHidden)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.flash != nil {
		m.flash = nil
		m.layout()
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		if m.input.Value() == "" {
			return m, nil
		}
		return m, m.do("send", func(ctx context.Context, b Backend) error {
			_, err := b.SubmitInput(ctx)
			return err
		})

	case key.Matches(msg, m.keys.NextSession):
		return m, m.step(1)

	case key.Matches(msg, m.keys.PrevSession):
		return m, m.step(-1)

	case key.Matches(msg, m.keys.NewSession):
		return m, m.do("new session", func(ctx context.Context, b Backend) error {
			_, err := b.CreateSession(ctx, "")
			return err
		})

	case key.Matches(msg, m.keys.Delete):
		id := m.snap.Active
		if id == "" {
			return m, nil
		}
		return m, m.do("delete session", func(ctx context.Context, b Backend) error {
			return b.DeleteSession(ctx, id)
		})

	case key.Matches(msg, m.keys.Reconnect):
		return m, m.do("reconnect", func(_ context.Context, b Backend) error {
			return b.Reconnect()
		})

	case key.Matches(msg, m.keys.Dismiss):
		if m.snap.Err != nil {
			_ = m.backend.DismissError()
		}
		if m.snap.Health.Warning() {
			_ = m.backend.DismissHealth()
		}
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		_ = m.backend.SetInput(after)
	}
	return m, cmd
}

// step selects the session delta rows away from the active one, wrapping.
func (m Model) step(delta int) tea.Cmd {
	sessions := m.snap.Sessions
	if len(sessions) < 2 {
		return nil
	}
	idx := 0
	for i, s := range sessions {
		if s.ID == m.snap.Active {
			idx = i
			break
		}
	}
	next := sessions[(idx+delta+len(sessions))%len(sessions)].ID
	return m.do("select", func(ctx context.Context, b Backend) error {
		return b.Select(ctx, next)
	})
}

// =============================================================================
// SNAPSHOTS AND LAYOUT
// =============================================================================

// applySnapshot renders snap. The input widget is only overwritten when
// the active session changes so that typing is never clobbered by an
// echo of an older keystroke.
func (m *Model) applySnapshot(snap core.Snapshot) {
	switched := !m.haveSnap || snap.Active != m.snap.Active
	m.snap = snap
	m.haveSnap = true

	if switched {
		m.input.SetValue(snap.Input)
		m.input.CursorEnd()
	}
	m.layout()
	m.refreshContent(switched)
}

// refreshContent re-renders the transcript, following the tail when the
// view was already at the bottom.
func (m *Model) refreshContent(forceBottom bool) {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.messages.Render(m.snap.Messages, m.snap.Streaming, m.snap.StreamText))
	if atBottom || forceBottom {
		m.viewport.GotoBottom()
	}
}

// layout sizes the sidebar, viewport and input from the window and the
// banners currently shown.
func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	const header, inputBox, status = 1, 3, 1
	bodyHeight := m.height - header - inputBox - status - len(m.banners())
	if bodyHeight < 3 {
		bodyHeight = 3
	}

	sideWidth := 0
	if m.theme.LayoutMode() != styles.LayoutNarrow {
		sideWidth = m.sidebar.Width
	}
	m.sidebar.Height = bodyHeight

	mainWidth := m.width - sideWidth
	m.viewport.Width = mainWidth
	m.viewport.Height = bodyHeight
	m.messages.SetWidth(mainWidth - 4)
	m.input.Width = m.width - 6
	m.statusBar.Width = m.width
}
