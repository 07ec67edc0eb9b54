// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view for rigstream.
//
// The view is a thin shell over the streaming chat client: it subscribes to
// change hints, re-reads a consistent snapshot on every hint and renders it.
// All state that matters lives in the client; the model only keeps layout,
// the input widget and the last snapshot.
//
// # Key Types
//
//   - Model: the tea.Model for the full-screen chat
//   - Backend: the slice of the chat client the view drives
//   - KeyMap: key bindings
//
// # Usage
//
//	m := chat.New(client, theme, chat.Options{Markdown: true})
//	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())
//	_, err := p.Run()
package chat
