// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides the visual building blocks of the rigstream TUI.
//
// Components are pure renderers: each takes plain values (a chat snapshot,
// a width) and returns a string. None of them hold references to the chat
// client, so they are trivially testable.
//
// # Key Types
//
//   - MessageRenderer: renders transcript messages, assistant text through glamour
//   - Sidebar: the session directory column with previews and unread badges
//   - StatusBar: connection state, reconnect attempt, model and shortcuts
package components
