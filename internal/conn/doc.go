// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conn manages the duplex chat channel for the active session.
//
// The Manager owns connect, teardown, heartbeat and bounded reconnect. All
// of its methods must be called on the run loop. Each channel gets a reader
// and a writer goroutine; they never touch Manager state and only post
// closures back to the loop, tagged with the generation they were started
// under so callbacks from a torn-down channel are dropped.
//
// # Key Types
//
//   - Manager: connection lifecycle for one active session at a time
//   - Dialer / Channel: transport abstraction
//   - WSDialer: gorilla/websocket implementation
//   - ConnectionError: a failed dial or dropped channel
//
// # Reconnect Policy
//
// After a failure the Manager waits base * 2^(attempt-1), capped at max,
// and dials again. Once MaxAttempts consecutive failures have occurred it
// reports ErrReconnectExhausted, stays in StateErroring, and waits for a
// lifecycle signal (Visible, Focus, Restored) or an explicit Connect.
// The attempt counter resets once a connected channel delivers its first
// frame.
package conn
