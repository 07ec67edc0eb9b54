// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package draft protects unsent input against crashes and restarts.
//
// A Guard keeps a single-slot DraftSnapshot scoped to the session it was
// typed in. Input changes are throttled with a token bucket and a trailing
// timer so the last keystroke is always persisted. Writes go to a durable
// Store on a background writer goroutine in submission order; the Guard
// mirrors the slot in memory, so restoring on activation never touches
// disk.
//
// # Key Types
//
//   - Guard: throttled save, scoped restore, clear on send
//   - Store: durable single-slot storage
//   - SQLiteStore: modernc.org/sqlite, one-row table
//   - FileStore: JSON file written with atomic rename and fsync
//   - MemoryStore: in-process store for tests and --no-draft
//
// # Usage
//
//	store, err := draft.OpenStore("sqlite", path)
//	guard, err := draft.NewGuard(ctx, store, lp, draft.DefaultConfig())
//	defer guard.Close(ctx)
//
//	text, ok := guard.Activate(sessionID)
//	guard.Input("half-typed message")
//	guard.Sent(sessionID)
package draft
