// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mockserver provides a local chat backend for development and
// integration tests.
//
// It keeps sessions and messages in memory and answers every user message
// by streaming an echo reply back over the websocket in small deltas.
//
// # Endpoints
//
//   - POST   /api/sessions               - Create a session
//   - GET    /api/sessions               - List sessions, most recent first
//   - DELETE /api/sessions/{id}          - Delete a session
//   - DELETE /api/sessions               - Delete every session
//   - GET    /api/sessions/{id}/messages - Session history
//   - GET    /api/health                 - Health report
//   - GET    /ws/chat/{id}               - Streaming channel
//
// # Key Types
//
//   - Server: HTTP server with router and middleware
//   - Config: Reply pacing, auth token and health report
//
// # Usage
//
//	srv := mockserver.New(mockserver.DefaultConfig(), logger)
//	ts := httptest.NewServer(srv.Handler())
//	defer ts.Close()
package mockserver
