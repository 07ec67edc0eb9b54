// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat ties the streaming core together behind one goroutine-safe
// Client.
//
// The Client owns a run loop and every component that lives on it: the
// session directory, the stream reducer, the connection manager and the
// draft guard. Public methods marshal onto the loop, so callers never see
// partially applied state. REST calls run on helper goroutines and post
// their results back tagged with the selection generation they were issued
// under; a response for an older selection is dropped.
//
// # Key Types
//
//   - Client: the orchestrator
//   - Snapshot: a consistent copy of everything a view renders
//   - Update: change hint fanned out to subscribers
//   - SendFailure, HealthCheckFailure: surfaced, recoverable errors
//
// # Usage
//
//	client, err := chat.New(ctx, chat.Options{
//	    Sessions: api, History: api, Health: api,
//	    Dialer:   conn.NewWSDialer(server),
//	})
//	go client.Run(ctx)
//
//	updates, cancel := client.Subscribe()
//	defer cancel()
//	msg, err := client.Submit(ctx, "hello")
package chat
