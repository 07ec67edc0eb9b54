// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the streaming core.
//
// # Key Types
//
//   - Session: conversation entry in the session directory
//   - Message: finalized user or assistant message
//   - DraftSnapshot: persisted copy of unsent input
//   - Health: result of the backend health check
//   - Selection: model choice carried as outbound metadata
//   - Role: message role enumeration (user, assistant)
//
// # Usage
//
//	msg := model.NewUserMessage("Hello!")
//	preview := msg.Preview(model.PreviewLength)
package model
