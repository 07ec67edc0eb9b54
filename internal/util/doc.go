// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the rigstream packages.
//
// # Key Functions
//
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - SingleLine: collapse whitespace and line breaks into single spaces
//   - Excerpt: bounded single-line preview of message text
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//
// # Usage
//
//	preview := util.Excerpt(msg.Content, 80)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
