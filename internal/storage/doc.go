// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local transcript cache.
//
// Finalized messages of every session the client has seen are written to
// disk so transcripts can be exported and listed while the backend is
// unreachable.
//
// # Key Types
//
//   - TranscriptStore: JSON-file store, one file per session
//   - Transcript: a session and its finalized messages
//   - TranscriptMeta: lightweight metadata for listing
//
// # Usage
//
//	store, err := storage.NewTranscriptStoreWithDir(dir)
//	err = store.Save(&storage.Transcript{Session: s, Messages: msgs})
//
//	metas, err := store.List()
//	tr, err := store.Load(metas[0].ID)
//
// # Storage Location
//
// Transcripts are stored in ~/.rigstream/transcripts/ as JSON files.
package storage
