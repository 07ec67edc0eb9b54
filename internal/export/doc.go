// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders session transcripts to files.
//
// # Key Types
//
//   - Exporter: Renders a transcript in one format
//   - Options: Output directory and metadata toggles
//
// # Supported Formats
//
//   - Markdown: Human-readable with YAML frontmatter
//   - JSON: Machine-readable, complete
//   - YAML: Machine-readable, complete
//
// # Usage
//
//	exp, err := export.ForFormat("md", nil)
//	path, err := export.ExportToFile(transcript, exp, nil)
package export
