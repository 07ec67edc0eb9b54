// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigstream.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, validation and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - Duration: time.Duration written as "25s"
//   - ValidateErrors: Every problem found by Validate
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGSTREAM_*)
//   - ~/.rigstream/config.toml
//   - ~/.rigstream/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	mgr := conn.NewManager(loop, dialer, cfg.ConnManager(), handler)
//
// Reload the model selection when the file changes:
//
//	go config.Watch(ctx, path, 0, func(c *config.Config) {
//	    client.SetSelection(c.Model)
//	}, nil)
package config
