// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// Model types understood by the backend.
const (
	ModelTypeChat      = "chat"
	ModelTypeReasoning = "reasoning"
)

// Selection is the model choice sent as metadata with every outbound message.
type Selection struct {
	ModelType string `json:"model_type" toml:"model_type"`
	Provider  string `json:"provider" toml:"provider"`
	Model     string `json:"model" toml:"model"`
}

// DefaultSelection returns the selection used when nothing is configured.
func DefaultSelection() Selection {
	return Selection{
		ModelType: ModelTypeChat,
		Provider:  "openai",
		Model:     "gpt-4o-mini",
	}
}

// IsZero reports whether no field is set.
func (s Selection) IsZero() bool {
	return s.ModelType == "" && s.Provider == "" && s.Model == ""
}

// String renders the selection as provider/model for status lines.
func (s Selection) String() string {
	if s.Provider == "" {
		return s.Model
	}
	return s.Provider + "/" + s.Model
}

// ParseSelection parses "provider/model" (or a bare model name) keeping the
// model type of base.
func ParseSelection(base Selection, value string) Selection {
	value = strings.TrimSpace(value)
	if value == "" {
		return base
	}
	if provider, name, ok := strings.Cut(value, "/"); ok {
		base.Provider = provider
		base.Model = name
		return base
	}
	base.Model = value
	return base
}
