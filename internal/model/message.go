// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the streaming core.
package model

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-stream/internal/util"
)

// PreviewLength bounds session previews, in runes.
const PreviewLength = 80

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single finalized message. Once appended to a message list it
// is never mutated; callers receive copies.
type Message struct {
	ID        string         `json:"id" yaml:"id"`
	Role      Role           `json:"role" yaml:"role"`
	Content   string         `json:"content" yaml:"content"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NewUserMessage creates a locally generated user message stamped now.
func NewUserMessage(content string) Message {
	return NewUserMessageAt(content, time.Now())
}

// NewUserMessageAt creates a user message with an explicit timestamp.
func NewUserMessageAt(content string, at time.Time) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: at,
	}
}

// NewAssistantMessage creates a finalized assistant message. An empty id
// means the server did not supply one, so a local id is generated.
func NewAssistantMessage(id, content string, metadata map[string]any, at time.Time) Message {
	if id == "" {
		id = NewID()
	}
	return Message{
		ID:        id,
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: at,
		Metadata:  maps.Clone(metadata),
	}
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	m.Metadata = maps.Clone(m.Metadata)
	return m
}

// Preview returns a single-line excerpt of the content.
func (m Message) Preview(maxLen int) string {
	return util.Excerpt(m.Content, maxLen)
}

// IsEmpty returns true if the message has no content.
func (m Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// CloneMessages copies a message list.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}
