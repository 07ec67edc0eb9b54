// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// Session is one conversation as listed in the session directory.
// UpdatedAt is the timestamp of the message that produced the preview.
type Session struct {
	ID                 string    `json:"id" yaml:"id"`
	Title              string    `json:"title" yaml:"title"`
	LastMessagePreview string    `json:"last_message_preview" yaml:"last_message_preview"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"updated_at"`
	UnreadCount        int       `json:"unread_count" yaml:"unread_count"`
}

// DisplayTitle returns the title, or a placeholder for untitled sessions.
func (s Session) DisplayTitle() string {
	if s.Title == "" {
		return "New conversation"
	}
	return s.Title
}

// DraftSnapshot is a persisted copy of not-yet-sent input.
type DraftSnapshot struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	SavedAt   time.Time `json:"saved_at"`
}

// Health is the result of the advisory backend health check.
type Health struct {
	IsHealthy bool      `json:"is_healthy"`
	Issues    []string  `json:"issues"`
	Hints     []string  `json:"hints"`
	CheckedAt time.Time `json:"-"`
	// Err is set when the check itself failed.
	Err error `json:"-"`
	// Dismissed hides the current warning until the next poll result.
	Dismissed bool `json:"-"`
}

// Warning reports whether the health signal should be shown to the user.
func (h Health) Warning() bool {
	if h.Dismissed || h.CheckedAt.IsZero() {
		return false
	}
	return h.Err != nil || !h.IsHealthy
}
