// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the JSON frames exchanged over the chat channel.
//
// # Key Types
//
//   - Event: decoded inbound frame, discriminated by Type
//   - SendRequest: outbound user message with model metadata
//   - Metadata: model selection sent with every request
//
// # Usage
//
//	ev, err := protocol.Decode(raw)
//	if err != nil {
//	    return err
//	}
//	switch ev.Type {
//	case protocol.TypeDelta:
//	    buf.Append(ev.Content)
//	}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event types.
const (
	TypeStart        = "message.start"
	TypeDelta        = "message.delta"
	TypeEnd          = "message.end"
	TypeMessageError = "message.error"
	TypeError        = "error"
	TypePong         = "pong"
)

// Outbound frame types.
const (
	TypeMessage = "message"
	TypePing    = "ping"
)

// ErrMissingType is returned for frames without a type field.
var ErrMissingType = errors.New("protocol: frame has no type")

// =============================================================================
// INBOUND
// =============================================================================

// Event is one inbound frame. Only the fields relevant to Type are set.
type Event struct {
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// HasContent distinguishes an absent content field from an empty one.
	HasContent bool `json:"-"`
}

// IsError reports whether the event aborts the current turn.
func (e Event) IsError() bool {
	return e.Type == TypeMessageError || e.Type == TypeError
}

// Decode parses one inbound frame. Unknown types decode without error so
// callers can ignore them.
func Decode(data []byte) (Event, error) {
	var raw struct {
		Type      string         `json:"type"`
		Content   *string        `json:"content"`
		MessageID string         `json:"message_id"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	if raw.Type == "" {
		return Event{}, ErrMissingType
	}

	ev := Event{
		Type:      raw.Type,
		MessageID: raw.MessageID,
		Metadata:  raw.Metadata,
	}
	if raw.Content != nil {
		ev.Content = *raw.Content
		ev.HasContent = true
	}
	return ev, nil
}

// Encode renders an inbound event. Used by the mock backend and tests.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// =============================================================================
// OUTBOUND
// =============================================================================

// Metadata carries the model selection for a request.
type Metadata struct {
	ModelType string `json:"model_type"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

// SendRequest is the outbound frame for a user message.
type SendRequest struct {
	Type     string   `json:"type"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// NewSendRequest builds a message frame.
func NewSendRequest(text string, meta Metadata) SendRequest {
	return SendRequest{Type: TypeMessage, Text: text, Metadata: meta}
}

// EncodePing renders a heartbeat frame.
func EncodePing() []byte {
	return []byte(`{"type":"ping"}`)
}

// Outbound is a decoded frame as seen by the server side.
type Outbound struct {
	Type     string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// DecodeOutbound parses a client frame.
func DecodeOutbound(data []byte) (Outbound, error) {
	var out Outbound
	if err := json.Unmarshal(data, &out); err != nil {
		return Outbound{}, fmt.Errorf("decode client frame: %w", err)
	}
	if out.Type == "" {
		return Outbound{}, ErrMissingType
	}
	return out, nil
}
