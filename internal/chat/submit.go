// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/model"
)

// Submit sends text as a user message on the active session. The message
// is appended locally before the frame is queued, so a successful return
// means the list already holds it. On success the input and stored draft
// are cleared; on failure both are kept for a retry.
func (c *Client) Submit(ctx context.Context, text string) (model.Message, error) {
	var (
		msg model.Message
		err error
	)
	callErr := c.call(ctx, func() { msg, err = c.submit(text) })
	if callErr != nil {
		return model.Message{}, callErr
	}
	return msg, err
}

// SubmitInput submits the current input text.
func (c *Client) SubmitInput(ctx context.Context) (model.Message, error) {
	var (
		msg model.Message
		err error
	)
	callErr := c.call(ctx, func() { msg, err = c.submit(c.input) })
	if callErr != nil {
		return model.Message{}, callErr
	}
	return msg, err
}

func (c *Client) submit(text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyInput
	}
	session := c.bound
	if session == "" {
		return model.Message{}, ErrNoSession
	}
	if c.conn.State() != conn.StateConnected {
		return model.Message{}, conn.ErrNotConnected
	}

	msg := model.NewUserMessageAt(text, c.clock.Now())
	c.messages = append(c.messages, msg)
	c.publish(ChangeMessages)
	c.deferPreview(session, msg.Content, msg.Timestamp)

	if err := c.conn.Send(msg.Content, c.metadata()); err != nil {
		c.logger.Warn("send failed", zap.String("session_id", session), zap.Error(err))
		failure := &SendFailure{Cause: err}
		c.setError(failure)
		return msg, failure
	}

	c.guard.Sent(session)
	c.input = ""
	if errors.As(c.lastErr, new(*SendFailure)) {
		c.lastErr = nil
	}
	c.queueTranscript()
	c.publish(ChangeInput | ChangeError)
	return msg, nil
}
