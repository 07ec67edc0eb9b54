// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send unless the channel is connected.
	ErrNotConnected = errors.New("not connected")

	// ErrReconnectExhausted is the persistent failure signal reported once
	// the reconnect budget is spent.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrHeartbeatTimeout is the cause of a ConnectionError when no pong
	// arrives in time.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrSendQueueFull is returned when the writer is too far behind.
	ErrSendQueueFull = errors.New("send queue full")
)

// ConnectionError reports a channel that failed to establish or dropped.
// It is non-fatal; the Manager retries while attempts remain.
type ConnectionError struct {
	Attempt int
	Cause   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (attempt %d): %v", e.Attempt, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}
