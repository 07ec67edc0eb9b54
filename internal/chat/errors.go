// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned by Submit for blank text.
	ErrEmptyInput = errors.New("message is empty")

	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active session")

	// ErrUnknownSession is returned when selecting an id the directory does
	// not know.
	ErrUnknownSession = errors.New("unknown session")

	// ErrClosed is returned once the client has shut down.
	ErrClosed = errors.New("chat client closed")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("chat client already running")
)

// SendFailure reports that the outbound frame could not be queued. The
// optimistic message and the draft are kept so the user can retry.
type SendFailure struct {
	Cause error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send failed: %v", e.Cause)
}

func (e *SendFailure) Unwrap() error {
	return e.Cause
}

// HealthCheckFailure is an advisory health probe failure. It is retried on
// the next poll and can be dismissed.
type HealthCheckFailure struct {
	Cause error
}

func (e *HealthCheckFailure) Error() string {
	return fmt.Sprintf("health check failed: %v", e.Cause)
}

func (e *HealthCheckFailure) Unwrap() error {
	return e.Cause
}
