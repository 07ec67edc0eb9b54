// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Change is a bit set of what an Update touched.
type Change uint16

const (
	ChangeMessages Change = 1 << iota
	ChangeStream
	ChangeSessions
	ChangeConnection
	ChangeInput
	ChangeHealth
	ChangeError

	ChangeAll = ChangeMessages | ChangeStream | ChangeSessions | ChangeConnection |
		ChangeInput | ChangeHealth | ChangeError
)

// Has reports whether c includes any bit of other.
func (c Change) Has(other Change) bool {
	return c&other != 0
}

// Update is a change hint. Subscribers read the new state with Snapshot;
// a dropped hint is harmless because the next one carries a newer Seq.
type Update struct {
	Changes Change
	Seq     uint64
}

// broadcaster fans updates out without ever blocking the loop.
type broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan Update
	closed bool
	logger *zap.Logger
}

func newBroadcaster(logger *zap.Logger) *broadcaster {
	return &broadcaster{
		subs:   make(map[string]chan Update),
		logger: logger,
	}
}

func (b *broadcaster) subscribe() (<-chan Update, func()) {
	id := uuid.NewString()
	ch := make(chan Update, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() { b.unsubscribe(id) }
}

func (b *broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- u:
		default:
			b.logger.Debug("dropped update for slow subscriber", zap.String("sub_id", id))
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
