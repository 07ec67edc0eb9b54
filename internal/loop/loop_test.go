// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	<-l.Started()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestHighTierDrainsBeforeLow(t *testing.T) {
	l := New(nil)
	var order []string

	// Queue before Run so the ordering is decided purely by tier
	l.Defer(func() { order = append(order, "preview-1") })
	l.Post(func() { order = append(order, "message-1") })
	l.Defer(func() { order = append(order, "preview-2") })
	l.Post(func() { order = append(order, "message-2") })

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() {
		cancel()
		<-l.Done()
	}()

	require.NoError(t, l.Call(context.Background(), func() {}))
	// Call itself is high tier; flush the low tier with a deferred marker
	marker := make(chan struct{})
	l.Defer(func() { close(marker) })
	<-marker

	assert.Equal(t, []string{"message-1", "message-2", "preview-1", "preview-2"}, order)
}

func TestPostFromInsideLoopDoesNotBlock(t *testing.T) {
	l, _ := startLoop(t)

	done := make(chan int, 1)
	require.NoError(t, l.Call(context.Background(), func() {
		n := 0
		for i := 0; i < 10000; i++ {
			l.Post(func() { n++ })
		}
		l.Post(func() { done <- n })
	}))

	select {
	case n := <-done:
		assert.Equal(t, 10000, n)
	case <-time.After(2 * time.Second):
		t.Fatal("posted work never ran")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	l, _ := startLoop(t)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestStoppedLoopRejectsWork(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	<-l.Started()
	cancel()
	<-l.Done()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}
