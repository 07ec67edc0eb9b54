// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake()
	var order []string

	c.AfterFunc(30*time.Millisecond, func() { order = append(order, "late") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "early") })

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"early"}, order)

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeStop(t *testing.T) {
	c := NewFake()
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFakeChainedTimersInsideWindow(t *testing.T) {
	c := NewFake()
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(10*time.Millisecond, tick)
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(35 * time.Millisecond)
	assert.Equal(t, 3, count)
}
