// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/jeranaias/rigrun-stream/internal/chat"
	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

type fakeBackend struct {
	mu       sync.Mutex
	updates  chan core.Update
	snap     core.Snapshot
	inputs   []string
	selected []string
	deleted  []string
	created  int
	submits  int
	signals  []conn.Signal
	dismissH int
	dismissE int
	redials  int
	err      error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		updates: make(chan core.Update, 8),
		snap: core.Snapshot{
			Sessions: []model.Session{
				{ID: "a", Title: "Alpha", LastMessagePreview: "hello"},
				{ID: "b", Title: "Beta"},
				{ID: "c", Title: "Gamma"},
			},
			Active:     "a",
			Connection: conn.StateConnected,
			Selection:  model.DefaultSelection(),
			Messages: []model.Message{
				model.NewUserMessageAt("hello", time.Now()),
			},
			Visible: true,
			Listed:  true,
		},
	}
}

func (f *fakeBackend) Subscribe() (<-chan core.Update, func()) {
	return f.updates, func() {}
}

func (f *fakeBackend) Snapshot(context.Context) (core.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeBackend) Select(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, id)
	return f.err
}

func (f *fakeBackend) CreateSession(context.Context, string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return model.Session{ID: "new"}, f.err
}

func (f *fakeBackend) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

func (f *fakeBackend) SetInput(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, text)
	return nil
}

func (f *fakeBackend) SubmitInput(context.Context) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return model.Message{}, f.err
}

func (f *fakeBackend) Lifecycle(sig conn.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeBackend) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redials++
	return nil
}

func (f *fakeBackend) DismissHealth() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissH++
	return nil
}

func (f *fakeBackend) DismissError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissE++
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func newTestModel(t *testing.T, f *fakeBackend, width int) Model {
	t.Helper()
	m := New(f, styles.NewTheme(styles.ThemeDark, true), Options{})
	next, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: 30})
	m = next.(Model)
	snap, err := f.Snapshot(context.Background())
	require.NoError(t, err)
	next, _ = m.Update(snapshotMsg{snap: snap})
	return next.(Model)
}

func press(t *testing.T, m Model, msg tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(Model)
}

// =============================================================================
// TESTS
// =============================================================================

func TestViewShowsSessionsAndStatus(t *testing.T) {
	m := newTestModel(t, newFakeBackend(), 120)
	out := m.View()
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "Beta")
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "openai/gpt-4o-mini")
	assert.Contains(t, out, "hello")
}

func TestNarrowLayoutHidesSidebar(t *testing.T) {
	m := newTestModel(t, newFakeBackend(), 50)
	out := m.View()
	assert.NotContains(t, out, "Gamma")
	assert.Contains(t, out, "Alpha", "header still names the active session")
}

func TestTypingRecordsDraft(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 120)
	m, _ = press(t, m, runes("h"))
	m, _ = press(t, m, runes("i"))

	assert.Equal(t, "hi", m.input.Value())
	assert.Equal(t, []string{"h", "hi"}, f.inputs)
}

func TestEnterSubmitsAndClears(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 120)
	m, _ = press(t, m, runes("hi"))

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)
	assert.Equal(t, 1, f.submits)
	assert.Empty(t, m.input.Value())
}

func TestEnterOnEmptyInputDoesNothing(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 120)
	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Zero(t, f.submits)
}

func TestFailedSubmitKeepsInputAndFlashes(t *testing.T) {
	f := newFakeBackend()
	f.err = conn.ErrNotConnected
	m := newTestModel(t, f, 120)
	m, _ = press(t, m, runes("keep me"))

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)
	assert.Equal(t, "keep me", m.input.Value())
	assert.Contains(t, m.View(), "send:")

	m, _ = press(t, m, runes("!"))
	assert.NotContains(t, m.View(), "send:", "next key press clears the flash")
}

func TestTabCyclesSessions(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 120)

	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	run(t, m, cmd)
	_, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	run(t, m, cmd)

	assert.Equal(t, []string{"b", "c"}, f.selected, "wraps backwards from the first")
}

func TestSwitchRestoresDraft(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 120)
	m, _ = press(t, m, runes("typing"))

	snap := f.snap
	snap.Input = "typing"
	next, _ := m.Update(snapshotMsg{snap: snap})
	m = next.(Model)
	assert.Equal(t, "typing", m.input.Value(), "same session leaves the widget alone")

	snap.Active = "b"
	snap.Input = "saved draft"
	next, _ = m.Update(snapshotMsg{snap: snap})
	m = next.(Model)
	assert.Equal(t, "saved draft", m.input.Value())
}

func TestSessionKeys(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 120)

	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	run(t, m, cmd)
	_, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlX})
	run(t, m, cmd)
	_, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	run(t, m, cmd)

	assert.Equal(t, 1, f.created)
	assert.Equal(t, []string{"a"}, f.deleted)
	assert.Equal(t, 1, f.redials)
}

func TestFocusAndBlurForwardLifecycle(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 120)
	m.Update(tea.BlurMsg{})
	m.Update(tea.FocusMsg{})
	assert.Equal(t, []conn.Signal{conn.SignalHidden, conn.SignalVisible}, f.signals)
}

func TestHealthBannerAndDismiss(t *testing.T) {
	f := newFakeBackend()
	f.snap.Health = model.Health{
		IsHealthy: false,
		Issues:    []string{"model offline"},
		Hints:     []string{"try again later"},
		CheckedAt: time.Now(),
	}
	f.snap.Err = errors.New("stream failed")
	m := newTestModel(t, f, 120)

	out := m.View()
	assert.Contains(t, out, "model offline")
	assert.Contains(t, out, "try again later")
	assert.Contains(t, out, "stream failed")

	press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, 1, f.dismissH)
	assert.Equal(t, 1, f.dismissE)
}

func TestStreamingShowsLiveText(t *testing.T) {
	f := newFakeBackend()
	f.snap.Streaming = true
	f.snap.StreamText = "partial ans"
	m := newTestModel(t, f, 120)
	out := m.View()
	assert.Contains(t, out, "partial ans")
	assert.Contains(t, out, "streaming")
}

func TestWaitForUpdateCoalesces(t *testing.T) {
	f := newFakeBackend()
	m := New(f, styles.NewTheme(styles.ThemeDark, true), Options{})
	for i := 1; i <= 3; i++ {
		f.updates <- core.Update{Changes: core.ChangeStream, Seq: uint64(i)}
	}

	msg := m.waitForUpdate()()
	require.IsType(t, snapshotMsg{}, msg)
	assert.Empty(t, f.updates, "queued hints are drained into one snapshot")

	close(f.updates)
	assert.IsType(t, closedMsg{}, m.waitForUpdate()())
}

func TestClosedUpdatesQuit(t *testing.T) {
	m := newTestModel(t, newFakeBackend(), 120)
	next, cmd := m.Update(closedMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, next.View())
}
