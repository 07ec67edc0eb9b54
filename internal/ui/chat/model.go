// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	core "github.com/jeranaias/rigrun-stream/internal/chat"
	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ui/components"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
)

// actionTimeout bounds every call the view makes into the client.
const actionTimeout = 15 * time.Second

// Backend is the part of the chat client the view drives.
type Backend interface {
	Subscribe() (<-chan core.Update, func())
	Snapshot(ctx context.Context) (core.Snapshot, error)
	Select(ctx context.Context, id string) error
	CreateSession(ctx context.Context, title string) (model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	SetInput(text string) error
	SubmitInput(ctx context.Context) (model.Message, error)
	Lifecycle(sig conn.Signal) error
	Reconnect() error
	DismissHealth() error
	DismissError() error
}

// Options tune the view.
type Options struct {
	Markdown     bool
	SidebarWidth int
	Keys         *KeyMap
}

// =============================================================================
// MESSAGES
// =============================================================================

// snapshotMsg carries a fresh client snapshot.
type snapshotMsg struct {
	snap core.Snapshot
}

// closedMsg reports that the client stopped publishing.
type closedMsg struct{}

// actionMsg reports the outcome of a call into the client.
type actionMsg struct {
	action string
	err    error
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	backend Backend
	theme   *styles.Theme
	keys    KeyMap

	width  int
	height int

	viewport  viewport.Model
	input     textinput.Model
	spinner   spinner.Model
	messages  *components.MessageRenderer
	sidebar   *components.Sidebar
	statusBar *components.StatusBar

	updates     <-chan core.Update
	unsubscribe func()

	snap     core.Snapshot
	haveSnap bool
	// flash is the last failed view action, shown until the next key press.
	flash    error
	quitting bool
}

// New creates the chat view and subscribes to the backend.
func New(backend Backend, theme *styles.Theme, opts Options) Model {
	keys := DefaultKeyMap()
	if opts.Keys != nil {
		keys = *opts.Keys
	}

	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Prompt = "> "
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	updates, unsubscribe := backend.Subscribe()

	return Model{
		backend:     backend,
		theme:       theme,
		keys:        keys,
		viewport:    viewport.New(80, 20),
		input:       ti,
		spinner:     sp,
		messages:    components.NewMessageRenderer(theme, opts.Markdown),
		sidebar:     components.NewSidebar(theme, opts.SidebarWidth),
		statusBar:   components.NewStatusBar(theme),
		updates:     updates,
		unsubscribe: unsubscribe,
	}
}

// Snapshot returns the last snapshot the view rendered.
func (m Model) Snapshot() core.Snapshot { return m.snap }

// Init starts listening for updates and loads the first snapshot.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchSnapshot(),
		m.waitForUpdate(),
		m.spinner.Tick,
		textinput.Blink,
	)
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForUpdate blocks for the next change hint, drains any queued behind
// it and reads one snapshot for the lot.
func (m Model) waitForUpdate() tea.Cmd {
	updates := m.updates
	backend := m.backend
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return closedMsg{}
		}
	drain:
		for {
			select {
			case _, ok := <-updates:
				if !ok {
					return closedMsg{}
				}
			default:
				break drain
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		snap, err := backend.Snapshot(ctx)
		if err != nil {
			return closedMsg{}
		}
		return snapshotMsg{snap: snap}
	}
}

func (m Model) fetchSnapshot() tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		snap, err := backend.Snapshot(ctx)
		if err != nil {
			return actionMsg{action: "load", err: err}
		}
		return snapshotMsg{snap: snap}
	}
}

// do runs fn against the backend off the update goroutine.
func (m Model) do(action string, fn func(ctx context.Context, b Backend) error) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{action: action, err: fn(ctx, backend)}
	}
}
