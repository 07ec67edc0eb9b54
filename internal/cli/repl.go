// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-stream/internal/chat"
	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/storage"
)

const (
	replyTimeout = 2 * time.Minute
	readyTimeout = 15 * time.Second
	pollInterval = 250 * time.Millisecond
)

// =============================================================================
// LINE INPUT
// =============================================================================

// lineReader is the prompt abstraction behind the REPL.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// historyLiner wraps liner with a persisted history file.
type historyLiner struct {
	*liner.State
	historyFile string
}

func newHistoryLiner() *historyLiner {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	h := &historyLiner{State: line}
	if dir, err := config.ConfigDir(); err == nil {
		h.historyFile = filepath.Join(dir, "chat_history")
		if f, err := os.Open(h.historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	return h
}

func (h *historyLiner) Close() error {
	if h.historyFile != "" {
		if f, err := os.Create(h.historyFile); err == nil {
			_, _ = h.WriteHistory(f)
			f.Close()
		}
	}
	return h.State.Close()
}

// scanReader reads prompts from a plain stream such as a pipe.
type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (s *scanReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	fmt.Fprintln(s.out)
	return s.scanner.Text(), nil
}

func (s *scanReader) AppendHistory(string) {}
func (s *scanReader) Close() error         { return nil }

func newLineReader(cmd *cobra.Command) lineReader {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && f == os.Stdin && IsTTY() {
		return newHistoryLiner()
	}
	return &scanReader{scanner: bufio.NewScanner(in), out: cmd.OutOrStdout()}
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	client *chat.Client
	out    io.Writer
	line   lineReader
}

func runREPL(cmd *cobra.Command, a *app, f chatFlags) error {
	ctx := cmd.Context()
	client, err := a.newChatClient(ctx, f.session)
	if err != nil {
		return err
	}
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, a.watchConfig(client)) }()

	r := &repl{client: client, out: cmd.OutOrStdout(), line: newLineReader(cmd)}
	loopErr := r.run(ctx)

	lineErr := r.line.Close()
	closeErr := client.Close()
	return errors.Join(loopErr, lineErr, closeErr, <-runErr)
}

func (r *repl) run(ctx context.Context) error {
	snap, err := r.waitReady(ctx)
	if err != nil {
		return err
	}
	r.printSession(snap)
	fmt.Fprintln(r.out, "Type a message, or /help for commands.")

	for {
		input, err := r.line.Prompt("rigstream> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(ctx, input)
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		if err := r.send(ctx, input); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

// waitReady blocks until the first listing is in and the active session,
// if any, has settled its connection.
func (r *repl) waitReady(ctx context.Context) (chat.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	return r.waitFor(ctx, func(s chat.Snapshot) bool {
		if !s.Listed || s.Loading {
			return false
		}
		return s.Active == "" || s.Connection == conn.StateConnected || s.Exhausted
	})
}

// waitFor re-reads the snapshot on every update hint, and on a poll tick in
// case a hint was dropped, until ok holds.
func (r *repl) waitFor(ctx context.Context, ok func(chat.Snapshot) bool) (chat.Snapshot, error) {
	updates, unsubscribe := r.client.Subscribe()
	defer unsubscribe()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		snap, err := r.client.Snapshot(ctx)
		if err != nil {
			return snap, err
		}
		if ok(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case _, open := <-updates:
			if !open {
				return snap, chat.ErrClosed
			}
		case <-ticker.C:
		}
	}
}

// send submits text and streams the reply to the terminal as it arrives.
// The reply is the first message after the submitted one.
func (r *repl) send(ctx context.Context, text string) error {
	if err := r.client.DismissError(); err != nil {
		return err
	}
	before, err := r.client.Snapshot(ctx)
	if err != nil {
		return err
	}
	sent, err := r.client.Submit(ctx, text)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	streamed := ""
	started := false
	replyAt := func(s chat.Snapshot) int {
		for i, msg := range s.Messages {
			if msg.ID == sent.ID && i+1 < len(s.Messages) {
				return i + 1
			}
		}
		return -1
	}
	snap, err := r.waitFor(ctx, func(s chat.Snapshot) bool {
		if s.Streaming {
			if !started {
				fmt.Fprint(r.out, "Assistant: ")
				started = true
			}
			if len(s.StreamText) > len(streamed) && strings.HasPrefix(s.StreamText, streamed) {
				fmt.Fprint(r.out, s.StreamText[len(streamed):])
				streamed = s.StreamText
			}
		}
		return replyAt(s) >= 0 || s.Err != nil || s.Active != before.Active
	})
	if err != nil {
		return err
	}

	if idx := replyAt(snap); idx >= 0 {
		reply := snap.Messages[idx].Content
		switch {
		case !started:
			fmt.Fprint(r.out, "Assistant: "+reply)
		case strings.HasPrefix(reply, streamed):
			fmt.Fprint(r.out, reply[len(streamed):])
		default:
			fmt.Fprint(r.out, "\n"+reply)
		}
		fmt.Fprintln(r.out)
		return nil
	}
	if started {
		fmt.Fprintln(r.out)
	}
	return snap.Err
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const replHelp = `Commands:
  /sessions          List sessions
  /switch <id>       Switch to a session
  /new [title]       Create a session and switch to it
  /delete [id]       Delete a session (default: the active one)
  /model <p/m>       Change the model sent with messages
  /reconnect         Dial the active session again
  /quit              Leave`

func (r *repl) command(ctx context.Context, input string) (quit bool, err error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		fmt.Fprintln(r.out, replHelp)

	case "/sessions":
		snap, err := r.client.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprint(r.out, storage.FormatSessionList(snap.Sessions, snap.Active))

	case "/switch":
		if arg == "" {
			return false, &UsageError{Msg: "usage: /switch <id>"}
		}
		if err := r.client.Select(ctx, arg); err != nil {
			return false, err
		}
		return false, r.afterSwitch(ctx)

	case "/new":
		if _, err := r.client.CreateSession(ctx, arg); err != nil {
			return false, err
		}
		return false, r.afterSwitch(ctx)

	case "/delete":
		id := arg
		if id == "" {
			snap, err := r.client.Snapshot(ctx)
			if err != nil {
				return false, err
			}
			id = snap.Active
		}
		if id == "" {
			return false, chat.ErrNoSession
		}
		if err := r.client.DeleteSession(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Deleted %s\n", id)
		return false, r.afterSwitch(ctx)

	case "/model":
		if arg == "" {
			snap, err := r.client.Snapshot(ctx)
			if err != nil {
				return false, err
			}
			fmt.Fprintf(r.out, "Model: %s\n", snap.Selection)
			return false, nil
		}
		snap, err := r.client.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		sel := model.ParseSelection(snap.Selection, arg)
		if err := r.client.SetSelection(sel); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Model: %s\n", sel)

	case "/reconnect":
		if err := r.client.Reconnect(); err != nil {
			return false, err
		}
		return false, r.afterSwitch(ctx)

	default:
		return false, &UsageError{Msg: fmt.Sprintf("unknown command %s (try /help)", name)}
	}
	return false, nil
}

func (r *repl) afterSwitch(ctx context.Context) error {
	snap, err := r.waitReady(ctx)
	if err != nil {
		return err
	}
	r.printSession(snap)
	return nil
}

// printSession prints the active session header and its history.
func (r *repl) printSession(snap chat.Snapshot) {
	sess, ok := snap.ActiveSession()
	if !ok {
		fmt.Fprintln(r.out, "No session selected. Use /new to start one.")
		return
	}
	fmt.Fprintf(r.out, "Session %s (%s) [%s]\n", sess.DisplayTitle(), sess.ID, snap.Connection)
	for _, msg := range snap.Messages {
		fmt.Fprintf(r.out, "%s: %s\n", msg.Role.DisplayName(), msg.Content)
	}
	if snap.Input != "" {
		fmt.Fprintf(r.out, "(restored draft: %q)\n", snap.Input)
	}
}
