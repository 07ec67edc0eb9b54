// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	uichat "github.com/jeranaias/rigrun-stream/internal/ui/chat"
	"github.com/jeranaias/rigrun-stream/internal/ui/styles"
)

type chatFlags struct {
	session string
	plain   bool
}

func newChatCommand(a *app) *cobra.Command {
	var f chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat (full screen on a terminal, line mode otherwise)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, a, f)
		},
	}
	cmd.Flags().StringVar(&f.session, "session", "", "session to open first")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "use the line-mode REPL even on a terminal")
	return cmd
}

func runChat(cmd *cobra.Command, a *app, f chatFlags) error {
	if f.plain || !interactive() {
		return runREPL(cmd, a, f)
	}
	return runTUI(cmd, a, f)
}

// runTUI runs the full-screen UI. The program exits when the user quits or
// the client stops publishing.
func runTUI(cmd *cobra.Command, a *app, f chatFlags) error {
	if err := a.buildLogger(true); err != nil {
		return err
	}
	ctx := cmd.Context()
	client, err := a.newChatClient(ctx, f.session)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, a.watchConfig(client)) }()

	theme := styles.NewTheme(a.cfg.UI.Theme, a.cfg.UI.NoColor)
	m := uichat.New(client, theme, uichat.Options{
		Markdown:     a.cfg.UI.Markdown,
		SidebarWidth: a.cfg.UI.SidebarWidth,
	})
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	_, uiErr := p.Run()
	if errors.Is(uiErr, tea.ErrProgramKilled) {
		uiErr = nil
	}

	closeErr := client.Close()
	return errors.Join(uiErr, closeErr, <-runErr)
}
