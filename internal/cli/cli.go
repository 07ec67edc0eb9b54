// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/logging"
	"github.com/jeranaias/rigrun-stream/internal/model"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	server     string
	token      string
	model      string
	verbose    bool
	noColor    bool
}

// app carries what PersistentPreRunE resolved for the command being run.
type app struct {
	flags   globalFlags
	cfg     *config.Config
	cfgPath string
	logger  *zap.Logger
}

// loadConfig resolves the config file, applies flag overrides and
// validates the result.
func (a *app) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.flags.configPath != "" {
		a.cfgPath = a.flags.configPath
		if _, statErr := os.Stat(a.cfgPath); os.IsNotExist(statErr) {
			cfg, err = config.Default(), nil
			cfg.ApplyEnvOverrides()
		} else {
			cfg, err = config.LoadFromPath(a.cfgPath)
		}
	} else {
		if a.cfgPath, err = config.ConfigPathTOML(); err != nil {
			return err
		}
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if a.flags.server != "" {
		cfg.Server.URL = a.flags.server
	}
	if a.flags.token != "" {
		cfg.Server.Token = a.flags.token
	}
	if a.flags.model != "" {
		cfg.Model = model.ParseSelection(cfg.Model, a.flags.model)
	}
	if a.flags.noColor {
		cfg.UI.NoColor = true
	}
	if a.flags.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// buildLogger creates the process logger. When toFile is set and no file is
// configured, logs go to rigstream.log in the config directory so they do
// not corrupt the full-screen UI.
func (a *app) buildLogger(toFile bool) error {
	opts := logging.Options{
		Level:   a.cfg.Logging.Level,
		Format:  a.cfg.Logging.Format,
		File:    a.cfg.Logging.File,
		Verbose: a.flags.verbose,
	}
	if toFile && opts.File == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		opts.File = dir + string(os.PathSeparator) + "rigstream.log"
	}
	logger, err := logging.New(opts)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if a.logger != nil {
		logging.Sync(a.logger)
	}
	a.logger = logger
	return nil
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "rigstream",
		Short: "Streaming chat client for websocket chat backends",
		Long: `rigstream is a terminal chat client that streams assistant replies over a
persistent websocket, keeps unsent input safe across restarts and tracks
unread replies across sessions.

Quick Start:
  rigstream mock-server &          # Local backend that echoes in chunks
  rigstream                        # Open the chat UI
  rigstream sessions list          # List sessions
  rigstream export <id> -f md      # Export a transcript`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			return a.buildLogger(false)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logging.Sync(a.logger)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, a, chatFlags{})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "config file (default ~/.rigstream/config.toml)")
	pf.StringVarP(&a.flags.server, "server", "s", "", "backend base URL")
	pf.StringVar(&a.flags.token, "token", "", "bearer token for the backend")
	pf.StringVarP(&a.flags.model, "model", "m", "", "model as provider/model or a bare model name")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable colors")

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.AddCommand(
		newChatCommand(a),
		newSessionsCommand(a),
		newExportCommand(a),
		newMockServerCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitSuccess
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rigstream %s\n  commit: %s\n  built:  %s\n", Version, GitCommit, BuildDate)
		},
	}
}
