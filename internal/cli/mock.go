// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/mockserver"
)

type mockFlags struct {
	addr       string
	chunkRunes int
	chunkDelay time.Duration
	rateLimit  float64
	unhealthy  bool
}

func newMockServerCommand(a *app) *cobra.Command {
	var f mockFlags
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run the bundled streaming mock backend",
		Long: `Run a local backend that implements the session REST API and the
websocket chat protocol. Replies echo the user's text in small deltas.

Send "/fail" to receive a mid-stream error and "/drop" to have the server
close the channel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := mockserver.DefaultConfig()
			cfg.Addr = firstNonEmpty(f.addr, a.cfg.Mock.Addr)
			cfg.ChunkRunes = a.cfg.Mock.ChunkRunes
			cfg.ChunkDelay = a.cfg.Mock.ChunkDelay.D()
			if cmd.Flags().Changed("chunk-runes") {
				cfg.ChunkRunes = f.chunkRunes
			}
			if cmd.Flags().Changed("chunk-delay") {
				cfg.ChunkDelay = f.chunkDelay
			}
			cfg.Token = a.cfg.Server.Token
			cfg.RateLimit = f.rateLimit
			if f.unhealthy {
				cfg.Health.IsHealthy = false
				cfg.Health.Issues = []string{"mock backend started with --unhealthy"}
				cfg.Health.Hints = []string{"restart without --unhealthy"}
			}
			return serveMock(cmd.Context(), cmd, mockserver.New(cfg, a.logger), cfg.Addr, a.logger)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "listen address (default from config, "+mockserver.DefaultAddr+")")
	fl.IntVar(&f.chunkRunes, "chunk-runes", 4, "runes per streamed delta")
	fl.DurationVar(&f.chunkDelay, "chunk-delay", 30*time.Millisecond, "pause between deltas")
	fl.Float64Var(&f.rateLimit, "rate-limit", 0, "requests per second per client (0 disables)")
	fl.BoolVar(&f.unhealthy, "unhealthy", false, "report an unhealthy backend")
	return cmd
}

// serveMock runs srv until ctx is cancelled, then shuts it down.
func serveMock(ctx context.Context, cmd *cobra.Command, srv *mockserver.Server, addr string, logger *zap.Logger) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Mock backend on http://%s (Ctrl+C to stop)\n", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil {
		err = errors.Join(err, serveErr)
	}
	logger.Info("mock backend stopped")
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
