// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/api"
	"github.com/jeranaias/rigrun-stream/internal/export"
	"github.com/jeranaias/rigrun-stream/internal/storage"
)

type exportFlags struct {
	format   string
	outDir   string
	stdout   bool
	cached   bool
	noMeta   bool
	noStamps bool
}

func newExportCommand(a *app) *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session transcript",
		Long: `Export a session transcript as Markdown, JSON or YAML.

The transcript is fetched from the backend. When the backend is unreachable,
or with --cached, the local transcript cache is used instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, a, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.format, "format", "f", "md", "output format: "+strings.Join(export.Formats(), ", "))
	fl.StringVarP(&f.outDir, "out", "o", ".", "output directory")
	fl.BoolVar(&f.stdout, "stdout", false, "write to stdout instead of a file")
	fl.BoolVar(&f.cached, "cached", false, "read from the local transcript cache only")
	fl.BoolVar(&f.noMeta, "no-metadata", false, "omit session metadata")
	fl.BoolVar(&f.noStamps, "no-timestamps", false, "omit message timestamps")
	return cmd
}

func runExport(cmd *cobra.Command, a *app, id string, f exportFlags) error {
	opts := export.DefaultOptions()
	opts.OutputDir = f.outDir
	opts.IncludeMetadata = !f.noMeta
	opts.IncludeTimestamps = !f.noStamps

	exporter, err := export.ForFormat(f.format, opts)
	if err != nil {
		return err
	}

	tr, err := a.loadTranscript(cmd.Context(), id, f.cached)
	if err != nil {
		return err
	}

	if f.stdout {
		content, err := exporter.Export(tr)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(content)
		return err
	}
	path, err := export.ExportToFile(tr, exporter, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages to %s\n", len(tr.Messages), path)
	return nil
}

// loadTranscript reads a session from the backend, falling back to the
// transcript cache on transport failures. A 404 is final.
func (a *app) loadTranscript(ctx context.Context, id string, cachedOnly bool) (*storage.Transcript, error) {
	if !cachedOnly {
		tr, err := a.fetchTranscript(ctx, id)
		if err == nil {
			return tr, nil
		}
		if errors.Is(err, api.ErrNotFound) {
			return nil, err
		}
		a.logger.Warn("backend unavailable, using transcript cache", zap.Error(err))
		if cached, cacheErr := a.cachedTranscript(id); cacheErr == nil {
			return cached, nil
		}
		return nil, err
	}
	return a.cachedTranscript(id)
}

func (a *app) fetchTranscript(ctx context.Context, id string) (*storage.Transcript, error) {
	client := a.apiClient()
	sessions, err := client.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.ID != id {
			continue
		}
		msgs, err := client.Messages(ctx, id)
		if err != nil {
			return nil, err
		}
		return &storage.Transcript{Session: sess, Messages: msgs, SavedAt: time.Now()}, nil
	}
	return nil, fmt.Errorf("session %s: %w", id, api.ErrNotFound)
}

func (a *app) cachedTranscript(id string) (*storage.Transcript, error) {
	store, err := a.transcripts()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("transcript cache is disabled")
	}
	return store.Load(id)
}
