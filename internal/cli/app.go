// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/api"
	"github.com/jeranaias/rigrun-stream/internal/chat"
	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/draft"
	"github.com/jeranaias/rigrun-stream/internal/storage"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

func (a *app) apiClient() *api.Client {
	return api.NewClientWithConfig(api.ClientConfig{
		BaseURL: a.cfg.Server.URL,
		Timeout: a.cfg.Server.RequestTimeout.D(),
		Token:   a.cfg.Server.Token,
	})
}

func (a *app) dialer() *conn.WSDialer {
	d := conn.NewWSDialer(a.cfg.Server.URL)
	if a.cfg.Server.Token != "" {
		d.Header.Set("Authorization", "Bearer "+a.cfg.Server.Token)
	}
	return d
}

func (a *app) transcripts() (*storage.TranscriptStore, error) {
	if !a.cfg.Transcripts.Enabled {
		return nil, nil
	}
	dir := a.cfg.Transcripts.Dir
	if dir == "" {
		base, err := config.ConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "transcripts")
	}
	store, err := storage.NewTranscriptStoreWithDir(dir)
	if err != nil {
		return nil, err
	}
	store.MaxTranscripts = a.cfg.Transcripts.Max
	return store, nil
}

func (a *app) draftStore() (draft.Store, error) {
	if a.cfg.Draft.Store == draft.KindMemory {
		return draft.NewMemoryStore(), nil
	}
	path, err := a.cfg.DraftPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return draft.OpenStore(a.cfg.Draft.Store, path)
}

// newChatClient wires a chat.Client from the resolved config.
func (a *app) newChatClient(ctx context.Context, initialSession string) (*chat.Client, error) {
	backend := a.apiClient()

	transcripts, err := a.transcripts()
	if err != nil {
		return nil, err
	}
	store, err := a.draftStore()
	if err != nil {
		return nil, err
	}

	opts := chat.Options{
		Sessions:       backend,
		History:        backend,
		Dialer:         a.dialer(),
		DraftStore:     store,
		Transcripts:    transcripts,
		Conn:           a.cfg.ConnManager(),
		Draft:          a.cfg.DraftGuard(),
		FrameInterval:  a.cfg.Stream.FrameInterval.D(),
		HealthInterval: a.cfg.Health.Interval.D(),
		Selection:      a.cfg.Model,
		InitialSession: initialSession,
		Logger:         a.logger,
	}
	if a.cfg.Health.Enabled {
		opts.Health = backend
	}

	client, err := chat.New(ctx, opts)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return client, nil
}

// watchConfig hot-reloads the model selection from the config file. A
// missing file or watcher failure only disables reloading.
func (a *app) watchConfig(client *chat.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if _, err := os.Stat(a.cfgPath); err != nil {
			return nil
		}
		err := config.Watch(ctx, a.cfgPath, config.DefaultDebounce,
			func(cfg *config.Config) {
				if err := client.SetSelection(cfg.Model); err != nil {
					a.logger.Debug("selection reload skipped", zap.Error(err))
				}
			},
			func(err error) {
				a.logger.Warn("config reload failed", zap.Error(err))
			})
		if err != nil {
			a.logger.Warn("config watch disabled", zap.Error(err))
		}
		return nil
	}
}
