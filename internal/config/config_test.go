// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 25*time.Second, cfg.Connection.HeartbeatInterval.D())
	assert.Equal(t, 6, cfg.ConnManager().MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.DraftGuard().Interval)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.Server.URL = "::nope" }, "server.url"},
		{"ws scheme", func(c *Config) { c.Server.URL = "ws://host" }, "server.url"},
		{"zero frame", func(c *Config) { c.Stream.FrameInterval = 0 }, "stream.frame_interval"},
		{"max below base", func(c *Config) { c.Connection.ReconnectMax = Duration(time.Millisecond) }, "connection.reconnect_max"},
		{"timeout too long", func(c *Config) { c.Connection.HeartbeatTimeout = c.Connection.HeartbeatInterval }, "connection.heartbeat_timeout"},
		{"no attempts", func(c *Config) { c.Connection.MaxAttempts = 0 }, "connection.max_attempts"},
		{"store", func(c *Config) { c.Draft.Store = "redis" }, "draft.store"},
		{"theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"model", func(c *Config) { c.Model.Model = "" }, "model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			fields := make([]string, len(verrs))
			for i, v := range verrs {
				fields[i] = v.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestConfig_TOMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Server.URL = "https://chat.example.com"
	cfg.Connection.MaxAttempts = 3
	cfg.Stream.FrameInterval = Duration(33 * time.Millisecond)
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", loaded.Server.URL)
	assert.Equal(t, 3, loaded.Connection.MaxAttempts)
	assert.Equal(t, 33*time.Millisecond, loaded.Stream.FrameInterval.D())
}

func TestConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection]\nmax_attempts = 2\nreconnect_base = \"250ms\"\n"), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Connection.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Connection.ReconnectBase.D())
	assert.Equal(t, Default().Server.URL, cfg.Server.URL)
}

func TestConfig_UnknownKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection]\nretries = 2\n"), 0o600))
	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection.retries")
}

func TestConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Draft.Store = "file"
	require.NoError(t, SaveJSON(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "file", loaded.Draft.Store)
	assert.Equal(t, cfg.Connection.HeartbeatTimeout, loaded.Connection.HeartbeatTimeout)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RIGSTREAM_SERVER", "http://10.0.0.2:9000")
	t.Setenv("RIGSTREAM_TOKEN", "tok")
	t.Setenv("RIGSTREAM_MODEL", "anthropic/claude-sonnet")
	t.Setenv("RIGSTREAM_LOG_LEVEL", "debug")
	t.Setenv("NO_COLOR", "1")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "http://10.0.0.2:9000", cfg.Server.URL)
	assert.Equal(t, "tok", cfg.Server.Token)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "claude-sonnet", cfg.Model.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.UI.NoColor)
}

func TestConfig_LoadUsesHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RIGSTREAM_HOME", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[ui]\ntheme = \"light\"\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "light", cfg.UI.Theme)

	p, err := cfg.DraftPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "draft.db"), p)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("connection.max_attempts", "9"))
	v, err := cfg.Get("connection.max_attempts")
	require.NoError(t, err)
	assert.Equal(t, 9, v)

	require.NoError(t, cfg.Set("draft.interval", "2s"))
	v, err = cfg.Get("draft.interval")
	require.NoError(t, err)
	assert.Equal(t, "2s", v)

	require.NoError(t, cfg.Set("ui.markdown", "false"))
	assert.False(t, cfg.UI.Markdown)

	_, err = cfg.Get("connection.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("ui.markdown", "maybe"))
}

func TestConfig_GetAllKeys(t *testing.T) {
	keys := GetAllKeys()
	assert.Contains(t, keys, "server.url")
	assert.Contains(t, keys, "model.provider")
	assert.Contains(t, keys, "connection.heartbeat_interval")

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Server.Token = "super-secret"
	assert.NotContains(t, cfg.String(), "super-secret")
	assert.Equal(t, "super-secret", cfg.Server.Token)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.D())
	require.NoError(t, d.UnmarshalText([]byte("250")))
	assert.Equal(t, 250*time.Millisecond, d.D())
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu  sync.Mutex
		got string
	)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(c *Config) {
			mu.Lock()
			defer mu.Unlock()
			got = c.Model.Model
		}, nil)
	}()

	updated := Default()
	updated.Model.Model = "gpt-4.1"
	require.Eventually(t, func() bool {
		require.NoError(t, SaveTOML(updated, path))
		mu.Lock()
		defer mu.Unlock()
		return got == "gpt-4.1"
	}, 3*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_BadFileReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 16)
	go Watch(ctx, path, 20*time.Millisecond, func(*Config) {}, func(err error) { errs <- err })

	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(path, []byte("[ui]\ntheme = \"neon\"\n"), 0o600))
		select {
		case err := <-errs:
			return err != nil
		default:
			return false
		}
	}, 3*time.Second, 100*time.Millisecond)
}
