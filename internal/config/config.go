// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-stream/internal/conn"
	"github.com/jeranaias/rigrun-stream/internal/draft"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RIGSTREAM_"

// CurrentVersion is written into new config files.
const CurrentVersion = "1"

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as "25s" in TOML and JSON.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Bare integers are
// read as milliseconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigstream configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Model selection sent with every outbound message.
	Model model.Selection `toml:"model" json:"model"`

	Server      ServerConfig      `toml:"server" json:"server"`
	Connection  ConnectionConfig  `toml:"connection" json:"connection"`
	Stream      StreamConfig      `toml:"stream" json:"stream"`
	Draft       DraftConfig       `toml:"draft" json:"draft"`
	Health      HealthConfig      `toml:"health" json:"health"`
	Transcripts TranscriptsConfig `toml:"transcripts" json:"transcripts"`
	UI          UIConfig          `toml:"ui" json:"ui"`
	Logging     LoggingConfig     `toml:"logging" json:"logging"`
	Mock        MockConfig        `toml:"mock" json:"mock"`
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	// URL is the HTTP base; the websocket URL is derived from it.
	URL string `toml:"url" json:"url"`

	// Token is sent as a bearer token when set.
	Token string `toml:"token" json:"token"`

	RequestTimeout Duration `toml:"request_timeout" json:"request_timeout"`
}

// ConnectionConfig tunes the heartbeat and reconnect policy.
type ConnectionConfig struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval" json:"heartbeat_interval"`
	HeartbeatTimeout  Duration `toml:"heartbeat_timeout" json:"heartbeat_timeout"`
	ReconnectBase     Duration `toml:"reconnect_base" json:"reconnect_base"`
	ReconnectMax      Duration `toml:"reconnect_max" json:"reconnect_max"`
	MaxAttempts       int      `toml:"max_attempts" json:"max_attempts"`
	DialTimeout       Duration `toml:"dial_timeout" json:"dial_timeout"`
}

// StreamConfig tunes incremental rendering.
type StreamConfig struct {
	FrameInterval Duration `toml:"frame_interval" json:"frame_interval"`
}

// DraftConfig selects where unsent input is kept.
type DraftConfig struct {
	// Store is one of sqlite, file or memory.
	Store string `toml:"store" json:"store"`

	// Path defaults to a file under the config directory.
	Path string `toml:"path" json:"path"`

	Interval Duration `toml:"interval" json:"interval"`
}

// HealthConfig controls backend health polling.
type HealthConfig struct {
	Enabled  bool     `toml:"enabled" json:"enabled"`
	Interval Duration `toml:"interval" json:"interval"`
}

// TranscriptsConfig controls the local transcript cache.
type TranscriptsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Dir     string `toml:"dir" json:"dir"`
	Max     int    `toml:"max" json:"max"`
}

// UIConfig contains terminal UI preferences.
type UIConfig struct {
	// Theme is dark or light.
	Theme string `toml:"theme" json:"theme"`

	NoColor bool `toml:"no_color" json:"no_color"`

	// Markdown renders assistant replies with glamour.
	Markdown bool `toml:"markdown" json:"markdown"`

	// SidebarWidth is the session list width in cells.
	SidebarWidth int `toml:"sidebar_width" json:"sidebar_width"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" json:"level"`

	// Format is json or console.
	Format string `toml:"format" json:"format"`

	// File receives logs; empty means stderr outside the TUI.
	File string `toml:"file" json:"file"`
}

// MockConfig configures the bundled mock backend.
type MockConfig struct {
	Addr       string   `toml:"addr" json:"addr"`
	ChunkRunes int      `toml:"chunk_runes" json:"chunk_runes"`
	ChunkDelay Duration `toml:"chunk_delay" json:"chunk_delay"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	cc := conn.DefaultConfig()
	dc := draft.DefaultConfig()
	return &Config{
		Version: CurrentVersion,
		Model:   model.DefaultSelection(),
		Server: ServerConfig{
			URL:            "http://127.0.0.1:8000",
			RequestTimeout: Duration(15 * time.Second),
		},
		Connection: ConnectionConfig{
			HeartbeatInterval: Duration(cc.HeartbeatInterval),
			HeartbeatTimeout:  Duration(cc.HeartbeatTimeout),
			ReconnectBase:     Duration(cc.ReconnectBase),
			ReconnectMax:      Duration(cc.ReconnectMax),
			MaxAttempts:       cc.MaxAttempts,
			DialTimeout:       Duration(cc.DialTimeout),
		},
		Stream: StreamConfig{FrameInterval: Duration(16 * time.Millisecond)},
		Draft: DraftConfig{
			Store:    draft.KindSQLite,
			Interval: Duration(dc.Interval),
		},
		Health:      HealthConfig{Enabled: true, Interval: Duration(30 * time.Second)},
		Transcripts: TranscriptsConfig{Enabled: true, Max: 200},
		UI: UIConfig{
			Theme:        "dark",
			Markdown:     true,
			SidebarWidth: 28,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Mock: MockConfig{
			Addr:       "127.0.0.1:8000",
			ChunkRunes: 4,
			ChunkDelay: Duration(30 * time.Millisecond),
		},
	}
}

// ConnManager converts the connection section for conn.NewManager.
func (c *Config) ConnManager() conn.Config {
	return conn.Config{
		HeartbeatInterval: c.Connection.HeartbeatInterval.D(),
		HeartbeatTimeout:  c.Connection.HeartbeatTimeout.D(),
		ReconnectBase:     c.Connection.ReconnectBase.D(),
		ReconnectMax:      c.Connection.ReconnectMax.D(),
		MaxAttempts:       c.Connection.MaxAttempts,
		DialTimeout:       c.Connection.DialTimeout.D(),
	}
}

// DraftGuard converts the draft section for draft.NewGuard.
func (c *Config) DraftGuard() draft.Config {
	return draft.Config{Interval: c.Draft.Interval.D()}
}

// DraftPath returns the configured draft store path or the default one.
func (c *Config) DraftPath() (string, error) {
	if c.Draft.Path != "" {
		return c.Draft.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if c.Draft.Store == draft.KindFile {
		return filepath.Join(dir, "draft.json"), nil
	}
	return filepath.Join(dir, "draft.db"), nil
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigstream configuration directory. RIGSTREAM_HOME
// overrides it.
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigstream"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o700)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads config.toml, then config.json, then falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads a specific file. Files ending in .json are read as
// JSON, everything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	var err error
	if strings.HasSuffix(path, ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Unknown keys are an error.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read JSON: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode JSON: %w", err)
	}
	return nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Model.ModelType == "" {
		c.Model.ModelType = d.Model.ModelType
	}
	if c.Model.Provider == "" {
		c.Model.Provider = d.Model.Provider
	}
	if c.Model.Model == "" {
		c.Model.Model = d.Model.Model
	}
	if c.Server.URL == "" {
		c.Server.URL = d.Server.URL
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = d.Server.RequestTimeout
	}
	if c.Stream.FrameInterval == 0 {
		c.Stream.FrameInterval = d.Stream.FrameInterval
	}
	if c.Draft.Store == "" {
		c.Draft.Store = d.Draft.Store
	}
	if c.Draft.Interval == 0 {
		c.Draft.Interval = d.Draft.Interval
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = d.Health.Interval
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.UI.SidebarWidth == 0 {
		c.UI.SidebarWidth = d.UI.SidebarWidth
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Mock.Addr == "" {
		c.Mock.Addr = d.Mock.Addr
	}
	if c.Mock.ChunkRunes == 0 {
		c.Mock.ChunkRunes = d.Mock.ChunkRunes
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg atomically with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigstream configuration file\n")
	buf.WriteString("# Generated by rigstream - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Server.URL); err != nil || u.Host == "" {
		add("server.url", "invalid URL %q", c.Server.URL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("server.url", "scheme must be http or https, got %q", u.Scheme)
	}
	positive := map[string]Duration{
		"server.request_timeout":        c.Server.RequestTimeout,
		"connection.heartbeat_interval": c.Connection.HeartbeatInterval,
		"connection.heartbeat_timeout":  c.Connection.HeartbeatTimeout,
		"connection.reconnect_base":     c.Connection.ReconnectBase,
		"connection.reconnect_max":      c.Connection.ReconnectMax,
		"connection.dial_timeout":       c.Connection.DialTimeout,
		"stream.frame_interval":         c.Stream.FrameInterval,
		"draft.interval":                c.Draft.Interval,
		"health.interval":               c.Health.Interval,
	}
	for _, field := range slices.Sorted(maps.Keys(positive)) {
		if positive[field] <= 0 {
			add(field, "must be positive")
		}
	}
	if c.Connection.ReconnectMax < c.Connection.ReconnectBase {
		add("connection.reconnect_max", "must not be below reconnect_base")
	}
	if c.Connection.HeartbeatTimeout >= c.Connection.HeartbeatInterval && c.Connection.HeartbeatInterval > 0 {
		add("connection.heartbeat_timeout", "must be shorter than heartbeat_interval")
	}
	if c.Connection.MaxAttempts < 1 {
		add("connection.max_attempts", "must be at least 1")
	}
	if c.Mock.ChunkDelay < 0 {
		add("mock.chunk_delay", "cannot be negative")
	}

	switch c.Draft.Store {
	case draft.KindSQLite, draft.KindFile, draft.KindMemory:
	default:
		add("draft.store", "invalid store %q, must be one of: sqlite, file, memory", c.Draft.Store)
	}
	if c.Model.Model == "" || c.Model.Provider == "" {
		add("model", "provider and model are required")
	}
	switch c.UI.Theme {
	case "dark", "light":
	default:
		add("ui.theme", "invalid theme %q, must be dark or light", c.UI.Theme)
	}
	if c.UI.SidebarWidth < 12 || c.UI.SidebarWidth > 80 {
		add("ui.sidebar_width", "must be between 12 and 80")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format", "invalid format %q, must be json or console", c.Logging.Format)
	}
	if c.Transcripts.Max < 0 {
		add("transcripts.max", "cannot be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - RIGSTREAM_SERVER: overrides server.url
//   - RIGSTREAM_TOKEN: overrides server.token
//   - RIGSTREAM_MODEL: overrides model, as "provider/model" or a bare model
//   - RIGSTREAM_DRAFT_STORE: overrides draft.store
//   - RIGSTREAM_LOG_LEVEL: overrides logging.level
//   - RIGSTREAM_NO_COLOR or NO_COLOR: sets ui.no_color
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvPrefix + "SERVER"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv(EnvPrefix + "TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv(EnvPrefix + "MODEL"); v != "" {
		c.Model = model.ParseSelection(c.Model, v)
	}
	if v := os.Getenv(EnvPrefix + "DRAFT_STORE"); v != "" {
		c.Draft.Store = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if os.Getenv(EnvPrefix+"NO_COLOR") != "" || os.Getenv("NO_COLOR") != "" {
		c.UI.NoColor = true
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value using dot notation (e.g. "connection.max_attempts").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if m, ok := field.Interface().(encoding.TextMarshaler); ok {
		text, err := m.MarshalText()
		if err != nil {
			return nil, err
		}
		return string(text), nil
	}
	return field.Interface(), nil
}

// Set assigns a value using dot notation. String values are converted to
// the field type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds a struct field by its toml tag.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface value with type
// conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(strVal))
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns every leaf key in dot notation.
func GetAllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			if tag == "" || tag == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
				walk(f.Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a copy. Config holds no reference types.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as JSON with the token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
