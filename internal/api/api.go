// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api defines the REST collaborators the chat core consumes and an
// HTTP client implementing them.
//
// # Key Types
//
//   - Sessions: session create/list/delete/delete-all
//   - History: ordered message history of a session
//   - Health: backend health probe
//   - Client: HTTP implementation of all three
//   - StatusError: non-2xx response
//
// # Usage
//
//	client := api.NewClient("http://localhost:8000")
//	sessions, err := client.List(ctx)
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/model"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Sessions is session CRUD.
type Sessions interface {
	Create(ctx context.Context, title string) (model.Session, error)
	List(ctx context.Context) ([]model.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// History fetches the ordered message list of a session.
type History interface {
	Messages(ctx context.Context, sessionID string) ([]model.Message, error)
}

// Health probes backend health.
type Health interface {
	Check(ctx context.Context) (HealthReport, error)
}

// HealthReport is the body of GET /api/health.
type HealthReport struct {
	IsHealthy bool     `json:"is_healthy"`
	Issues    []string `json:"issues"`
	Hints     []string `json:"hints"`
}

// =============================================================================
// ERRORS
// =============================================================================

// StatusError is a non-2xx collaborator response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is matches another StatusError with the same code, so callers can test
// errors.Is(err, api.ErrNotFound).
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrNotFound matches 404 responses.
var ErrNotFound = &StatusError{Code: http.StatusNotFound}

// =============================================================================
// HTTP CLIENT
// =============================================================================

const maxErrorBody = 4 << 10

// ClientConfig holds HTTP client options.
type ClientConfig struct {
	// BaseURL is the backend address (default: http://127.0.0.1:8000)
	BaseURL string

	// Timeout per request (default: 15s)
	Timeout time.Duration

	// Token is sent as a bearer token when set.
	Token string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "http://127.0.0.1:8000",
		Timeout: 15 * time.Second,
	}
}

// Client implements Sessions, History and Health over HTTP. It is safe for
// concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

var (
	_ Sessions = (*Client)(nil)
	_ History  = (*Client)(nil)
	_ Health   = (*Client)(nil)
)

// NewClient creates a client for baseURL with default options.
func NewClient(baseURL string) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	return NewClientWithConfig(cfg)
}

// NewClientWithConfig creates a client with custom options.
func NewClientWithConfig(cfg ClientConfig) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string { return c.config.BaseURL }

// Create creates a session.
func (c *Client) Create(ctx context.Context, title string) (model.Session, error) {
	var s model.Session
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", body, &s); err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// List returns all sessions in backend order.
func (c *Client) List(ctx context.Context) ([]model.Session, error) {
	var out []model.Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Delete removes one session.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every session.
func (c *Client) DeleteAll(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/api/sessions", nil, nil); err != nil {
		return fmt.Errorf("delete all sessions: %w", err)
	}
	return nil
}

// Messages returns the ordered history of a session.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]model.Message, error) {
	var out []model.Message
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return out, nil
}

// Check queries backend health.
func (c *Client) Check(ctx context.Context) (HealthReport, error) {
	var out HealthReport
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return HealthReport{}, fmt.Errorf("health check: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
