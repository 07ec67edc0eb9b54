// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// Store is durable storage for the single draft slot.
type Store interface {
	Save(ctx context.Context, snap model.DraftSnapshot) error
	// Load returns false when the slot is empty.
	Load(ctx context.Context) (model.DraftSnapshot, bool, error)
	Clear(ctx context.Context) error
	Close() error
}

// Store kinds accepted by OpenStore.
const (
	KindSQLite = "sqlite"
	KindFile   = "file"
	KindMemory = "memory"
)

// OpenStore opens a store by kind.
func OpenStore(kind, path string) (Store, error) {
	switch kind {
	case KindSQLite, "":
		return OpenSQLite(path)
	case KindFile:
		return NewFileStore(path)
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown draft store %q", kind)
	}
}

// =============================================================================
// SQLITE STORE
// =============================================================================

const draftSchema = `
CREATE TABLE IF NOT EXISTS draft (
	slot       INTEGER PRIMARY KEY CHECK (slot = 1),
	session_id TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	saved_at   INTEGER NOT NULL
);`

// SQLiteStore keeps the slot in a one-row table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create draft directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open draft database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(draftSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize draft schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save replaces the slot.
func (s *SQLiteStore) Save(ctx context.Context, snap model.DraftSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draft (slot, session_id, content, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			session_id = excluded.session_id,
			content    = excluded.content,
			saved_at   = excluded.saved_at`,
		snap.SessionID, snap.Content, snap.SavedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Load reads the slot.
func (s *SQLiteStore) Load(ctx context.Context) (model.DraftSnapshot, bool, error) {
	var snap model.DraftSnapshot
	var savedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, content, saved_at FROM draft WHERE slot = 1`).
		Scan(&snap.SessionID, &snap.Content, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DraftSnapshot{}, false, nil
	}
	if err != nil {
		return model.DraftSnapshot{}, false, fmt.Errorf("load draft: %w", err)
	}
	snap.SavedAt = time.Unix(0, savedAt).UTC()
	return snap, true, nil
}

// Clear empties the slot.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM draft`); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps the slot as a JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create draft directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Save writes the slot atomically.
func (s *FileStore) Save(_ context.Context, snap model.DraftSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Load reads the slot. A missing file is an empty slot.
func (s *FileStore) Load(_ context.Context) (model.DraftSnapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.DraftSnapshot{}, false, nil
	}
	if err != nil {
		return model.DraftSnapshot{}, false, fmt.Errorf("load draft: %w", err)
	}
	var snap model.DraftSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.DraftSnapshot{}, false, fmt.Errorf("decode draft: %w", err)
	}
	return snap, true, nil
}

// Clear removes the file.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps the slot in memory.
type MemoryStore struct {
	mu   sync.Mutex
	snap *model.DraftSnapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, snap model.DraftSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &snap
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (model.DraftSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return model.DraftSnapshot{}, false, nil
	}
	return *s.snap, true, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
