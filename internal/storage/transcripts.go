// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// =============================================================================
// TRANSCRIPT TYPES
// =============================================================================

// Transcript is a cached session with its finalized messages.
type Transcript struct {
	Session  model.Session   `json:"session"`
	Messages []model.Message `json:"messages"`
	SavedAt  time.Time       `json:"saved_at"`
}

// ID returns the session id.
func (t *Transcript) ID() string { return t.Session.ID }

// TranscriptMeta contains metadata for listing transcripts.
type TranscriptMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	SavedAt      time.Time `json:"saved_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// =============================================================================
// TRANSCRIPT STORE
// =============================================================================

// TranscriptStore handles transcript persistence.
type TranscriptStore struct {
	// BaseDir is the directory for storing transcripts
	// Default: ~/.rigstream/transcripts/
	BaseDir string

	// MaxTranscripts limits stored transcripts (0 = unlimited)
	MaxTranscripts int
}

// NewTranscriptStore creates a store in the default location.
func NewTranscriptStore() (*TranscriptStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewTranscriptStoreWithDir(filepath.Join(homeDir, ".rigstream", "transcripts"))
}

// NewTranscriptStoreWithDir creates a store with a custom directory.
func NewTranscriptStoreWithDir(baseDir string) (*TranscriptStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &TranscriptStore{
		BaseDir:        baseDir,
		MaxTranscripts: 200,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a transcript, replacing any earlier copy.
func (s *TranscriptStore) Save(tr *Transcript) error {
	if tr.Session.ID == "" {
		return ErrMissingID
	}
	tr.SavedAt = time.Now()

	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(tr.Session.ID), data, 0600); err != nil {
		return err
	}

	if s.MaxTranscripts > 0 {
		s.enforceLimit()
	}
	return nil
}

// enforceLimit removes the oldest transcripts if over limit.
func (s *TranscriptStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxTranscripts {
		return
	}
	// List is most recent first
	for _, meta := range metas[s.MaxTranscripts:] {
		s.Delete(meta.ID)
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a transcript by session id.
func (s *TranscriptStore) Load(id string) (*Transcript, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTranscriptNotFound
		}
		return nil, err
	}

	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// List returns all cached transcripts (most recently saved first).
func (s *TranscriptStore) List() ([]TranscriptMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TranscriptMeta{}, nil
		}
		return nil, err
	}

	metas := []TranscriptMeta{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		tr, err := s.Load(id)
		if err != nil {
			continue // Skip corrupted files
		}

		preview := tr.Session.LastMessagePreview
		if n := len(tr.Messages); n > 0 {
			preview = tr.Messages[n-1].Preview(model.PreviewLength)
		}
		metas = append(metas, TranscriptMeta{
			ID:           tr.Session.ID,
			Title:        tr.Session.DisplayTitle(),
			CreatedAt:    tr.Session.CreatedAt,
			SavedAt:      tr.SavedAt,
			MessageCount: len(tr.Messages),
			Preview:      preview,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].SavedAt.After(metas[j].SavedAt)
	})
	return metas, nil
}

// Search finds transcripts whose title or messages contain query.
func (s *TranscriptStore) Search(query string) ([]TranscriptMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var results []TranscriptMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) {
			results = append(results, meta)
			continue
		}
		tr, err := s.Load(meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range tr.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a transcript.
func (s *TranscriptStore) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrTranscriptNotFound
		}
		return err
	}
	return nil
}

// Clear removes all transcripts.
func (s *TranscriptStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			if err := os.Remove(filepath.Join(s.BaseDir, entry.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// filePath returns the file path for a session id. Ids are path-escaped so
// they can never leave BaseDir.
func (s *TranscriptStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, url.PathEscape(id)+".json")
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrTranscriptNotFound is returned when no transcript is cached for an id.
// Use errors.Is(err, ErrTranscriptNotFound) to check for this error.
var ErrTranscriptNotFound = &TranscriptError{Message: "transcript not found"}

// ErrMissingID is returned when saving a transcript without a session id.
var ErrMissingID = &TranscriptError{Message: "transcript has no session id"}

// TranscriptError represents a transcript-related error.
type TranscriptError struct {
	Message string
}

// Error implements the error interface.
func (e *TranscriptError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing transcript errors.
func (e *TranscriptError) Is(target error) bool {
	t, ok := target.(*TranscriptError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList renders sessions as a fixed-width table. The active
// session, if any, is marked with an asterisk.
func FormatSessionList(sessions []model.Session, active string) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	sb.WriteString("Sessions:\n")
	sb.WriteString(strings.Repeat("-", 78) + "\n")
	sb.WriteString("  " + formatPadded("ID", 12) + " " + formatPadded("Title", 24) + " " +
		formatPadded("Updated", 16) + " " + formatPadded("Unread", 6) + " Preview\n")
	sb.WriteString(strings.Repeat("-", 78) + "\n")

	for _, s := range sessions {
		marker := "  "
		if s.ID == active {
			marker = "* "
		}
		updated := s.UpdatedAt
		if updated.IsZero() {
			updated = s.CreatedAt
		}
		updatedStr := ""
		if !updated.IsZero() {
			updatedStr = updated.Local().Format("2006-01-02 15:04")
		}
		unread := ""
		if s.UnreadCount > 0 {
			unread = strconv.Itoa(s.UnreadCount)
		}

		sb.WriteString(marker +
			formatPadded(runewidth.Truncate(s.ID, 12, ""), 12) + " " +
			formatPadded(runewidth.Truncate(s.DisplayTitle(), 24, "..."), 24) + " " +
			formatPadded(updatedStr, 16) + " " +
			formatPadded(unread, 6) + " " +
			runewidth.Truncate(s.LastMessagePreview, 30, "...") + "\n")
	}
	return sb.String()
}

// formatPadded pads a string to the specified display width with spaces.
func formatPadded(s string, width int) string {
	return runewidth.FillRight(s, width)
}
