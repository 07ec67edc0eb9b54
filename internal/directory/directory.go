// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package directory holds the ordered session list and the active-session
// selection.
//
// A Directory is owned by the run loop and is not safe for concurrent use.
// Preview updates only ever touch LastMessagePreview and UpdatedAt of the
// matching entry; positions never change in place.
//
// Local preview updates are ordered by a Stamp sequence taken when the
// update originates, never by comparing the local clock with timestamps
// from the backend listing. A listing replaces a local preview only once
// the backend's own UpdatedAt has moved past the value it had when the
// local update landed.
package directory

import (
	"time"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// Stamp orders local preview updates. Seq is fixed when the update
// originates; At is the local time recorded with the preview.
type Stamp struct {
	Seq uint64
	At  time.Time
}

// localPreview tracks the last local update applied to a session.
type localPreview struct {
	seq      uint64
	override bool
	base     time.Time // listed UpdatedAt when the override began
}

// Directory is the session registry.
type Directory struct {
	sessions []model.Session
	index    map[string]int
	active   string

	seq    uint64
	local  map[string]*localPreview
	listed map[string]time.Time

	previewLen int
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		index:      make(map[string]int),
		local:      make(map[string]*localPreview),
		listed:     make(map[string]time.Time),
		previewLen: model.PreviewLength,
	}
}

// NewStamp returns the next local ordering stamp.
func (d *Directory) NewStamp(at time.Time) Stamp {
	d.seq++
	return Stamp{Seq: d.seq, At: at}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Replace swaps in a freshly listed set of sessions, keeping the active
// selection only if it is still present. A local preview survives until
// the listing reports a newer backend update for that session.
func (d *Directory) Replace(list []model.Session) {
	old := d.index
	prev := d.sessions
	listed := make(map[string]time.Time, len(list))

	d.sessions = make([]model.Session, 0, len(list))
	d.index = make(map[string]int, len(list))
	for _, s := range list {
		if _, dup := d.index[s.ID]; dup {
			continue
		}
		listed[s.ID] = s.UpdatedAt
		if lp := d.local[s.ID]; lp != nil && lp.override {
			if i, ok := old[s.ID]; ok && !s.UpdatedAt.After(lp.base) {
				s.LastMessagePreview = prev[i].LastMessagePreview
				s.UpdatedAt = prev[i].UpdatedAt
				s.UnreadCount = max(s.UnreadCount, prev[i].UnreadCount)
			} else {
				lp.override = false
			}
		}
		d.index[s.ID] = len(d.sessions)
		d.sessions = append(d.sessions, s)
	}
	for id := range d.local {
		if _, ok := listed[id]; !ok {
			delete(d.local, id)
		}
	}
	d.listed = listed
	if _, ok := d.index[d.active]; !ok {
		d.active = ""
	}
}

// Add prepends a new session. An existing id is updated in place.
func (d *Directory) Add(s model.Session) {
	d.listed[s.ID] = s.UpdatedAt
	if lp := d.local[s.ID]; lp != nil {
		lp.override = false
	}
	if i, ok := d.index[s.ID]; ok {
		d.sessions[i] = s
		return
	}
	d.sessions = append([]model.Session{s}, d.sessions...)
	d.reindex()
}

// Get returns a session by id.
func (d *Directory) Get(id string) (model.Session, bool) {
	i, ok := d.index[id]
	if !ok {
		return model.Session{}, false
	}
	return d.sessions[i], true
}

// List returns a copy of the sessions in display order.
func (d *Directory) List() []model.Session {
	out := make([]model.Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Len returns the number of sessions.
func (d *Directory) Len() int {
	return len(d.sessions)
}

// Remove deletes a session. If it was active, the first remaining session
// becomes active, or nothing when none remain. changed reports whether the
// active selection moved.
func (d *Directory) Remove(id string) (next string, changed bool) {
	i, ok := d.index[id]
	if !ok {
		return d.active, false
	}
	d.sessions = append(d.sessions[:i], d.sessions[i+1:]...)
	d.reindex()
	delete(d.local, id)
	delete(d.listed, id)

	if d.active != id {
		return d.active, false
	}
	d.active = ""
	if len(d.sessions) > 0 {
		d.active = d.sessions[0].ID
	}
	return d.active, true
}

// Clear empties the registry and the active selection.
func (d *Directory) Clear() {
	d.sessions = nil
	d.index = make(map[string]int)
	d.local = make(map[string]*localPreview)
	d.listed = make(map[string]time.Time)
	d.active = ""
}

func (d *Directory) reindex() {
	d.index = make(map[string]int, len(d.sessions))
	for i, s := range d.sessions {
		d.index[s.ID] = i
	}
}

// =============================================================================
// SELECTION
// =============================================================================

// Active returns the active session id, or "".
func (d *Directory) Active() string {
	return d.active
}

// ActiveSession returns the active session.
func (d *Directory) ActiveSession() (model.Session, bool) {
	return d.Get(d.active)
}

// SetActive selects a session. An empty id clears the selection. Returns
// false for unknown ids.
func (d *Directory) SetActive(id string) bool {
	if id == "" {
		d.active = ""
		return true
	}
	if _, ok := d.index[id]; !ok {
		return false
	}
	d.active = id
	return true
}

// =============================================================================
// PREVIEWS AND UNREAD
// =============================================================================

// UpdatePreview sets the preview excerpt of a session from a local event.
// Updates stamped before the last applied one are ignored; at equal
// sequence the greater text wins, so any application order converges to
// the same value.
func (d *Directory) UpdatePreview(id, text string, st Stamp) bool {
	i, ok := d.index[id]
	if !ok {
		return false
	}
	s := &d.sessions[i]
	excerpt := util.Excerpt(text, d.previewLen)

	lp := d.local[id]
	if lp != nil {
		if st.Seq < lp.seq {
			return false
		}
		if st.Seq == lp.seq && excerpt <= s.LastMessagePreview {
			return false
		}
	} else {
		lp = &localPreview{}
		d.local[id] = lp
	}
	s.LastMessagePreview = excerpt
	s.UpdatedAt = st.At
	lp.seq = st.Seq
	if !lp.override {
		lp.override = true
		lp.base = d.listed[id]
	}
	return true
}

// MarkUnread increments the unread counter of a session.
func (d *Directory) MarkUnread(id string) {
	if i, ok := d.index[id]; ok {
		d.sessions[i].UnreadCount++
	}
}

// ClearUnread resets the unread counter of a session.
func (d *Directory) ClearUnread(id string) {
	if i, ok := d.index[id]; ok {
		d.sessions[i].UnreadCount = 0
	}
}
