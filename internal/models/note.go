// Package models defines the domain types for Garnicia.
package models

import (
	"path/filepath"
	"time"
)

// Identity names a note by its canonical file path (folder + filename).
// Renaming a note produces a new Identity; the journal remaps it atomically.
type Identity string

// NewIdentity joins folder and name into a cleaned absolute Identity.
func NewIdentity(folder, name string) Identity {
	p := filepath.Join(folder, name)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return Identity(p)
}

// Name returns the filename part of the identity.
func (id Identity) Name() string { return filepath.Base(string(id)) }

// Folder returns the directory the note lives in.
func (id Identity) Folder() string { return filepath.Dir(string(id)) }

// Path returns the canonical file path.
func (id Identity) Path() string { return string(id) }

func (id Identity) String() string { return string(id) }

// Entry is a journal row: a durable shadow of an unsaved buffer.
type Entry struct {
	Identity   Identity  `json:"identity"`
	Snapshot   string    `json:"snapshot"`
	ModifiedAt time.Time `json:"modified_at"`
	Dirty      bool      `json:"dirty"`
	Session    string    `json:"session,omitempty"`
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Name       string    `json:"name"`
	Identity   Identity  `json:"identity"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Dirty      bool      `json:"dirty"`
}

// DisplayName is the list label: dirty notes carry a leading '*'.
func (m NoteMetadata) DisplayName() string {
	if m.Dirty {
		return "*" + m.Name
	}
	return m.Name
}
