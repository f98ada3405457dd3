// Package notefs maps note identities onto plain-text files in a single notes
// folder and watches that folder for external changes.
package notefs

import (
	"time"

	"github.com/starford/garnicia/internal/models"
)

// Provider is the interface for canonical note file operations.
type Provider interface {
	// Root returns the absolute notes folder.
	Root() string
	// List returns metadata for every note file in the folder, sorted by name.
	List() ([]models.NoteMetadata, error)
	// Exists reports whether a note with the same name, ignoring case, exists.
	Exists(name string) (bool, error)
	// Resolve validates name and returns its identity inside the folder.
	Resolve(name string) (models.Identity, error)
	// Read returns the canonical file content.
	Read(id models.Identity) ([]byte, error)
	// WriteAtomic replaces the canonical file via temp file, fsync and rename.
	WriteAtomic(id models.Identity, content []byte) error
	// Create makes an empty note file; it fails if the name is taken.
	Create(id models.Identity) error
	// Delete removes the canonical file.
	Delete(id models.Identity) error
	// Rename moves oldID to newID; it fails if newID exists.
	Rename(oldID, newID models.Identity) error
	// Stat returns the modification time, or ok=false when the file is absent.
	Stat(id models.Identity) (modTime time.Time, ok bool, err error)
}
