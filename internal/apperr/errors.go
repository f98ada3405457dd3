// Package apperr defines the error taxonomy shared by the journal, the note
// file store and the adapters. None of these errors is fatal to the process.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidName   = errors.New("invalid note name")
	ErrLocked        = errors.New("journal is locked by another process")

	// ErrReconciliationAmbiguous marks a journal entry whose staleness could
	// not be determined. It resolves to "offer recovery".
	ErrReconciliationAmbiguous = errors.New("reconciliation ambiguous")
)

// StorageError is a journal persistence failure (disk full, permission denied,
// database busy). Callers retry once, then surface it without dropping the buffer.
type StorageError struct {
	Op       string
	Identity string
	Err      error
}

func (e *StorageError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("journal: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("journal: %s %s: %v", e.Op, e.Identity, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// FileSystemError is a canonical file I/O failure. It is always shown to the
// user and the note keeps its dirty state.
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("notefs: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

// IsStorage reports whether err is (or wraps) a *StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsFileSystem reports whether err is (or wraps) a *FileSystemError.
func IsFileSystem(err error) bool {
	var fe *FileSystemError
	return errors.As(err, &fe)
}
