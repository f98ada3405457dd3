package notefs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/starford/garnicia/internal/apperr"
	"github.com/starford/garnicia/internal/models"
)

// Folder implements Provider backed by one local directory.
type Folder struct {
	root string // absolute path to notes folder

	mu     sync.Mutex
	saving map[string]int // note name -> saves in flight
}

// NewFolder creates a Folder rooted at the given directory.
// The directory must already exist.
func NewFolder(root string) (*Folder, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("notefs: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("notefs: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("notefs: root is not a directory: %s", abs)
	}
	return &Folder{root: abs, saving: make(map[string]int)}, nil
}

// Root returns the absolute notes folder.
func (f *Folder) Root() string { return f.root }

// Resolve validates name and joins it onto the folder, rejecting any result
// that escapes the root.
func (f *Folder) Resolve(name string) (models.Identity, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	id := models.NewIdentity(f.root, name)
	if filepath.Dir(id.Path()) != f.root {
		return "", fmt.Errorf("%w: %q escapes notes folder", apperr.ErrInvalidName, name)
	}
	return id, nil
}

// List reads the folder (non-recursive) and returns every regular, non-hidden
// file sorted case-insensitively.
func (f *Folder) List() ([]models.NoteMetadata, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, &apperr.FileSystemError{Op: "list", Path: f.root, Err: err}
	}
	out := make([]models.NoteMetadata, 0, len(entries))
	for _, d := range entries {
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") || f.isSaveTemp(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // removed between ReadDir and Info
			}
			return nil, &apperr.FileSystemError{Op: "list", Path: d.Name(), Err: err}
		}
		out = append(out, models.NoteMetadata{
			Name:       d.Name(),
			Identity:   models.NewIdentity(f.root, d.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Exists reports whether a file with the same name, ignoring case, is in the folder.
func (f *Folder) Exists(name string) (bool, error) {
	metas, err := f.List()
	if err != nil {
		return false, err
	}
	for _, m := range metas {
		if strings.EqualFold(m.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// Read returns the raw bytes of a note file.
func (f *Folder) Read(id models.Identity) ([]byte, error) {
	data, err := os.ReadFile(id.Path())
	if err != nil {
		return nil, &apperr.FileSystemError{Op: "read", Path: id.Path(), Err: err}
	}
	return data, nil
}

// WriteAtomic replaces the note through a synced temp file in the same
// directory, so a killed process never leaves a torn file behind. The file
// keeps its permissions; a new one gets 0644.
func (f *Folder) WriteAtomic(id models.Identity, content []byte) error {
	fail := func(err error) error {
		return &apperr.FileSystemError{Op: "write", Path: id.Path(), Err: err}
	}

	perm := os.FileMode(0o644)
	if info, err := os.Stat(id.Path()); err == nil {
		perm = info.Mode().Perm()
	}

	f.beginSave(id.Name())
	defer f.endSave(id.Name())

	if err := atomic.WriteFile(id.Path(), bytes.NewReader(content)); err != nil {
		return fail(err)
	}
	// atomic.WriteFile does not set permissions for new files.
	if err := os.Chmod(id.Path(), perm); err != nil {
		return fail(err)
	}
	return nil
}

func (f *Folder) beginSave(name string) {
	f.mu.Lock()
	f.saving[name]++
	f.mu.Unlock()
}

func (f *Folder) endSave(name string) {
	f.mu.Lock()
	if f.saving[name]--; f.saving[name] <= 0 {
		delete(f.saving, name)
	}
	f.mu.Unlock()
}

// isSaveTemp reports whether name is the temp file of a save in flight.
// atomic.WriteFile names it after the target followed by random digits.
func (f *Folder) isSaveTemp(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for target := range f.saving {
		rest, ok := strings.CutPrefix(name, target)
		if ok && rest != "" && strings.Trim(rest, "0123456789") == "" {
			return true
		}
	}
	return false
}

// Create makes an empty note file. An existing file yields apperr.ErrAlreadyExists.
func (f *Folder) Create(id models.Identity) error {
	file, err := os.OpenFile(id.Path(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("notefs: create %s: %w", id.Name(), apperr.ErrAlreadyExists)
		}
		return &apperr.FileSystemError{Op: "create", Path: id.Path(), Err: err}
	}
	if err := file.Close(); err != nil {
		return &apperr.FileSystemError{Op: "create", Path: id.Path(), Err: err}
	}
	return nil
}

// Delete removes a note file.
func (f *Folder) Delete(id models.Identity) error {
	if err := os.Remove(id.Path()); err != nil {
		return &apperr.FileSystemError{Op: "delete", Path: id.Path(), Err: err}
	}
	return nil
}

// Rename moves a note file. The target must not exist.
func (f *Folder) Rename(oldID, newID models.Identity) error {
	if _, err := os.Lstat(newID.Path()); err == nil {
		return fmt.Errorf("notefs: rename to %s: %w", newID.Name(), apperr.ErrAlreadyExists)
	}
	if err := os.Rename(oldID.Path(), newID.Path()); err != nil {
		return &apperr.FileSystemError{Op: "rename", Path: oldID.Path(), Err: err}
	}
	return nil
}

// Stat returns the file's modification time; ok is false when it is absent.
func (f *Folder) Stat(id models.Identity) (time.Time, bool, error) {
	info, err := os.Stat(id.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, &apperr.FileSystemError{Op: "stat", Path: id.Path(), Err: err}
	}
	return info.ModTime(), true, nil
}

// Compile-time interface check.
var _ Provider = (*Folder)(nil)
