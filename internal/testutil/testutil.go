// Package testutil provides shared test helpers for setting up note folders and journals.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/garnicia/internal/journal"
	"github.com/starford/garnicia/internal/notefs"
)

// TestJournal opens a journal in a temporary directory that is closed on cleanup.
func TestJournal(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), "test-session")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestFolder creates a temporary notes folder with a notefs.Folder.
func TestFolder(t *testing.T) (string, *notefs.Folder) {
	t.Helper()
	dir := t.TempDir()
	folder, err := notefs.NewFolder(dir)
	if err != nil {
		t.Fatal(err)
	}
	return folder.Root(), folder
}

// WriteNote writes content directly into dir/name, bypassing the provider.
func WriteNote(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
