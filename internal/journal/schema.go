// Package journal provides the SQLite-backed crash-recovery journal: one
// shadow snapshot per note identity, written by autosave and cleared by an
// explicit save.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/garnicia/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS journal (
	identity    TEXT PRIMARY KEY,
	snapshot    TEXT NOT NULL,
	modified_at INTEGER NOT NULL,
	dirty       INTEGER NOT NULL DEFAULT 1,
	session     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_journal_modified ON journal(modified_at DESC);
`

// Store wraps a sql.DB with journal operations.
//
// Every mutation holds mu, so writes are serialized store-wide and Rename
// never interleaves with an Upsert or Remove on another identity.
type Store struct {
	conn    *sql.DB
	lock    *instanceLock
	session string

	mu sync.Mutex

	// renameHook runs between the insert-new and delete-old halves of
	// Rename. Tests use it to simulate a crash inside the transaction.
	renameHook func() error
}

// Open opens (or creates) the journal database at path, applies the schema
// and takes an exclusive lock so a second process cannot share the journal.
// session tags every entry written by this process.
func Open(path, session string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		lock.release()
		return nil, &apperr.StorageError{Op: "open", Err: err}
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		lock.release()
		return nil, &apperr.StorageError{Op: "ping", Err: err}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		lock.release()
		return nil, &apperr.StorageError{Op: "apply schema", Err: err}
	}
	return &Store{conn: conn, lock: lock, session: session}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return &apperr.StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Session returns the session id stamped on entries written by this store.
func (s *Store) Session() string { return s.session }

// Close closes the database and releases the instance lock.
func (s *Store) Close() error {
	err := s.conn.Close()
	s.lock.release()
	return err
}
