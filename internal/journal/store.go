package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/garnicia/internal/apperr"
	"github.com/starford/garnicia/internal/models"
)

// Upsert writes snapshot as the entry for id, replacing any prior entry.
// Writing the same snapshot and timestamp twice leaves the same state.
func (s *Store) Upsert(ctx context.Context, id models.Identity, snapshot string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO journal (identity, snapshot, modified_at, dirty, session)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(identity) DO UPDATE SET
			snapshot    = excluded.snapshot,
			modified_at = excluded.modified_at,
			dirty       = excluded.dirty,
			session     = excluded.session
	`, string(id), snapshot, at.UnixNano(), s.session)
	if err != nil {
		return &apperr.StorageError{Op: "upsert", Identity: string(id), Err: err}
	}
	return nil
}

// Get returns the entry for id. A missing key is (nil, false, nil).
func (s *Store) Get(ctx context.Context, id models.Identity) (*models.Entry, bool, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT identity, snapshot, modified_at, dirty, session
		FROM journal WHERE identity = ?
	`, string(id))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &apperr.StorageError{Op: "get", Identity: string(id), Err: err}
	}
	return e, true, nil
}

// Remove deletes the entry for id. Removing an absent key succeeds.
func (s *Store) Remove(ctx context.Context, id models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM journal WHERE identity = ?`, string(id)); err != nil {
		return &apperr.StorageError{Op: "remove", Identity: string(id), Err: err}
	}
	return nil
}

// ListPending returns every entry, most recently modified first.
func (s *Store) ListPending(ctx context.Context) ([]models.Entry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT identity, snapshot, modified_at, dirty, session
		FROM journal
		ORDER BY modified_at DESC, identity ASC
	`)
	if err != nil {
		return nil, &apperr.StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &apperr.StorageError{Op: "list", Err: err}
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: "list", Err: err}
	}
	return out, nil
}

// Rename moves the entry for oldID to newID inside one transaction. On any
// failure the transaction rolls back and the old entry stays intact. An
// absent old entry is a no-op.
func (s *Store) Rename(ctx context.Context, oldID, newID models.Identity) error {
	if oldID == newID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fail := func(err error) error {
		return &apperr.StorageError{Op: "rename", Identity: fmt.Sprintf("%s -> %s", oldID, newID), Err: err}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO journal (identity, snapshot, modified_at, dirty, session)
		SELECT ?, snapshot, modified_at, dirty, session FROM journal WHERE identity = ?
		ON CONFLICT(identity) DO UPDATE SET
			snapshot    = excluded.snapshot,
			modified_at = excluded.modified_at,
			dirty       = excluded.dirty,
			session     = excluded.session
	`, string(newID), string(oldID))
	if err != nil {
		return fail(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	if s.renameHook != nil {
		if err := s.renameHook(); err != nil {
			return fail(err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM journal WHERE identity = ?`, string(oldID)); err != nil {
		return fail(err)
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*models.Entry, error) {
	var (
		e     models.Entry
		id    string
		nanos int64
		dirty int
	)
	if err := sc.Scan(&id, &e.Snapshot, &nanos, &dirty, &e.Session); err != nil {
		return nil, err
	}
	e.Identity = models.Identity(id)
	e.ModifiedAt = time.Unix(0, nanos)
	e.Dirty = dirty != 0
	return &e, nil
}
