// Package recovery runs once at startup, before any note is opened, and
// sorts leftover journal entries into work worth offering back to the user
// and stale shadows that can be dropped silently.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/garnicia/internal/apperr"
	"github.com/starford/garnicia/internal/editor"
	"github.com/starford/garnicia/internal/journal"
	"github.com/starford/garnicia/internal/models"
)

// Kind classifies a recoverable journal entry.
type Kind string

const (
	// KindRecoverable: the journal holds newer content than the canonical file.
	KindRecoverable Kind = "recoverable"
	// KindRecoverableAsNew: the canonical file is gone; the note was being
	// created (or removed externally) when the process died.
	KindRecoverableAsNew Kind = "recoverable_as_new"
)

// Candidate is a journal entry offered to the user for restore or discard.
type Candidate struct {
	Identity  models.Identity `json:"identity"`
	Name      string          `json:"name"`
	Kind      Kind            `json:"kind"`
	Snapshot  string          `json:"snapshot"`
	JournalAt time.Time       `json:"journal_at"`
	FileAt    time.Time       `json:"file_at,omitzero"`
	// Ambiguous is set when the canonical file could not be read; the entry
	// is offered rather than risk losing work.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// Files is the canonical file access the reconciler needs.
type Files interface {
	Read(id models.Identity) ([]byte, error)
	Stat(id models.Identity) (time.Time, bool, error)
	Create(id models.Identity) error
}

// Marker marks a restored buffer dirty so autosave keeps shadowing it.
type Marker interface {
	Change(id models.Identity, text string)
}

// Classify compares one journal entry against its canonical file. stale is
// true when the entry adds nothing and may be removed without asking. A
// non-nil error wraps apperr.ErrReconciliationAmbiguous; the candidate is
// still returned as recoverable.
func Classify(e models.Entry, files Files) (c Candidate, stale bool, err error) {
	c = Candidate{
		Identity:  e.Identity,
		Name:      e.Identity.Name(),
		Kind:      KindRecoverable,
		Snapshot:  e.Snapshot,
		JournalAt: e.ModifiedAt,
	}

	modTime, exists, statErr := files.Stat(e.Identity)
	if statErr != nil {
		c.Ambiguous = true
		return c, false, fmt.Errorf("%w: stat %s: %v", apperr.ErrReconciliationAmbiguous, e.Identity, statErr)
	}
	if !exists {
		c.Kind = KindRecoverableAsNew
		return c, false, nil
	}
	c.FileAt = modTime

	data, readErr := files.Read(e.Identity)
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			c.Kind = KindRecoverableAsNew
			c.FileAt = time.Time{}
			return c, false, nil
		}
		c.Ambiguous = true
		return c, false, fmt.Errorf("%w: read %s: %v", apperr.ErrReconciliationAmbiguous, e.Identity, readErr)
	}

	if string(data) == e.Snapshot || !e.ModifiedAt.After(modTime) {
		return c, true, nil
	}
	return c, false, nil
}

// Reconciler holds the recoverable candidates found at startup until the
// user restores or discards each of them.
type Reconciler struct {
	journal journal.Journal
	files   Files
	surface editor.Surface
	marker  Marker
	logger  *slog.Logger

	mu      sync.Mutex
	pending []Candidate // most recent first
}

// New creates a Reconciler.
func New(j journal.Journal, files Files, surface editor.Surface, marker Marker, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		journal: j,
		files:   files,
		surface: surface,
		marker:  marker,
		logger:  logger,
	}
}

// Reconcile classifies every journal entry. Stale entries are removed; the
// rest become the pending list, most recent first.
func (r *Reconciler) Reconcile(ctx context.Context) ([]Candidate, error) {
	entries, err := r.journal.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Candidate
	for _, e := range entries {
		c, stale, cerr := Classify(e, r.files)
		if cerr != nil {
			r.logger.Warn("recovery: cannot verify entry, offering recovery",
				slog.String("identity", e.Identity.String()),
				slog.String("error", cerr.Error()))
		}
		if stale {
			if err := r.journal.Remove(ctx, e.Identity); err != nil {
				r.logger.Warn("recovery: remove stale failed",
					slog.String("identity", e.Identity.String()),
					slog.String("error", err.Error()))
			} else {
				r.logger.Debug("recovery: removed stale", slog.String("identity", e.Identity.String()))
			}
			continue
		}
		r.logger.Info("recovery: unsaved work found",
			slog.String("identity", e.Identity.String()),
			slog.String("kind", string(c.Kind)),
			slog.Time("journal_at", c.JournalAt))
		pending = append(pending, c)
	}

	r.mu.Lock()
	r.pending = pending
	r.mu.Unlock()
	return r.Pending(), nil
}

// Pending returns the candidates not yet restored or discarded.
func (r *Reconciler) Pending() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Candidate(nil), r.pending...)
}

// Lookup returns the pending candidate for id.
func (r *Reconciler) Lookup(id models.Identity) (Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.pending {
		if c.Identity == id {
			return c, true
		}
	}
	return Candidate{}, false
}

// Restore loads the snapshot into the editor buffer and marks it dirty. A
// note whose file vanished is materialized as an empty file first so it
// shows up in the folder again; its content arrives on the next save.
func (r *Reconciler) Restore(ctx context.Context, id models.Identity) (Candidate, error) {
	c, ok := r.Lookup(id)
	if !ok {
		return Candidate{}, fmt.Errorf("recovery: restore %s: %w", id, apperr.ErrNotFound)
	}

	if c.Kind == KindRecoverableAsNew {
		if err := r.files.Create(id); err != nil && !errors.Is(err, apperr.ErrAlreadyExists) {
			return Candidate{}, err
		}
		// The new file is newer than the entry; re-stamp the entry so a
		// crash before the next snapshot still finds it recoverable.
		if err := r.journal.Upsert(ctx, id, c.Snapshot, time.Now()); err != nil {
			return Candidate{}, err
		}
	}

	r.surface.SetBuffer(id, c.Snapshot)
	r.marker.Change(id, c.Snapshot)
	r.Forget(id)

	r.logger.Info("recovery: restored", slog.String("identity", id.String()), slog.String("kind", string(c.Kind)))
	return c, nil
}

// Discard drops the journal entry for id.
func (r *Reconciler) Discard(ctx context.Context, id models.Identity) error {
	if _, ok := r.Lookup(id); !ok {
		return fmt.Errorf("recovery: discard %s: %w", id, apperr.ErrNotFound)
	}
	if err := r.journal.Remove(ctx, id); err != nil {
		return err
	}
	r.Forget(id)
	r.logger.Info("recovery: discarded", slog.String("identity", id.String()))
	return nil
}

// Forget drops id from the pending list without touching the journal.
func (r *Reconciler) Forget(id models.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending[:0]
	for _, c := range r.pending {
		if c.Identity != id {
			out = append(out, c)
		}
	}
	r.pending = out
}

// Move re-keys a pending candidate after its note was renamed.
func (r *Reconciler) Move(oldID, newID models.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.pending {
		if r.pending[i].Identity == oldID {
			r.pending[i].Identity = newID
			r.pending[i].Name = newID.Name()
		}
	}
}
