package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/garnicia/internal/apperr"
	"github.com/starford/garnicia/internal/autosave"
	"github.com/starford/garnicia/internal/checksum"
	"github.com/starford/garnicia/internal/editor"
	"github.com/starford/garnicia/internal/journal"
	"github.com/starford/garnicia/internal/models"
	"github.com/starford/garnicia/internal/notefs"
	"github.com/starford/garnicia/internal/paths"
	"github.com/starford/garnicia/internal/recovery"
	"github.com/starford/garnicia/internal/sse"
)

// Source tells where the text of an opened note came from.
type Source string

const (
	SourceBuffer  Source = "buffer"
	SourceJournal Source = "journal"
	SourceFile    Source = "file"
)

// NoteDetail is the full representation of an opened note.
type NoteDetail struct {
	Name     string          `json:"name"`
	Identity models.Identity `json:"identity"`
	Content  string          `json:"content"`
	Checksum string          `json:"checksum"`
	Dirty    bool            `json:"dirty"`
	Source   Source          `json:"source"`
}

// Publisher pushes state changes to the GUI. *sse.Broker implements it.
type Publisher interface {
	Publish(sse.Event)
	PublishNoteEvent(kind, name string)
	PublishRename(from, to string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(sse.Event)            {}
func (nopPublisher) PublishNoteEvent(_, _ string) {}
func (nopPublisher) PublishRename(_, _ string)    {}

// Options configures a Service.
type Options struct {
	Autosave  autosave.Options
	Events    Publisher
	Logger    *slog.Logger
	StateFile string // persisted folder selection; empty disables persistence
}

// Service coordinates the notes folder, the editor buffers, the autosave
// journal and startup recovery.
type Service struct {
	journal   journal.Journal
	surface   editor.Surface
	sched     *autosave.Scheduler
	recovery  *recovery.Reconciler
	events    Publisher
	logger    *slog.Logger
	stateFile string

	mu      sync.RWMutex
	folder  *notefs.Folder
	changed chan struct{} // closed when the folder is switched
}

// NewService creates a new note service.
func NewService(j journal.Journal, folder *notefs.Folder, surface editor.Surface, opts Options) *Service {
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Service{
		journal:   j,
		surface:   surface,
		events:    opts.Events,
		logger:    opts.Logger,
		stateFile: opts.StateFile,
		folder:    folder,
		changed:   make(chan struct{}),
	}

	as := opts.Autosave
	if as.Logger == nil {
		as.Logger = opts.Logger
	}
	onSnapshot, onError := as.OnSnapshot, as.OnError
	as.OnSnapshot = func(id models.Identity, at time.Time) {
		s.events.Publish(sse.Event{Type: sse.TypeNoteSnapshot, Data: map[string]any{"name": id.Name(), "at": at}})
		if onSnapshot != nil {
			onSnapshot(id, at)
		}
	}
	as.OnError = func(id models.Identity, err error) {
		s.events.Publish(sse.Event{Type: sse.TypeAutosaveFailed, Data: map[string]string{"name": id.Name(), "error": err.Error()}})
		if onError != nil {
			onError(id, err)
		}
	}
	s.sched = autosave.New(j, as)
	s.recovery = recovery.New(j, currentFolder{s}, surface, s.sched, opts.Logger)
	return s
}

// currentFolder routes recovery file access to whatever folder is selected.
type currentFolder struct{ s *Service }

func (c currentFolder) Read(id models.Identity) ([]byte, error) { return c.s.Folder().Read(id) }

func (c currentFolder) Create(id models.Identity) error { return c.s.Folder().Create(id) }

func (c currentFolder) Stat(id models.Identity) (time.Time, bool, error) {
	return c.s.Folder().Stat(id)
}

// Folder returns the selected notes folder.
func (s *Service) Folder() *notefs.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folder
}

// FolderChanged returns a channel that is closed on the next folder switch.
func (s *Service) FolderChanged() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Resolve normalizes name and maps it onto the selected folder.
func (s *Service) Resolve(name string) (models.Identity, error) {
	return s.Folder().Resolve(notefs.NormalizeName(name))
}

// isDirty reports whether id has unsaved work in memory or in the journal.
func (s *Service) isDirty(ctx context.Context, id models.Identity) (bool, error) {
	if s.sched.Unsaved(id) {
		return true, nil
	}
	_, ok, err := s.journal.Get(ctx, id)
	return ok, err
}

// ListNotes returns every note in the folder with its dirty marker.
func (s *Service) ListNotes(ctx context.Context) ([]models.NoteMetadata, error) {
	metas, err := s.Folder().List()
	if err != nil {
		return nil, err
	}
	entries, err := s.journal.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	journaled := make(map[models.Identity]struct{}, len(entries))
	for _, e := range entries {
		journaled[e.Identity] = struct{}{}
	}
	for i := range metas {
		_, inJournal := journaled[metas[i].Identity]
		metas[i].Dirty = inJournal || s.sched.Unsaved(metas[i].Identity)
	}
	return metas, nil
}

// CreateNote creates an empty note file. Names are trimmed and lowercased;
// a name already taken in any letter case is rejected.
func (s *Service) CreateNote(_ context.Context, name string) (*models.NoteMetadata, error) {
	name = notefs.NormalizeName(name)
	folder := s.Folder()
	id, err := folder.Resolve(name)
	if err != nil {
		return nil, err
	}
	exists, err := folder.Exists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("noteservice: create %s: %w", name, apperr.ErrAlreadyExists)
	}
	if err := folder.Create(id); err != nil {
		return nil, err
	}

	s.logger.Info("note created", slog.String("name", name))
	s.events.PublishNoteEvent(notefs.EventCreated, name)
	return &models.NoteMetadata{Name: name, Identity: id, ModifiedAt: time.Now()}, nil
}

// OpenNote loads a note into the editor. An open buffer wins, then an
// unsaved journal snapshot, then the canonical file.
func (s *Service) OpenNote(ctx context.Context, name string) (*NoteDetail, error) {
	id, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}

	if text, ok := s.surface.Buffer(id); ok {
		dirty, err := s.isDirty(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.detail(id, text, dirty, SourceBuffer), nil
	}

	entry, ok, err := s.journal.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		s.surface.SetBuffer(id, entry.Snapshot)
		s.recovery.Forget(id)
		return s.detail(id, entry.Snapshot, true, SourceJournal), nil
	}

	data, err := s.Folder().Read(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("noteservice: open %s: %w", id.Name(), apperr.ErrNotFound)
		}
		return nil, err
	}
	s.surface.SetBuffer(id, string(data))
	return s.detail(id, string(data), false, SourceFile), nil
}

func (s *Service) detail(id models.Identity, text string, dirty bool, src Source) *NoteDetail {
	return &NoteDetail{
		Name:     id.Name(),
		Identity: id,
		Content:  text,
		Checksum: checksum.SumString(text),
		Dirty:    dirty,
		Source:   src,
	}
}

// ChangeNote records an edit of an open note and schedules its snapshot.
func (s *Service) ChangeNote(_ context.Context, name, text string) error {
	id, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if _, ok := s.surface.Buffer(id); !ok {
		return fmt.Errorf("noteservice: change %s: not open: %w", id.Name(), apperr.ErrNotFound)
	}

	wasUnsaved := s.sched.Unsaved(id)
	s.surface.SetBuffer(id, text)
	s.sched.Change(id, text)
	if !wasUnsaved {
		s.events.Publish(sse.Event{Type: sse.TypeNoteDirty, Data: sse.NoteEvent{Name: id.Name()}})
	}
	return nil
}

// CloseNote forces a final snapshot of the buffer and closes it. A slow or
// failed snapshot is logged; the note is closed regardless and stays dirty.
func (s *Service) CloseNote(ctx context.Context, name string) error {
	id, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := s.sched.Close(ctx, id); err != nil {
		s.logger.Warn("close: final snapshot incomplete",
			slog.String("name", id.Name()),
			slog.String("error", err.Error()))
	}
	s.surface.Drop(id)
	return nil
}

// SaveNote writes the editor buffer over the canonical file, then drops the
// journal entry. When the write fails the journal is left untouched and the
// note stays dirty.
func (s *Service) SaveNote(ctx context.Context, name string) (*NoteDetail, error) {
	id, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	text, ok := s.surface.Buffer(id)
	if !ok {
		return nil, fmt.Errorf("noteservice: save %s: not open: %w", id.Name(), apperr.ErrNotFound)
	}
	folder := s.Folder()

	err = s.sched.Commit(ctx, id, text, func(ctx context.Context) error {
		if err := folder.WriteAtomic(id, []byte(text)); err != nil {
			return err
		}
		// The file is durable now; a leftover entry is classified stale on
		// the next startup.
		if err := s.journal.Remove(ctx, id); err != nil {
			s.logger.Warn("save: journal cleanup failed, retrying",
				slog.String("name", id.Name()),
				slog.String("error", err.Error()))
			if err := s.journal.Remove(ctx, id); err != nil {
				s.logger.Error("save: journal cleanup failed",
					slog.String("name", id.Name()),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("save failed", slog.String("name", id.Name()), slog.String("error", err.Error()))
		return nil, err
	}

	s.recovery.Forget(id)
	dirty := s.sched.Unsaved(id)
	s.logger.Info("note saved", slog.String("name", id.Name()), slog.Int("bytes", len(text)))
	s.events.Publish(sse.Event{Type: sse.TypeNoteSaved, Data: sse.NoteEvent{Name: id.Name()}})
	return s.detail(id, text, dirty, SourceBuffer), nil
}

// RenameNote renames the file and then its journal entry. The open buffer,
// the autosave state and any recovery candidate follow the new name.
func (s *Service) RenameNote(ctx context.Context, oldName, newName string) (*models.NoteMetadata, error) {
	folder := s.Folder()
	oldID, err := s.Resolve(oldName)
	if err != nil {
		return nil, err
	}
	newName = notefs.NormalizeName(newName)
	newID, err := folder.Resolve(newName)
	if err != nil {
		return nil, err
	}
	exists, err := folder.Exists(newName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("noteservice: rename to %s: %w", newName, apperr.ErrAlreadyExists)
	}

	err = s.sched.Rename(ctx, oldID, newID, func(ctx context.Context) error {
		if err := folder.Rename(oldID, newID); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("noteservice: rename %s: %w", oldID.Name(), apperr.ErrNotFound)
			}
			return err
		}
		if err := s.journal.Rename(ctx, oldID, newID); err != nil {
			if rbErr := folder.Rename(newID, oldID); rbErr != nil {
				s.logger.Error("rename: rollback failed",
					slog.String("from", newID.Name()),
					slog.String("error", rbErr.Error()))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.surface.Move(oldID, newID)
	s.recovery.Move(oldID, newID)
	s.logger.Info("note renamed", slog.String("from", oldID.Name()), slog.String("to", newID.Name()))
	s.events.PublishRename(oldID.Name(), newID.Name())

	dirty, err := s.isDirty(ctx, newID)
	if err != nil {
		return nil, err
	}
	return &models.NoteMetadata{Name: newID.Name(), Identity: newID, ModifiedAt: time.Now(), Dirty: dirty}, nil
}

// DeleteNote removes the file, its journal entry and any in-memory state.
func (s *Service) DeleteNote(ctx context.Context, name string) error {
	id, err := s.Resolve(name)
	if err != nil {
		return err
	}
	folder := s.Folder()

	err = s.sched.Discard(ctx, id, func(ctx context.Context) error {
		if err := folder.Delete(id); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("noteservice: delete %s: %w", id.Name(), apperr.ErrNotFound)
			}
			return err
		}
		if err := s.journal.Remove(ctx, id); err != nil {
			s.logger.Warn("delete: journal cleanup failed",
				slog.String("name", id.Name()),
				slog.String("error", err.Error()))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.surface.Drop(id)
	s.recovery.Forget(id)
	s.logger.Info("note deleted", slog.String("name", id.Name()))
	s.events.PublishNoteEvent(notefs.EventDeleted, id.Name())
	return nil
}

// SelectFolder switches the notes folder. Open buffers of the previous
// folder are flushed to the journal and closed first.
func (s *Service) SelectFolder(ctx context.Context, path string) (string, error) {
	next, err := notefs.NewFolder(path)
	if err != nil {
		return "", err
	}
	if next.Root() == s.Folder().Root() {
		return next.Root(), nil
	}

	for _, id := range s.sched.DirtySet() {
		if err := s.sched.Close(ctx, id); err != nil {
			s.logger.Warn("folder switch: snapshot incomplete",
				slog.String("name", id.Name()),
				slog.String("error", err.Error()))
		}
	}
	for _, id := range s.surface.Open() {
		s.surface.Drop(id)
	}

	s.mu.Lock()
	s.folder = next
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if s.stateFile != "" {
		if err := paths.SaveFolder(s.stateFile, next.Root()); err != nil {
			s.logger.Warn("folder switch: persist failed", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("notes folder selected", slog.String("folder", next.Root()))
	s.events.Publish(sse.Event{Type: sse.TypeNotesChanged, Data: map[string]string{"folder": next.Root()}})
	return next.Root(), nil
}

// Reconcile classifies leftover journal entries. It runs once at startup,
// before the GUI opens any note.
func (s *Service) Reconcile(ctx context.Context) ([]recovery.Candidate, error) {
	pending, err := s.recovery.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		s.events.Publish(sse.Event{Type: sse.TypeRecoveryPending, Data: map[string]int{"count": len(pending)}})
	}
	return pending, nil
}

// Recoverable returns the pending recovery candidates in the selected folder.
func (s *Service) Recoverable() []recovery.Candidate {
	root := s.Folder().Root()
	out := []recovery.Candidate{}
	for _, c := range s.recovery.Pending() {
		if c.Identity.Folder() == root {
			out = append(out, c)
		}
	}
	return out
}

// RestoreNote puts a recovered snapshot back into the editor, dirty.
func (s *Service) RestoreNote(ctx context.Context, name string) (*NoteDetail, error) {
	id, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	c, err := s.recovery.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Kind == recovery.KindRecoverableAsNew {
		s.events.PublishNoteEvent(notefs.EventCreated, id.Name())
	}
	s.events.Publish(sse.Event{Type: sse.TypeNoteDirty, Data: sse.NoteEvent{Name: id.Name()}})
	return s.detail(id, c.Snapshot, true, SourceJournal), nil
}

// DiscardRecovery drops a recovery candidate and its journal entry.
func (s *Service) DiscardRecovery(ctx context.Context, name string) error {
	id, err := s.Resolve(name)
	if err != nil {
		return err
	}
	return s.recovery.Discard(ctx, id)
}

// HandleFileEvent forwards an external folder change to the GUI.
func (s *Service) HandleFileEvent(kind string, id models.Identity) {
	if id.Folder() != s.Folder().Root() {
		return
	}
	s.logger.Debug("external change", slog.String("kind", kind), slog.String("name", id.Name()))
	s.events.PublishNoteEvent(kind, id.Name())
}

// Shutdown flushes every dirty buffer into the journal.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.sched.Shutdown(ctx)
}
