// Package autosave decides when an edited buffer is snapshotted into the
// journal: a debounce timer per note identity, plus forced synchronous
// flushes when a note is closed or the application quits.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/garnicia/internal/models"
)

var (
	// ErrFlushTimeout is returned when a forced snapshot exceeds the flush
	// timeout. Callers log it and proceed with the transition.
	ErrFlushTimeout = errors.New("autosave: flush timed out")
)

// Snapshotter is the journal write the scheduler needs.
type Snapshotter interface {
	Upsert(ctx context.Context, id models.Identity, snapshot string, at time.Time) error
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	Debounce     time.Duration // default 3s
	FlushTimeout time.Duration // default 500ms
	Logger       *slog.Logger
	Now          func() time.Time

	// OnSnapshot runs after every successful journal write.
	OnSnapshot func(id models.Identity, at time.Time)
	// OnError runs when a snapshot failed twice. The buffer stays dirty.
	OnError func(id models.Identity, err error)
}

// note is the per-identity state. text, version, written, timer and gen are
// guarded by Scheduler.mu; writeMu serializes journal writes for the note.
type note struct {
	writeMu sync.Mutex

	text    string
	version uint64 // bumped on every change
	written uint64 // version last persisted or committed
	timer   *time.Timer
	gen     uint64 // invalidates timers that were superseded
}

func (n *note) dirty() bool { return n.version != n.written }

// Scheduler debounces buffer changes into journal snapshots.
//
// Timers for different identities are independent. Each persist reads the
// latest text while holding the identity's write lock, so a snapshot can
// never be overwritten by an older one.
type Scheduler struct {
	store Snapshotter
	opts  Options

	mu     sync.Mutex
	notes  map[models.Identity]*note
	closed bool
}

// New creates a Scheduler writing to store.
func New(store Snapshotter, opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = 3 * time.Second
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store: store,
		opts:  opts,
		notes: make(map[models.Identity]*note),
	}
}

// Change records the latest buffer text for id and restarts its debounce timer.
func (s *Scheduler) Change(id models.Identity, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	n, ok := s.notes[id]
	if !ok {
		n = &note{}
		s.notes[id] = n
	}
	n.text = text
	n.version++
	s.armLocked(id, n)
}

// armLocked (re)starts n's debounce timer under id. Caller holds s.mu.
func (s *Scheduler) armLocked(id models.Identity, n *note) {
	n.gen++
	gen := n.gen
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(s.opts.Debounce, func() { s.fire(id, n, gen) })
}

// disarmLocked stops n's timer and invalidates any callback already queued.
func (s *Scheduler) disarmLocked(n *note) {
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (s *Scheduler) fire(id models.Identity, n *note, gen uint64) {
	s.mu.Lock()
	current := s.notes[id] == n && n.gen == gen
	s.mu.Unlock()
	if !current {
		return
	}
	if err := s.persist(context.Background(), id, n); err != nil {
		s.report(id, err)
	}
}

// persist writes n's latest text if it has not been written yet. A failed
// write is retried once before the error is returned.
func (s *Scheduler) persist(ctx context.Context, id models.Identity, n *note) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	s.mu.Lock()
	text, version, clean := n.text, n.version, !n.dirty()
	s.mu.Unlock()
	if clean {
		return nil
	}

	at := s.opts.Now()
	err := s.store.Upsert(ctx, id, text, at)
	if err != nil && ctx.Err() == nil {
		s.opts.Logger.Warn("autosave: snapshot failed, retrying",
			slog.String("identity", id.String()),
			slog.String("error", err.Error()))
		err = s.store.Upsert(ctx, id, text, at)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if version > n.written {
		n.written = version
	}
	s.mu.Unlock()

	s.opts.Logger.Debug("autosave: snapshot written",
		slog.String("identity", id.String()),
		slog.Int("bytes", len(text)))
	if s.opts.OnSnapshot != nil {
		s.opts.OnSnapshot(id, at)
	}
	return nil
}

func (s *Scheduler) report(id models.Identity, err error) {
	s.opts.Logger.Error("autosave: snapshot failed",
		slog.String("identity", id.String()),
		slog.String("error", err.Error()))
	if s.opts.OnError != nil {
		s.opts.OnError(id, err)
	}
}

// Flush cancels id's pending timer and snapshots it synchronously if dirty,
// bounded by the flush timeout. On timeout it logs, abandons the write and
// returns ErrFlushTimeout; the note stays dirty.
func (s *Scheduler) Flush(ctx context.Context, id models.Identity) error {
	s.mu.Lock()
	n, ok := s.notes[id]
	if ok {
		s.disarmLocked(n)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.FlushTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- s.persist(ctx, id, n)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if ctx.Err() == nil {
			s.report(id, err)
			return err
		}
	case <-ctx.Done():
	}

	s.opts.Logger.Warn("autosave: flush timed out, proceeding",
		slog.String("identity", id.String()),
		slog.Duration("timeout", s.opts.FlushTimeout))
	return ErrFlushTimeout
}

// Close forces a final snapshot for id and forgets it. A note whose final
// snapshot failed stays tracked (and dirty) so shutdown can retry it.
func (s *Scheduler) Close(ctx context.Context, id models.Identity) error {
	err := s.Flush(ctx, id)

	s.mu.Lock()
	if n, ok := s.notes[id]; ok && !n.dirty() {
		delete(s.notes, id)
	}
	s.mu.Unlock()
	return err
}

// hold locks id's write lock with its timer stopped. release re-arms the
// timer under rearmAs when the note is still dirty.
func (s *Scheduler) hold(id models.Identity) (*note, func(rearmAs models.Identity)) {
	s.mu.Lock()
	n, ok := s.notes[id]
	s.mu.Unlock()
	if !ok {
		return nil, func(models.Identity) {}
	}

	n.writeMu.Lock()
	s.mu.Lock()
	s.disarmLocked(n)
	s.mu.Unlock()

	return n, func(rearmAs models.Identity) {
		s.mu.Lock()
		if s.notes[rearmAs] == n && n.dirty() && !s.closed {
			s.armLocked(rearmAs, n)
		}
		s.mu.Unlock()
		n.writeMu.Unlock()
	}
}

// Commit runs fn, the explicit save of text, while no snapshot of id can be
// in flight. When fn succeeds and text is still the latest buffer, id
// becomes clean; later edits keep it dirty.
func (s *Scheduler) Commit(ctx context.Context, id models.Identity, text string, fn func(context.Context) error) error {
	n, release := s.hold(id)
	if n == nil {
		return fn(ctx)
	}
	defer release(id)

	if err := fn(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if n.text == text {
		n.written = n.version
		if s.notes[id] == n {
			delete(s.notes, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// Rename runs fn (file and journal rename) under oldID's write lock and, on
// success, moves the in-memory state to newID.
func (s *Scheduler) Rename(ctx context.Context, oldID, newID models.Identity, fn func(context.Context) error) error {
	n, release := s.hold(oldID)
	if n == nil {
		return fn(ctx)
	}

	if err := fn(ctx); err != nil {
		release(oldID)
		return err
	}

	s.mu.Lock()
	if s.notes[oldID] == n {
		delete(s.notes, oldID)
		s.notes[newID] = n
	}
	s.mu.Unlock()
	release(newID)
	return nil
}

// Discard runs fn (note deletion) under id's write lock and forgets id
// without writing a snapshot.
func (s *Scheduler) Discard(ctx context.Context, id models.Identity, fn func(context.Context) error) error {
	n, release := s.hold(id)
	if n == nil {
		return fn(ctx)
	}

	err := fn(ctx)
	if err == nil {
		s.mu.Lock()
		if s.notes[id] == n {
			delete(s.notes, id)
		}
		s.mu.Unlock()
	}
	release(id)
	return err
}

// Forget drops id's state without writing a snapshot.
func (s *Scheduler) Forget(id models.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notes[id]; ok {
		s.disarmLocked(n)
		delete(s.notes, id)
	}
}

// DirtySet returns every identity edited since its last save.
func (s *Scheduler) DirtySet() []models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]models.Identity, 0, len(s.notes))
	for id := range s.notes {
		ids = append(ids, id)
	}
	return ids
}

// Dirty reports whether id has changes not yet snapshotted or saved.
func (s *Scheduler) Dirty(id models.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	return ok && n.dirty()
}

// Unsaved reports whether id has been edited since it was last saved,
// whether or not the edit has reached the journal yet.
func (s *Scheduler) Unsaved(id models.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.notes[id]
	return ok
}

// Shutdown stops accepting changes, forces a snapshot of every dirty
// identity and stops all timers. Flush errors are joined.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]models.Identity, 0, len(s.notes))
	for id := range s.notes {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	for _, n := range s.notes {
		s.disarmLocked(n)
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}
