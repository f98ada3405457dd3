package recovery

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/garnicia/internal/apperr"
	"github.com/starford/garnicia/internal/editor"
	"github.com/starford/garnicia/internal/models"
	"github.com/starford/garnicia/internal/notefs"
	"github.com/starford/garnicia/internal/testutil"
)

func ts(n int64) time.Time { return time.Unix(0, n) }

type fakeFiles struct {
	content string
	modTime time.Time
	exists  bool
	statErr error
	readErr error
	created []models.Identity
}

func (f *fakeFiles) Read(models.Identity) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return []byte(f.content), nil
}

func (f *fakeFiles) Stat(models.Identity) (time.Time, bool, error) {
	return f.modTime, f.exists, f.statErr
}

func (f *fakeFiles) Create(id models.Identity) error {
	f.created = append(f.created, id)
	return nil
}

type marker struct {
	mu      sync.Mutex
	changes map[models.Identity]string
}

func (m *marker) Change(id models.Identity, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.changes == nil {
		m.changes = make(map[models.Identity]string)
	}
	m.changes[id] = text
}

func TestClassify(t *testing.T) {
	id := models.Identity("/notes/todo")

	tests := []struct {
		name      string
		entry     models.Entry
		files     *fakeFiles
		wantStale bool
		wantKind  Kind
		wantAmbig bool
	}{
		{
			name:     "journal newer and content differs",
			entry:    models.Entry{Identity: id, Snapshot: "draft", ModifiedAt: ts(100)},
			files:    &fakeFiles{content: "saved", modTime: ts(90), exists: true},
			wantKind: KindRecoverable,
		},
		{
			name:      "journal older than file",
			entry:     models.Entry{Identity: id, Snapshot: "draft", ModifiedAt: ts(90)},
			files:     &fakeFiles{content: "saved", modTime: ts(100), exists: true},
			wantStale: true,
			wantKind:  KindRecoverable,
		},
		{
			name:      "same timestamp",
			entry:     models.Entry{Identity: id, Snapshot: "draft", ModifiedAt: ts(100)},
			files:     &fakeFiles{content: "saved", modTime: ts(100), exists: true},
			wantStale: true,
			wantKind:  KindRecoverable,
		},
		{
			name:      "identical content",
			entry:     models.Entry{Identity: id, Snapshot: "same", ModifiedAt: ts(100)},
			files:     &fakeFiles{content: "same", modTime: ts(90), exists: true},
			wantStale: true,
			wantKind:  KindRecoverable,
		},
		{
			name:     "file absent",
			entry:    models.Entry{Identity: id, Snapshot: "draft", ModifiedAt: ts(100)},
			files:    &fakeFiles{},
			wantKind: KindRecoverableAsNew,
		},
		{
			name:     "file vanished between stat and read",
			entry:    models.Entry{Identity: id, Snapshot: "draft", ModifiedAt: ts(100)},
			files:    &fakeFiles{modTime: ts(90), exists: true, readErr: fs.ErrNotExist},
			wantKind: KindRecoverableAsNew,
		},
		{
			name:      "read error is ambiguous",
			entry:     models.Entry{Identity: id, Snapshot: "draft", ModifiedAt: ts(50)},
			files:     &fakeFiles{modTime: ts(90), exists: true, readErr: fs.ErrPermission},
			wantKind:  KindRecoverable,
			wantAmbig: true,
		},
		{
			name:      "stat error is ambiguous",
			entry:     models.Entry{Identity: id, Snapshot: "draft", ModifiedAt: ts(50)},
			files:     &fakeFiles{statErr: errors.New("io error")},
			wantKind:  KindRecoverable,
			wantAmbig: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, stale, err := Classify(tt.entry, tt.files)
			require.Equal(t, tt.wantStale, stale)
			require.Equal(t, tt.wantKind, c.Kind)
			require.Equal(t, tt.wantAmbig, c.Ambiguous)
			if tt.wantAmbig {
				require.ErrorIs(t, err, apperr.ErrReconciliationAmbiguous)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.entry.Snapshot, c.Snapshot)
			require.Equal(t, "todo", c.Name)
		})
	}
}

type fixture struct {
	dir     string
	rec     *Reconciler
	surface *editor.Memory
	marker  *marker
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, folder := testutil.TestFolder(t)
	j := testutil.TestJournal(t)
	surface := editor.NewMemory()
	m := &marker{}
	return &fixture{
		dir:     dir,
		rec:     New(j, folder, surface, m, nil),
		surface: surface,
		marker:  m,
		ctx:     context.Background(),
	}
}

func (f *fixture) id(name string) models.Identity {
	return models.NewIdentity(f.dir, name)
}

func (f *fixture) setMTime(t *testing.T, name string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(filepath.Join(f.dir, name), at, at))
}

func TestReconcile_SortsEntries(t *testing.T) {
	f := newFixture(t)
	j := f.rec.journal
	base := time.Now().Add(-time.Hour)

	// newer unsaved work
	testutil.WriteNote(t, f.dir, "draft", "old text")
	f.setMTime(t, "draft", base)
	require.NoError(t, j.Upsert(f.ctx, f.id("draft"), "new text", base.Add(time.Minute)))

	// saved after the snapshot
	testutil.WriteNote(t, f.dir, "saved", "final")
	f.setMTime(t, "saved", base.Add(time.Minute))
	require.NoError(t, j.Upsert(f.ctx, f.id("saved"), "intermediate", base))

	// content already on disk
	testutil.WriteNote(t, f.dir, "same", "hello")
	f.setMTime(t, "same", base)
	require.NoError(t, j.Upsert(f.ctx, f.id("same"), "hello", base.Add(time.Minute)))

	// created but never saved
	require.NoError(t, j.Upsert(f.ctx, f.id("fresh"), "brand new", base.Add(2*time.Minute)))

	got, err := f.rec.Reconcile(f.ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, f.id("fresh"), got[0].Identity)
	require.Equal(t, KindRecoverableAsNew, got[0].Kind)
	require.Equal(t, f.id("draft"), got[1].Identity)
	require.Equal(t, KindRecoverable, got[1].Kind)
	require.Equal(t, "new text", got[1].Snapshot)

	for _, name := range []string{"saved", "same"} {
		_, ok, err := j.Get(f.ctx, f.id(name))
		require.NoError(t, err)
		require.False(t, ok, "stale entry %s should be removed", name)
	}
	require.Len(t, f.rec.Pending(), 2)
}

func TestReconcile_EmptyJournal(t *testing.T) {
	f := newFixture(t)
	got, err := f.rec.Reconcile(f.ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRestore_LoadsBufferAndMarksDirty(t *testing.T) {
	f := newFixture(t)
	base := time.Now().Add(-time.Hour)
	testutil.WriteNote(t, f.dir, "todo", "hello")
	f.setMTime(t, "todo", base)
	require.NoError(t, f.rec.journal.Upsert(f.ctx, f.id("todo"), "hello world", base.Add(time.Minute)))

	_, err := f.rec.Reconcile(f.ctx)
	require.NoError(t, err)

	c, err := f.rec.Restore(f.ctx, f.id("todo"))
	require.NoError(t, err)
	require.Equal(t, KindRecoverable, c.Kind)

	text, ok := f.surface.Buffer(f.id("todo"))
	require.True(t, ok)
	require.Equal(t, "hello world", text)
	require.Equal(t, "hello world", f.marker.changes[f.id("todo")])
	require.Empty(t, f.rec.Pending())

	// the journal keeps the snapshot until the note is saved
	_, ok, err = f.rec.journal.Get(f.ctx, f.id("todo"))
	require.NoError(t, err)
	require.True(t, ok)

	// canonical file untouched
	data, err := os.ReadFile(filepath.Join(f.dir, "todo"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestRestore_AsNewCreatesEmptyFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.journal.Upsert(f.ctx, f.id("ideas"), "unsaved idea", time.Now()))

	_, err := f.rec.Reconcile(f.ctx)
	require.NoError(t, err)

	_, err = f.rec.Restore(f.ctx, f.id("ideas"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "ideas"))
	require.NoError(t, err)
	require.Empty(t, data)

	text, _ := f.surface.Buffer(f.id("ideas"))
	require.Equal(t, "unsaved idea", text)
}

func TestRestore_AsNewSurvivesCrashBeforeSnapshot(t *testing.T) {
	f := newFixture(t)
	j := f.rec.journal
	require.NoError(t, j.Upsert(f.ctx, f.id("ideas"), "unsaved idea", time.Now().Add(-time.Hour)))

	_, err := f.rec.Reconcile(f.ctx)
	require.NoError(t, err)
	_, err = f.rec.Restore(f.ctx, f.id("ideas"))
	require.NoError(t, err)

	// The marker never writes the journal, as if the process died before
	// the debounced snapshot fired. The next startup must still offer it.
	folder, err := notefs.NewFolder(f.dir)
	require.NoError(t, err)
	next := New(j, folder, editor.NewMemory(), &marker{}, nil)
	pending, err := next.Reconcile(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "unsaved idea", pending[0].Snapshot)
	require.Equal(t, KindRecoverable, pending[0].Kind)
}

func TestRestore_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Restore(f.ctx, f.id("nope"))
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDiscard_RemovesEntry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.journal.Upsert(f.ctx, f.id("ideas"), "unsaved", time.Now()))

	_, err := f.rec.Reconcile(f.ctx)
	require.NoError(t, err)
	require.NoError(t, f.rec.Discard(f.ctx, f.id("ideas")))

	_, ok, err := f.rec.journal.Get(f.ctx, f.id("ideas"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, f.rec.Pending())

	require.ErrorIs(t, f.rec.Discard(f.ctx, f.id("ideas")), apperr.ErrNotFound)
}

func TestMove_RekeysCandidate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.journal.Upsert(f.ctx, f.id("a"), "text", time.Now()))
	_, err := f.rec.Reconcile(f.ctx)
	require.NoError(t, err)

	f.rec.Move(f.id("a"), f.id("b"))
	c, ok := f.rec.Lookup(f.id("b"))
	require.True(t, ok)
	require.Equal(t, "b", c.Name)
	_, ok = f.rec.Lookup(f.id("a"))
	require.False(t, ok)
}
