package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/garnicia/internal/autosave"
	"github.com/starford/garnicia/internal/editor"
	"github.com/starford/garnicia/internal/journal"
	"github.com/starford/garnicia/internal/models"
	"github.com/starford/garnicia/internal/noteservice"
	"github.com/starford/garnicia/internal/testutil"
)

type env struct {
	svc     *noteservice.Service
	router  http.Handler
	dir     string
	journal *journal.Store
}

// testEnv sets up a temp notes folder, journal, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) *env {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) *env {
	t.Helper()
	dir, folder := testutil.TestFolder(t)
	j := testutil.TestJournal(t)
	svc := noteservice.NewService(j, folder, editor.NewMemory(), noteservice.Options{
		Autosave: autosave.Options{Debounce: time.Hour, FlushTimeout: 2 * time.Second},
	})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	router := NewRouter(svc, authToken != "", authToken, sseHandler)
	return &env{svc: svc, router: router, dir: dir, journal: j}
}

func (e *env) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestCreateAndOpenNote(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodPost, "/notes", map[string]string{"name": "Hello"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created NoteListItem
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.Name != "hello" {
		t.Errorf("name = %q, want lowercased", created.Name)
	}

	w = e.do(t, http.MethodGet, "/notes/hello", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d", w.Code)
	}
	var note NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &note)
	if note.Content != "" || note.Source != noteservice.SourceFile {
		t.Errorf("note = %+v", note)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}
}

func TestCreateDuplicate(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodPost, "/notes", map[string]string{"name": "dup"}, ""); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/notes", map[string]string{"name": "DUP"}, ""); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateInvalidName(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodPost, "/notes", map[string]string{"name": ""}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty name = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/notes", map[string]string{"name": "../x"}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("traversal name = %d, want 400", w.Code)
	}
}

func TestEditSaveCycle(t *testing.T) {
	e := testEnv(t, "")
	testutil.WriteNote(t, e.dir, "todo", "hello")

	if w := e.do(t, http.MethodGet, "/notes/todo", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("open = %d", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/notes/todo/buffer", map[string]string{"text": "hello world"}, ""); w.Code != http.StatusNoContent {
		t.Fatalf("buffer = %d, body = %s", w.Code, w.Body.String())
	}

	w := e.do(t, http.MethodGet, "/notes", nil, "")
	var list NoteListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Notes) != 1 || list.Notes[0].DisplayName != "*todo" {
		t.Fatalf("list = %+v, want dirty todo", list.Notes)
	}

	w = e.do(t, http.MethodPost, "/notes/todo/save", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("save = %d, body = %s", w.Code, w.Body.String())
	}
	data, err := os.ReadFile(filepath.Join(e.dir, "todo"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("file = %q", data)
	}

	w = e.do(t, http.MethodGet, "/notes", nil, "")
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Notes[0].Dirty {
		t.Error("note still dirty after save")
	}
}

func TestBufferRequiresText(t *testing.T) {
	e := testEnv(t, "")
	testutil.WriteNote(t, e.dir, "todo", "")
	e.do(t, http.MethodGet, "/notes/todo", nil, "")

	if w := e.do(t, http.MethodPut, "/notes/todo/buffer", map[string]string{}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing text = %d, want 400", w.Code)
	}
	// Clearing a note is a valid edit.
	if w := e.do(t, http.MethodPut, "/notes/todo/buffer", map[string]string{"text": ""}, ""); w.Code != http.StatusNoContent {
		t.Errorf("empty text = %d, want 204", w.Code)
	}
}

func TestCloseNoteSnapshots(t *testing.T) {
	e := testEnv(t, "")
	testutil.WriteNote(t, e.dir, "todo", "a")
	e.do(t, http.MethodGet, "/notes/todo", nil, "")
	e.do(t, http.MethodPut, "/notes/todo/buffer", map[string]string{"text": "ab"}, "")

	if w := e.do(t, http.MethodPost, "/notes/todo/close", nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("close = %d", w.Code)
	}
	entry, ok, err := e.journal.Get(context.Background(), models.NewIdentity(e.dir, "todo"))
	if err != nil || !ok {
		t.Fatalf("journal entry missing: ok=%v err=%v", ok, err)
	}
	if entry.Snapshot != "ab" {
		t.Errorf("snapshot = %q", entry.Snapshot)
	}
}

func TestRenameNote(t *testing.T) {
	e := testEnv(t, "")
	testutil.WriteNote(t, e.dir, "old", "x")
	testutil.WriteNote(t, e.dir, "taken", "y")

	if w := e.do(t, http.MethodPost, "/notes/old/rename", map[string]string{"name": "taken"}, ""); w.Code != http.StatusConflict {
		t.Errorf("rename onto existing = %d, want 409", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/notes/old/rename", map[string]string{"name": "new"}, ""); w.Code != http.StatusOK {
		t.Fatalf("rename = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(e.dir, "new")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
}

func TestDeleteNote(t *testing.T) {
	e := testEnv(t, "")
	testutil.WriteNote(t, e.dir, "del", "x")

	if w := e.do(t, http.MethodDelete, "/notes/del", nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/notes/del", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/notes/del", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestOpenNote_NotFound(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodGet, "/notes/nonexistent", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestFolderEndpoints(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodGet, "/folder", nil, "")
	var got FolderResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Path != e.dir {
		t.Errorf("folder = %q, want %q", got.Path, e.dir)
	}

	other := t.TempDir()
	w = e.do(t, http.MethodPut, "/folder", map[string]string{"path": other}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("select = %d, body = %s", w.Code, w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Path != other {
		t.Errorf("folder = %q, want %q", got.Path, other)
	}

	if w := e.do(t, http.MethodPut, "/folder", map[string]string{"path": filepath.Join(other, "nope")}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing folder = %d, want 400", w.Code)
	}
}

func TestRecoveryEndpoints(t *testing.T) {
	e := testEnv(t, "")
	ctx := context.Background()
	if err := e.journal.Upsert(ctx, models.NewIdentity(e.dir, "lost"), "unsaved", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := e.journal.Upsert(ctx, models.NewIdentity(e.dir, "gone"), "drop me", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodGet, "/recovery", nil, "")
	var rec RecoveryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if len(rec.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(rec.Candidates))
	}

	w = e.do(t, http.MethodPost, "/recovery/lost/restore", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("restore = %d, body = %s", w.Code, w.Body.String())
	}
	var note NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &note)
	if note.Content != "unsaved" || !note.Dirty {
		t.Errorf("restored = %+v", note)
	}

	if w := e.do(t, http.MethodPost, "/recovery/gone/discard", nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("discard = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/recovery/gone/discard", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("second discard = %d, want 404", w.Code)
	}

	w = e.do(t, http.MethodGet, "/recovery", nil, "")
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if len(rec.Candidates) != 0 {
		t.Errorf("candidates left = %d", len(rec.Candidates))
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := e.do(t, http.MethodPost, "/notes", map[string]string{"name": "auth"}, "secret123"); w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := e.do(t, http.MethodGet, "/notes", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := e.do(t, http.MethodGet, "/notes", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodGet, "/notes", nil, ""); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

var okSSE = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnvWithSSE(t, "tok", okSSE)
	if w := e.do(t, http.MethodGet, "/events", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnvWithSSE(t, "tok", okSSE)
	if w := e.do(t, http.MethodGet, "/events", nil, "tok"); w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should pass auth")
	}
}

func TestHealth(t *testing.T) {
	ready := false
	r := chi.NewRouter()
	Health(r, func() bool { return ready })

	get := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	if code := get("/health/live"); code != http.StatusOK {
		t.Errorf("live = %d, want 200", code)
	}
	if code := get("/health/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("ready before recovery = %d, want 503", code)
	}
	ready = true
	if code := get("/health/ready"); code != http.StatusOK {
		t.Errorf("ready = %d, want 200", code)
	}
}

func TestLocalOrigin(t *testing.T) {
	e := testEnv(t, "")

	for origin, want := range map[string]int{
		"http://localhost:5173": http.StatusOK,
		"http://127.0.0.1:7311": http.StatusOK,
		"http://[::1]:7311":     http.StatusOK,
		"https://evil.example":  http.StatusForbidden,
		"http://localhost.evil": http.StatusForbidden,
		"null":                  http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/notes", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("origin %q: status = %d, want %d", origin, w.Code, want)
		}
	}
}
