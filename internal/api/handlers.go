package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/garnicia/internal/noteservice"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

func noteName(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "name"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes in the selected folder
//	@Tags			notes
//	@Produce		json
//	@Success		200	{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	metas, err := h.svc.ListNotes(r.Context())
	if err != nil {
		writeError(w, "list notes", "", err)
		return
	}
	items := make([]NoteListItem, len(metas))
	for i, m := range metas {
		items[i] = NoteListItem{
			Name:        m.Name,
			DisplayName: m.DisplayName(),
			Size:        m.Size,
			Dirty:       m.Dirty,
			ModifiedAt:  m.ModifiedAt,
		}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items})
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create an empty note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteListItem
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	meta, err := h.svc.CreateNote(r.Context(), req.Name)
	if err != nil {
		writeError(w, "create note", req.Name, err)
		return
	}
	writeJSON(w, http.StatusCreated, NoteListItem{
		Name:        meta.Name,
		DisplayName: meta.DisplayName(),
		ModifiedAt:  meta.ModifiedAt,
	})
}

// OpenNote handles GET /api/notes/{name}.
//
//	@Summary		Open a note into the editor
//	@Description	Returns the open buffer, an unsaved journal snapshot, or the file content, in that order.
//	@Tags			notes
//	@Produce		json
//	@Param			name	path		string	true	"Note name"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{name} [get]
func (h *Handler) OpenNote(w http.ResponseWriter, r *http.Request) {
	name := noteName(r)
	note, err := h.svc.OpenNote(r.Context(), name)
	if err != nil {
		writeError(w, "open note", name, err)
		return
	}
	w.Header().Set("ETag", `"`+note.Checksum+`"`)
	writeJSON(w, http.StatusOK, note)
}

// UpdateBuffer handles PUT /api/notes/{name}/buffer.
//
//	@Summary		Report an editor change
//	@Tags			editor
//	@Accept			json
//	@Param			name	path	string			true	"Note name"
//	@Param			body	body	BufferRequest	true	"Full buffer text"
//	@Success		204		"Change recorded"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{name}/buffer [put]
func (h *Handler) UpdateBuffer(w http.ResponseWriter, r *http.Request) {
	name := noteName(r)
	var req BufferRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}
	if err := h.svc.ChangeNote(r.Context(), name, *req.Text); err != nil {
		writeError(w, "change note", name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveNote handles POST /api/notes/{name}/save.
//
//	@Summary		Save the editor buffer to the note file
//	@Tags			editor
//	@Produce		json
//	@Param			name	path		string	true	"Note name"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{name}/save [post]
func (h *Handler) SaveNote(w http.ResponseWriter, r *http.Request) {
	name := noteName(r)
	note, err := h.svc.SaveNote(r.Context(), name)
	if err != nil {
		writeError(w, "save note", name, err)
		return
	}
	w.Header().Set("ETag", `"`+note.Checksum+`"`)
	writeJSON(w, http.StatusOK, note)
}

// CloseNote handles POST /api/notes/{name}/close.
//
//	@Summary		Close a note, snapshotting unsaved work
//	@Tags			editor
//	@Param			name	path	string	true	"Note name"
//	@Success		204		"Note closed"
//	@Security		BearerAuth
//	@Router			/notes/{name}/close [post]
func (h *Handler) CloseNote(w http.ResponseWriter, r *http.Request) {
	name := noteName(r)
	if err := h.svc.CloseNote(r.Context(), name); err != nil {
		writeError(w, "close note", name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameNote handles POST /api/notes/{name}/rename.
//
//	@Summary		Rename a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string				true	"Current note name"
//	@Param			body	body		RenameNoteRequest	true	"New name"
//	@Success		200		{object}	NoteListItem
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{name}/rename [post]
func (h *Handler) RenameNote(w http.ResponseWriter, r *http.Request) {
	name := noteName(r)
	var req RenameNoteRequest
	if !decode(w, r, &req) {
		return
	}
	meta, err := h.svc.RenameNote(r.Context(), name, req.Name)
	if err != nil {
		writeError(w, "rename note", name, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListItem{
		Name:        meta.Name,
		DisplayName: meta.DisplayName(),
		Dirty:       meta.Dirty,
		ModifiedAt:  meta.ModifiedAt,
	})
}

// DeleteNote handles DELETE /api/notes/{name}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			name	path	string	true	"Note name"
//	@Success		204		"Note deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{name} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	name := noteName(r)
	if err := h.svc.DeleteNote(r.Context(), name); err != nil {
		writeError(w, "delete note", name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFolder handles GET /api/folder.
func (h *Handler) GetFolder(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, FolderResponse{Path: h.svc.Folder().Root()})
}

// SelectFolder handles PUT /api/folder.
//
//	@Summary		Switch the notes folder
//	@Tags			folder
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FolderRequest	true	"Folder path"
//	@Success		200		{object}	FolderResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folder [put]
func (h *Handler) SelectFolder(w http.ResponseWriter, r *http.Request) {
	var req FolderRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	root, err := h.svc.SelectFolder(r.Context(), req.Path)
	if err != nil {
		slog.Warn("select folder failed", slog.String("path", req.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody("folder not usable"))
		return
	}
	writeJSON(w, http.StatusOK, FolderResponse{Path: root})
}

// ListRecovery handles GET /api/recovery.
//
//	@Summary		List unsaved work found at startup
//	@Tags			recovery
//	@Produce		json
//	@Success		200	{object}	RecoveryResponse
//	@Security		BearerAuth
//	@Router			/recovery [get]
func (h *Handler) ListRecovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RecoveryResponse{Candidates: h.svc.Recoverable()})
}

// RestoreRecovery handles POST /api/recovery/{name}/restore.
func (h *Handler) RestoreRecovery(w http.ResponseWriter, r *http.Request) {
	name := noteName(r)
	note, err := h.svc.RestoreNote(r.Context(), name)
	if err != nil {
		writeError(w, "restore note", name, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DiscardRecovery handles POST /api/recovery/{name}/discard.
func (h *Handler) DiscardRecovery(w http.ResponseWriter, r *http.Request) {
	name := noteName(r)
	if err := h.svc.DiscardRecovery(r.Context(), name); err != nil {
		writeError(w, "discard recovery", name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
