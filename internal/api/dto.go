package api

import (
	"time"

	"github.com/starford/garnicia/internal/noteservice"
	"github.com/starford/garnicia/internal/recovery"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Name string `json:"name" example:"shopping" validate:"required"`
}

// BufferRequest carries the full editor buffer after a change.
type BufferRequest struct {
	Text *string `json:"text" example:"buy milk" validate:"required"`
}

// RenameNoteRequest is the request body for renaming a note.
type RenameNoteRequest struct {
	Name string `json:"name" example:"groceries" validate:"required"`
}

// FolderRequest selects the notes folder.
type FolderRequest struct {
	Path string `json:"path" example:"/home/me/notes" validate:"required"`
}

// FolderResponse reports the selected notes folder.
type FolderResponse struct {
	Path string `json:"path" example:"/home/me/notes" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is one row of the note list.
type NoteListItem struct {
	Name        string    `json:"name" example:"todo" validate:"required"`
	DisplayName string    `json:"display_name" example:"*todo" validate:"required"`
	Size        int64     `json:"size" example:"42"`
	Dirty       bool      `json:"dirty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// NoteListResponse wraps the note list.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
}

// RecoveryResponse lists notes with unsaved work found at startup.
type RecoveryResponse struct {
	Candidates []recovery.Candidate `json:"candidates" validate:"required"`
}
