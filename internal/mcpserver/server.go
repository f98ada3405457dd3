// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the notes folder and its unsaved-work journal over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/garnicia/internal/journal"
	"github.com/starford/garnicia/internal/notefs"
	"github.com/starford/garnicia/internal/recovery"
)

const rulesURI = "garnicia://note-rules"

// Server wraps the MCP server with Garnicia tools.
type Server struct {
	mcp     *server.MCPServer
	folder  *notefs.Folder
	journal journal.Journal
}

// New creates a new MCP server with all Garnicia tools registered.
func New(folder *notefs.Folder, j journal.Journal, version string) *Server {
	s := &Server{folder: folder, journal: j}

	s.mcp = server.NewMCPServer(
		"Garnicia",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List every note in the notes folder, one per line. "+
			"Names with unsaved work carry a leading '*'."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note. Unsaved work is returned when present unless source is 'file'."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Note name (e.g. todo)")),
		mcp.WithString("source", mcp.Description("'latest' (default) or 'file'"), mcp.Enum("latest", "file")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_recoverable",
		mcp.WithDescription("List crash leftovers: journal snapshots newer than their note files."),
	), s.listRecoverable)

	s.mcp.AddTool(mcp.NewTool("discard_recovery",
		mcp.WithDescription("Permanently drop the unsaved snapshot of a note. The note file is not changed."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Note name")),
	), s.discardRecovery)

	s.mcp.AddTool(mcp.NewTool("get_note_rules",
		mcp.WithDescription("Returns the note naming rules and how unsaved work is reported."),
	), s.getNoteRules)

	s.mcp.AddResource(
		mcp.NewResource(rulesURI, "Note Rules",
			mcp.WithResourceDescription("Note naming rules and unsaved-work semantics."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteRulesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	metas, err := s.folder.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lines := make([]string, 0, len(metas))
	for _, m := range metas {
		_, dirty, err := s.journal.Get(ctx, m.Identity)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		m.Dirty = dirty
		lines = append(lines, m.DisplayName())
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.folder.Resolve(notefs.NormalizeName(name))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if req.GetString("source", "latest") != "file" {
		entry, ok, err := s.journal.Get(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if ok {
			return mcp.NewToolResultText(entry.Snapshot), nil
		}
	}

	data, err := s.folder.Read(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id.Name())), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// listRecoverable classifies journal entries without removing stale ones;
// cleanup belongs to the editor's startup pass.
func (s *Server) listRecoverable(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.journal.ListPending(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := []recovery.Candidate{}
	for _, e := range entries {
		c, stale, _ := recovery.Classify(e, s.folder)
		if !stale {
			out = append(out, c)
		}
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) discardRecovery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.folder.Resolve(notefs.NormalizeName(name))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_, ok, err := s.journal.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no unsaved work for %s", id.Name())), nil
	}
	if err := s.journal.Remove(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("discarded: %s", id.Name())), nil
}

func (s *Server) getNoteRules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteRules), nil
}

func (s *Server) readNoteRulesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      rulesURI,
			MIMEType: "text/markdown",
			Text:     NoteRules,
		},
	}, nil
}
