// Package editor defines the boundary to the GUI text widget. The core
// reads buffers through Surface and only writes them during recovery.
package editor

import (
	"sync"

	"github.com/starford/garnicia/internal/models"
)

// Surface exposes the editor's in-memory buffers, keyed by note identity.
type Surface interface {
	// Buffer returns the current text for id; ok is false if id is not open.
	Buffer(id models.Identity) (text string, ok bool)
	// SetBuffer replaces the text shown for id.
	SetBuffer(id models.Identity, text string)
	// Drop forgets the buffer for id.
	Drop(id models.Identity)
	// Move re-keys a buffer after a rename.
	Move(oldID, newID models.Identity)
	// Open lists the identities with a buffer.
	Open() []models.Identity
}

// Memory is a mutex-guarded mirror of the GUI buffers. Adapters that cannot
// be queried synchronously (HTTP, IPC) push every change into it.
type Memory struct {
	mu      sync.RWMutex
	buffers map[models.Identity]string
}

// NewMemory returns an empty Memory surface.
func NewMemory() *Memory {
	return &Memory{buffers: make(map[models.Identity]string)}
}

func (m *Memory) Buffer(id models.Identity) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.buffers[id]
	return text, ok
}

func (m *Memory) SetBuffer(id models.Identity, text string) {
	m.mu.Lock()
	m.buffers[id] = text
	m.mu.Unlock()
}

func (m *Memory) Drop(id models.Identity) {
	m.mu.Lock()
	delete(m.buffers, id)
	m.mu.Unlock()
}

func (m *Memory) Move(oldID, newID models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.buffers[oldID]
	if !ok {
		return
	}
	delete(m.buffers, oldID)
	m.buffers[newID] = text
}

// Open lists the identities that currently have a buffer.
func (m *Memory) Open() []models.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Identity, 0, len(m.buffers))
	for id := range m.buffers {
		out = append(out, id)
	}
	return out
}

// Compile-time interface check.
var _ Surface = (*Memory)(nil)
