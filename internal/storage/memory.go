// Package storage persists encoded review sessions. MemoryStore serves tests
// and watch mode; FileStore keeps one JSON file per session for the CLI.
package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	// ErrNotFound is returned by Load for unknown session ids.
	ErrNotFound = errors.New("session not found")
)

// MemoryStore keeps sessions in a map guarded by an RWMutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
	}
}

// Save inserts or replaces a session.
func (m *MemoryStore) Save(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = slices.Clone(data)
	return nil
}

// Load returns a copy of the stored session.
func (m *MemoryStore) Load(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

// Delete removes a session; unknown ids are not an error.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
