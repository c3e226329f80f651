package blobstore

import (
	"context"
	"sync"
)

// Memory is an in-process Storage.
type Memory struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	writes int
}

// NewMemory creates an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Read returns a copy of the blob stored under name.
func (m *Memory) Read(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), blob...), true, nil
}

// Write stores a copy of blob under name.
func (m *Memory) Write(ctx context.Context, name string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[name] = append([]byte(nil), blob...)
	m.writes++
	return nil
}

// Remove deletes name. Idempotent - no error on miss.
func (m *Memory) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

// Writes returns how many successful writes the storage has accepted.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

var _ Storage = (*Memory)(nil)
