package database

import (
	"context"
	"errors"
	"sync"
)

// Snapshot names used by the registries.
const (
	SnapshotIdentities = "identities"
	SnapshotPhotoIndex = "photo_index"
)

// ErrSnapshotNotFound is returned when no snapshot has been written under a name yet.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotBackend stores complete registry snapshots as opaque documents.
// A write replaces the previous snapshot atomically; readers never observe a partial write.
type SnapshotBackend interface {
	// ReadSnapshot returns the latest snapshot stored under name, or ErrSnapshotNotFound.
	ReadSnapshot(ctx context.Context, name string) ([]byte, error)
	// WriteSnapshot replaces the snapshot stored under name.
	WriteSnapshot(ctx context.Context, name string, data []byte) error
}

// MemoryBackend keeps snapshots in memory. Useful for tests and dry runs.
type MemoryBackend struct {
	mu        sync.RWMutex
	snapshots map[string][]byte

	// Error injection
	ReadError  error
	WriteError error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{snapshots: make(map[string][]byte)}
}

// ReadSnapshot returns a copy of the stored snapshot.
func (m *MemoryBackend) ReadSnapshot(_ context.Context, name string) ([]byte, error) {
	if m.ReadError != nil {
		return nil, m.ReadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.snapshots[name]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return append([]byte(nil), data...), nil
}

// WriteSnapshot stores a copy of data under name.
func (m *MemoryBackend) WriteSnapshot(_ context.Context, name string, data []byte) error {
	if m.WriteError != nil {
		return m.WriteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[name] = append([]byte(nil), data...)
	return nil
}
