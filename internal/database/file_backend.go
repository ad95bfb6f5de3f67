package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileBackend stores each snapshot as <dir>/<name>.json.
// Writes go through a temp file and rename under an advisory file lock.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir, creating the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Path returns the file path of the named snapshot.
func (b *FileBackend) Path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

// ReadSnapshot reads the named snapshot file.
func (b *FileBackend) ReadSnapshot(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(b.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	return data, nil
}

// WriteSnapshot atomically replaces the named snapshot file.
func (b *FileBackend) WriteSnapshot(_ context.Context, name string, data []byte) error {
	path := b.Path(name)

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("snapshot %s is being written by another process", name)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(b.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot %s: %w", name, err)
	}
	return nil
}
