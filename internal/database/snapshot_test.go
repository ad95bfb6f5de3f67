package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	if _, err := b.ReadSnapshot(ctx, SnapshotIdentities); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}

	data := []byte(`{"schema_version":1}`)
	if err := b.WriteSnapshot(ctx, SnapshotIdentities, data); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	data[0] = 'x' // caller mutation must not leak into the backend

	got, err := b.ReadSnapshot(ctx, SnapshotIdentities)
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if string(got) != `{"schema_version":1}` {
		t.Errorf("unexpected snapshot %q", got)
	}
}

func TestMemoryBackend_ErrorInjection(t *testing.T) {
	b := NewMemoryBackend()
	b.WriteError = errors.New("disk full")

	if err := b.WriteSnapshot(context.Background(), "x", nil); err == nil {
		t.Fatal("expected injected write error")
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "data")

	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	if _, err := b.ReadSnapshot(ctx, SnapshotPhotoIndex); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}

	for _, content := range []string{"first", "second"} {
		if err := b.WriteSnapshot(ctx, SnapshotPhotoIndex, []byte(content)); err != nil {
			t.Fatalf("WriteSnapshot failed: %v", err)
		}
		got, err := b.ReadSnapshot(ctx, SnapshotPhotoIndex)
		if err != nil {
			t.Fatalf("ReadSnapshot failed: %v", err)
		}
		if string(got) != content {
			t.Errorf("expected %q, got %q", content, got)
		}
	}

	// No temp files should be left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestNewFileBackend_EmptyDir(t *testing.T) {
	if _, err := NewFileBackend(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
