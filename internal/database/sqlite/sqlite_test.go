package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/photo"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "nested", "rhodesli.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend_ReadMissing(t *testing.T) {
	b := openTestBackend(t)

	_, err := b.ReadSnapshot(context.Background(), database.SnapshotIdentities)
	if !errors.Is(err, database.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestBackend_WriteOverwrites(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	for _, payload := range []string{`{"v":1}`, `{"v":2}`} {
		if err := b.WriteSnapshot(ctx, "identities", []byte(payload)); err != nil {
			t.Fatalf("WriteSnapshot failed: %v", err)
		}
	}

	got, err := b.ReadSnapshot(ctx, "identities")
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("expected latest snapshot, got %s", got)
	}
}

func TestBackend_PhotoRegistryRoundTrip(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	reg := photo.NewRegistry(b)
	if err := reg.RegisterFace("p1", "scans/p1.jpg", "f1", "archive", "family"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := Open(b.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	loaded := photo.NewRegistry(reopened)
	if err := loaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id, ok := loaded.PhotoForFace("f1"); !ok || id != "p1" {
		t.Errorf("expected f1 in p1, got %q (%v)", id, ok)
	}
}
