package postgres

import (
	"reflect"
	"testing"
)

func TestGetPendingMigrationFiles(t *testing.T) {
	all, err := getPendingMigrationFiles(nil)
	if err != nil {
		t.Fatalf("getPendingMigrationFiles failed: %v", err)
	}
	want := []string{"001_create_snapshots.sql", "002_create_face_embeddings.sql"}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("expected %v, got %v", want, all)
	}

	pending, err := getPendingMigrationFiles(map[string]bool{"001_create_snapshots.sql": true})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pending, want[1:]) {
		t.Errorf("expected only %v pending, got %v", want[1:], pending)
	}
}

func TestNewPool_RequiresURL(t *testing.T) {
	if _, err := NewPool(nil); err == nil {
		t.Error("expected error for nil config")
	}
}
