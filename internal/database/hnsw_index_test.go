package database

import (
	"path/filepath"
	"testing"
)

func testFaces() []IndexedFace {
	return []IndexedFace{
		{FaceID: "f1", IdentityID: "alice", Embedding: []float32{0, 0}},
		{FaceID: "f2", IdentityID: "alice", Embedding: []float32{0.1, 0}},
		{FaceID: "f3", IdentityID: "bob", Embedding: []float32{5, 5}},
		{FaceID: "f4", IdentityID: "carol", Embedding: []float32{10, 0}},
	}
}

func TestHNSWIndex_Search(t *testing.T) {
	idx := NewHNSWIndex()
	if _, err := idx.Search([]float32{0, 0}, 1); err == nil {
		t.Fatal("expected error for uninitialized index")
	}

	idx.Build(testFaces())
	if idx.Count() != 4 {
		t.Fatalf("expected 4 indexed faces, got %d", idx.Count())
	}

	results, err := idx.Search([]float32{0.05, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.IdentityID != "alice" {
			t.Errorf("expected alice faces nearest, got %s (%s)", r.IdentityID, r.FaceID)
		}
	}
}

func TestHNSWIndex_Owner(t *testing.T) {
	idx := NewHNSWIndex()
	idx.Build(testFaces())

	if owner, ok := idx.Owner("f3"); !ok || owner != "bob" {
		t.Errorf("expected f3 owned by bob, got %q, %v", owner, ok)
	}
	if _, ok := idx.Owner("missing"); ok {
		t.Error("expected no owner for a face that was never indexed")
	}
}

func TestHNSWIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faces.hnsw")

	idx := NewHNSWIndex()
	idx.Build(testFaces())
	if err := idx.SaveWithMetadata(path); err != nil {
		t.Fatalf("SaveWithMetadata failed: %v", err)
	}

	loaded := NewHNSWIndex()
	if err := loaded.LoadWithMetadata(path); err != nil {
		t.Fatalf("LoadWithMetadata failed: %v", err)
	}
	if loaded.IsEmpty() {
		t.Fatal("expected loaded index to have graph data")
	}
	if owner, _ := loaded.Owner("f4"); owner != "carol" {
		t.Errorf("expected f4 owned by carol, got %q", owner)
	}

	results, err := loaded.Search([]float32{10, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].FaceID != "f4" {
		t.Errorf("expected f4 nearest, got %+v", results)
	}
}
