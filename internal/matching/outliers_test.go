package matching

import (
	"context"
	"testing"

	"github.com/NolanFox/rhodesli/internal/embedding"
	"github.com/NolanFox/rhodesli/internal/identity"
)

func TestSortFacesByOutlierScore(t *testing.T) {
	f := newFixture(t)
	id := f.add("p", []float32{0, 0}, []float32{0, 1})
	f.store.Put("stray", embedding.Record{Mean: []float32{10, 0}})
	if _, err := f.reg.AddCandidates(context.Background(), id, []string{"stray"}, "test"); err != nil {
		t.Fatal(err)
	}

	got := SortFacesByOutlierScore(id, f.reg, f.store)

	want := []FaceOutlier{
		{FaceID: "stray", Distance: 100.25, IsAnchor: false},
		{FaceID: "p_f1", Distance: 26, IsAnchor: true},
		{FaceID: "p_f0", Distance: 25.25, IsAnchor: true},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d faces, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestSortFacesByOutlierScore_TooFewEmbeddings(t *testing.T) {
	f := newFixture(t)
	single := f.add("single", []float32{0, 0})
	partial, err := f.reg.CreateIdentity(context.Background(), []string{"known", "unknown"}, "test", identity.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	f.store.Put("known", embedding.Record{Mean: []float32{1, 1}})

	if got := SortFacesByOutlierScore(single, f.reg, f.store); len(got) != 0 {
		t.Errorf("expected empty result for one face, got %+v", got)
	}
	if got := SortFacesByOutlierScore(partial, f.reg, f.store); len(got) != 0 {
		t.Errorf("expected empty result for one resolvable embedding, got %+v", got)
	}
	if got := SortFacesByOutlierScore("ghost", f.reg, f.store); got != nil {
		t.Errorf("expected nil for unknown identity, got %+v", got)
	}
}
