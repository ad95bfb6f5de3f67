package mergecheck

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/metrics"
	"github.com/NolanFox/rhodesli/internal/photo"
)

type fakeIdentities struct {
	faces    map[string][]string
	rejected map[[2]string]bool
}

func (f *fakeIdentities) MemberFaceIDs(id string) ([]string, bool) {
	faces, ok := f.faces[id]
	return faces, ok
}

func (f *fakeIdentities) IsIdentityRejected(a, b string) bool {
	return f.rejected[[2]string{a, b}]
}

func newPhotos(t *testing.T, faces map[string][]string) *photo.Registry {
	t.Helper()
	r := photo.NewRegistry(database.NewMemoryBackend())
	for photoID, ids := range faces {
		for _, f := range ids {
			if err := r.RegisterFace(photoID, photoID+".jpg", f, "", ""); err != nil {
				t.Fatalf("RegisterFace failed: %v", err)
			}
		}
	}
	return r
}

func TestValidate(t *testing.T) {
	photos := newPhotos(t, map[string][]string{
		"photo_1": {"f1", "f3"},
		"photo_2": {"f2"},
		"photo_3": {"f4"},
	})

	tests := []struct {
		name       string
		identities *fakeIdentities
		wantOK     bool
		wantReason string
	}{
		{
			name: "co-occurring faces",
			identities: &fakeIdentities{faces: map[string][]string{
				"A": {"f1", "f2"}, "B": {"f3"},
			}},
			wantReason: ReasonCoOccurrence,
		},
		{
			name: "candidate face co-occurs",
			identities: &fakeIdentities{faces: map[string][]string{
				"A": {"f2", "f1"}, "B": {"f4", "f3"},
			}},
			wantReason: ReasonCoOccurrence,
		},
		{
			name: "disjoint photos",
			identities: &fakeIdentities{faces: map[string][]string{
				"A": {"f2"}, "B": {"f3"},
			}},
			wantOK:     true,
			wantReason: ReasonOK,
		},
		{
			name: "rejected pair",
			identities: &fakeIdentities{
				faces:    map[string][]string{"A": {"f2"}, "B": {"f4"}},
				rejected: map[[2]string]bool{{"A", "B"}: true},
			},
			wantReason: ReasonRejected,
		},
		{
			name: "unknown identity",
			identities: &fakeIdentities{faces: map[string][]string{
				"A": {"f2"},
			}},
			wantReason: ReasonNotFound,
		},
		{
			name: "faces without photos",
			identities: &fakeIdentities{faces: map[string][]string{
				"A": {"unregistered"}, "B": {},
			}},
			wantOK:     true,
			wantReason: ReasonOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Validate("A", "B", tt.identities, photos)
			if ok != tt.wantOK || reason != tt.wantReason {
				t.Errorf("Validate(A, B) = (%v, %q), want (%v, %q)", ok, reason, tt.wantOK, tt.wantReason)
			}

			// Symmetric
			ok, reason = Validate("B", "A", tt.identities, photos)
			if ok != tt.wantOK || reason != tt.wantReason {
				t.Errorf("Validate(B, A) = (%v, %q), want (%v, %q)", ok, reason, tt.wantOK, tt.wantReason)
			}
		})
	}
}

func TestValidate_SameIdentity(t *testing.T) {
	ids := &fakeIdentities{faces: map[string][]string{"A": {"f1"}}}
	if ok, reason := Validate("A", "A", ids, newPhotos(t, nil)); ok || reason != ReasonSameIdentity {
		t.Errorf("expected (false, %q), got (%v, %q)", ReasonSameIdentity, ok, reason)
	}
}

func TestValidate_LogsCoOccurrenceWarning(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	v := New(zap.New(core))

	photos := newPhotos(t, map[string][]string{"photo_1": {"f1", "f3"}})
	ids := &fakeIdentities{faces: map[string][]string{"A": {"f1"}, "B": {"f3"}}}

	if ok, _ := v.Validate("A", "B", ids, photos); ok {
		t.Fatal("expected merge to be blocked")
	}

	records := observed.FilterLevelExact(zapcore.WarnLevel).All()
	if len(records) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(records))
	}
	fields := records[0].ContextMap()
	if fields["identity_a"] != "A" || fields["identity_b"] != "B" {
		t.Errorf("expected both identity ids in log fields, got %v", fields)
	}
}

func TestValidate_CountsBlocksByCaller(t *testing.T) {
	ids := &fakeIdentities{
		faces:    map[string][]string{"A": {"f1"}, "B": {"f2"}},
		rejected: map[[2]string]bool{{"A", "B"}: true},
	}
	photos := newPhotos(t, nil)

	merge := metrics.MergeBlocksTotal.WithLabelValues(CallerMerge, ReasonRejected)
	neighbors := metrics.MergeBlocksTotal.WithLabelValues(CallerNeighbors, ReasonRejected)
	mergeBefore, neighborsBefore := testutil.ToFloat64(merge), testutil.ToFloat64(neighbors)

	New(nil, WithCaller(CallerNeighbors)).Validate("A", "B", ids, photos)
	New(nil, WithCaller(CallerNeighbors)).Validate("B", "A", ids, photos)
	New(nil, WithCaller(CallerMerge)).Validate("A", "B", ids, photos)

	if got := testutil.ToFloat64(merge) - mergeBefore; got != 1 {
		t.Errorf("expected 1 merge block, got %v", got)
	}
	if got := testutil.ToFloat64(neighbors) - neighborsBefore; got != 2 {
		t.Errorf("expected 2 neighbor blocks, got %v", got)
	}
}

func TestSharedPhotos(t *testing.T) {
	got := SharedPhotos([]string{"p1", "p2", "p3"}, []string{"p3", "p1"})
	if len(got) != 2 || got[0] != "p1" || got[1] != "p3" {
		t.Errorf("expected [p1 p3], got %v", got)
	}
	if SharedPhotos(nil, []string{"p1"}) != nil {
		t.Error("expected nil for empty input")
	}
}
