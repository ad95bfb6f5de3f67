package photo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/NolanFox/rhodesli/internal/database"
)

func newTestRegistry(t *testing.T) (*Registry, *database.MemoryBackend) {
	t.Helper()
	backend := database.NewMemoryBackend()
	return NewRegistry(backend), backend
}

func mustRegister(t *testing.T, r *Registry, photoID, faceID string) {
	t.Helper()
	if err := r.RegisterFace(photoID, photoID+".jpg", faceID, "archive", "family"); err != nil {
		t.Fatalf("RegisterFace(%s, %s) failed: %v", photoID, faceID, err)
	}
}

func TestRegisterFace_Idempotent(t *testing.T) {
	r, _ := newTestRegistry(t)

	mustRegister(t, r, "p1", "f1")
	mustRegister(t, r, "p1", "f1")
	mustRegister(t, r, "p1", "f2")

	if r.Len() != 1 {
		t.Fatalf("expected 1 photo, got %d", r.Len())
	}
	if got := r.FacesInPhoto("p1"); !reflect.DeepEqual(got, []string{"f1", "f2"}) {
		t.Errorf("expected [f1 f2], got %v", got)
	}
	if id, ok := r.PhotoForFace("f2"); !ok || id != "p1" {
		t.Errorf("expected f2 in p1, got %q (%v)", id, ok)
	}
}

func TestRegisterFace_FaceInOtherPhoto(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, "p1", "f1")

	err := r.RegisterFace("p2", "p2.jpg", "f1", "", "")
	if !errors.Is(err, ErrFaceInOtherPhoto) {
		t.Fatalf("expected ErrFaceInOtherPhoto, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("expected failed registration to create no photo, got %d photos", r.Len())
	}
}

func TestRegisterFace_EmptyIDs(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.RegisterFace("", "x.jpg", "f1", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := r.RegisterFace("p1", "x.jpg", "", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPhotosForFaces(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, "p2", "f3")
	mustRegister(t, r, "p1", "f1")
	mustRegister(t, r, "p1", "f2")

	got := r.PhotosForFaces([]string{"f3", "f1", "f2", "unknown"})
	if !reflect.DeepEqual(got, []string{"p1", "p2"}) {
		t.Errorf("expected [p1 p2], got %v", got)
	}
	if got := r.PhotosForFaces(nil); len(got) != 0 {
		t.Errorf("expected no photos for no faces, got %v", got)
	}
}

func TestNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	if faces := r.FacesInPhoto("missing"); faces != nil {
		t.Errorf("expected nil faces, got %v", faces)
	}
	if _, ok := r.PhotoForFace("missing"); ok {
		t.Error("expected unknown face")
	}
	if _, ok := r.Photo("missing"); ok {
		t.Error("expected unknown photo")
	}
	if _, ok := r.SetMetadata("missing", map[string]string{MetaCaption: "x"}); ok {
		t.Error("expected SetMetadata to report unknown photo")
	}
}

func TestSetMetadata_AllowList(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, "p1", "f1")

	applied, ok := r.SetMetadata("p1", map[string]string{
		MetaCaption:   "Wedding, Rhodes 1931",
		MetaSourceURL: "https://example.org/p1",
		"path":        "/etc/passwd",
		"favorite":    "yes",
	})
	if !ok {
		t.Fatal("expected photo to exist")
	}
	if applied != 2 {
		t.Errorf("expected 2 applied keys, got %d", applied)
	}

	p, _ := r.Photo("p1")
	if p.Caption != "Wedding, Rhodes 1931" || p.SourceURL != "https://example.org/p1" {
		t.Errorf("metadata not applied: %+v", p)
	}
	if p.Path != "p1.jpg" {
		t.Errorf("path must not be writable through metadata, got %q", p.Path)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r, backend := newTestRegistry(t)
	mustRegister(t, r, "p1", "f2")
	mustRegister(t, r, "p1", "f1")
	mustRegister(t, r, "p2", "f3")
	r.SetMetadata("p1", map[string]string{MetaDonor: "Levy family", MetaLocation: "Rhodes"})
	r.SetDimensions("p2", 640, 480)

	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := NewRegistry(backend)
	if err := loaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, id := range r.PhotoIDs() {
		want, _ := r.Photo(id)
		got, ok := loaded.Photo(id)
		if !ok {
			t.Fatalf("photo %s missing after load", id)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("photo %s mismatch:\n got %+v\nwant %+v", id, got, want)
		}
	}
	if loaded.FaceCount() != 3 {
		t.Errorf("expected 3 faces, got %d", loaded.FaceCount())
	}
}

func TestSave_Deterministic(t *testing.T) {
	ctx := context.Background()
	r, backend := newTestRegistry(t)
	for _, f := range []string{"f9", "f1", "f5"} {
		mustRegister(t, r, "p1", f)
	}
	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first, _ := backend.ReadSnapshot(ctx, database.SnapshotPhotoIndex)

	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, _ := backend.ReadSnapshot(ctx, database.SnapshotPhotoIndex)

	if string(first) != string(second) {
		t.Error("expected identical snapshots for identical state")
	}

	var doc struct {
		Photos map[string]struct {
			FaceIDs []string `json:"face_ids"`
		} `json:"photos"`
	}
	if err := json.Unmarshal(first, &doc); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !reflect.DeepEqual(doc.Photos["p1"].FaceIDs, []string{"f1", "f5", "f9"}) {
		t.Errorf("expected sorted face IDs, got %v", doc.Photos["p1"].FaceIDs)
	}
}

func TestSave_RejectsPhotoWithoutPath(t *testing.T) {
	r, backend := newTestRegistry(t)
	if err := r.RegisterFace("p1", "", "f1", "", ""); err != nil {
		t.Fatalf("RegisterFace failed: %v", err)
	}

	err := r.Save(context.Background())
	if !errors.Is(err, database.ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
	if _, err := backend.ReadSnapshot(context.Background(), database.SnapshotPhotoIndex); !errors.Is(err, database.ErrSnapshotNotFound) {
		t.Error("expected nothing to be written")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantKey string
	}{
		{name: "malformed", data: `{"schema_version": 1, "photos": {`},
		{name: "missing photos", data: `{"schema_version":1,"face_to_photo":{}}`, wantKey: "photos"},
		{name: "missing face_to_photo", data: `{"schema_version":1,"photos":{}}`, wantKey: "face_to_photo"},
		{name: "wrong version", data: `{"schema_version":0,"photos":{},"face_to_photo":{}}`, wantKey: "schema_version"},
		{name: "photo without path", data: `{"schema_version":1,"photos":{"p1":{"face_ids":["f1"]}},"face_to_photo":{"f1":"p1"}}`, wantKey: "p1.path"},
		{name: "photo without faces", data: `{"schema_version":1,"photos":{"p1":{"path":"a.jpg"}},"face_to_photo":{}}`, wantKey: "p1.face_ids"},
		{name: "dangling face", data: `{"schema_version":1,"photos":{},"face_to_photo":{"f1":"p9"}}`, wantKey: "face_to_photo.f1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := database.NewMemoryBackend()
			if err := backend.WriteSnapshot(ctx, database.SnapshotPhotoIndex, []byte(tt.data)); err != nil {
				t.Fatalf("seed snapshot: %v", err)
			}

			r := NewRegistry(backend)
			mustRegister(t, r, "keep", "k1")

			err := r.Load(ctx)
			if err == nil {
				t.Fatal("expected load error")
			}
			if !errors.Is(err, database.ErrInvalidSnapshot) {
				t.Errorf("expected ErrInvalidSnapshot, got %v", err)
			}
			if errors.Unwrap(err) == nil {
				t.Error("expected chained cause")
			}
			if tt.wantKey != "" && !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("expected error to reference %q, got %v", tt.wantKey, err)
			}
			if r.Len() != 1 {
				t.Error("failed load must leave registry untouched")
			}
		})
	}
}

func TestLoadOrEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.LoadOrEmpty(context.Background()); err != nil {
		t.Fatalf("expected missing snapshot to start empty, got %v", err)
	}

	if err := r.Load(context.Background()); !errors.Is(err, database.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound from Load, got %v", err)
	}
}

func TestDeriveID(t *testing.T) {
	a := DeriveID("archive", "/old/mount/scan_001.JPG")
	b := DeriveID("archive", "/new/mount/scan_001.jpg")
	c := DeriveID("donation", "/new/mount/scan_001.jpg")

	if a != b {
		t.Errorf("expected relocated photo to keep ID, got %s and %s", a, b)
	}
	if a == c {
		t.Error("expected different sources to derive different IDs")
	}
	if strings.Contains(a, "scan_001") {
		t.Errorf("photo ID must not embed the path: %s", a)
	}
}

func TestTypedSetters(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, "p1", "f1")

	if !r.SetSource("p1", "donation", "cohen-family") {
		t.Fatal("expected SetSource to succeed")
	}
	if !r.SetSourceURL("p1", "https://example.org/p1") {
		t.Fatal("expected SetSourceURL to succeed")
	}
	if r.SetSource("missing", "x", "y") {
		t.Error("expected SetSource on unknown photo to fail")
	}

	p, _ := r.Photo("p1")
	if p.Source != "donation" || p.Collection != "cohen-family" || p.SourceURL != "https://example.org/p1" {
		t.Errorf("unexpected photo %+v", p)
	}
}

func TestRegistry_ReadsDuringWrites(t *testing.T) {
	r, _ := newTestRegistry(t)

	done := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-done:
				return
			default:
			}
			r.PhotosForFaces([]string{"f0", "f1", "f2"})
			r.PhotoForFace("f1")
			r.FacesInPhoto("p0")
			r.PhotoIDs()
			r.FaceCount()
		}
	}()

	for i := range 200 {
		photoID := fmt.Sprintf("p%d", i%30)
		if err := r.RegisterFace(photoID, photoID+".jpg", fmt.Sprintf("f%d", i), "archive", ""); err != nil {
			t.Fatalf("RegisterFace failed: %v", err)
		}
		r.SetDimensions(photoID, 100+i, 100)
	}
	if err := r.Save(context.Background()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	close(done)
	<-readerDone

	if r.FaceCount() != 200 {
		t.Errorf("expected 200 faces, got %d", r.FaceCount())
	}
}
