package cmd

import (
	"errors"
	"testing"

	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/photo"
)

func TestRegisterManifestPhoto(t *testing.T) {
	photos := photo.NewRegistry(database.NewMemoryBackend())

	id, faces, err := registerManifestPhoto(photos, ManifestPhoto{
		Path:     "scans/1931_wedding.jpg",
		Source:   "Capeluto Family",
		FaceIDs:  []string{"f_0192", "f_0193"},
		Width:    2400,
		Height:   1800,
		Metadata: map[string]string{photo.MetaDateTaken: "1931", "unknown": "x"},
	})
	if err != nil {
		t.Fatalf("registerManifestPhoto failed: %v", err)
	}
	if id != photo.DeriveID("Capeluto Family", "scans/1931_wedding.jpg") {
		t.Errorf("expected derived photo ID, got %s", id)
	}
	if faces != 2 {
		t.Errorf("expected 2 faces, got %d", faces)
	}

	p, ok := photos.Photo(id)
	if !ok {
		t.Fatal("photo not registered")
	}
	if p.Width != 2400 || p.Height != 1800 {
		t.Errorf("expected 2400x1800, got %dx%d", p.Width, p.Height)
	}
	if p.DateTaken != "1931" {
		t.Errorf("expected date taken 1931, got %q", p.DateTaken)
	}
}

func TestRegisterManifestPhoto_Errors(t *testing.T) {
	photos := photo.NewRegistry(database.NewMemoryBackend())
	if _, _, err := registerManifestPhoto(photos, ManifestPhoto{PhotoID: "p1", FaceIDs: []string{"f1"}}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	tests := []struct {
		name      string
		manifest  ManifestPhoto
		wantFaces int
		wantErr   error
	}{
		{name: "no faces", manifest: ManifestPhoto{PhotoID: "p2"}},
		{name: "no id or path", manifest: ManifestPhoto{FaceIDs: []string{"f2"}}},
		{
			name:     "face in other photo",
			manifest: ManifestPhoto{PhotoID: "p2", FaceIDs: []string{"f1"}},
			wantErr:  photo.ErrFaceInOtherPhoto,
		},
		{
			name:      "partial",
			manifest:  ManifestPhoto{PhotoID: "p3", FaceIDs: []string{"f1", "f3"}},
			wantFaces: 1,
			wantErr:   photo.ErrFaceInOtherPhoto,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, faces, err := registerManifestPhoto(photos, tt.manifest)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if faces != tt.wantFaces {
				t.Errorf("expected %d faces, got %d", tt.wantFaces, faces)
			}
		})
	}
}
