// Package photo maintains photo↔face membership, the ground truth for
// co-occurrence between detected faces.
package photo

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrFaceInOtherPhoto is returned when a face ID is registered against a second photo.
	ErrFaceInOtherPhoto = errors.New("face already registered to another photo")
	// ErrInvalidInput is returned for empty photo or face IDs.
	ErrInvalidInput = errors.New("photo ID and face ID are required")
)

// Photo metadata keys accepted by SetMetadata.
const (
	MetaSourceURL    = "source_url"
	MetaDateTaken    = "date_taken"
	MetaLocation     = "location"
	MetaCaption      = "caption"
	MetaDonor        = "donor"
	MetaPhotographer = "photographer"
	MetaSource       = "source"
	MetaCollection   = "collection"
)

// Photo is a single archive photo and the faces detected in it.
type Photo struct {
	ID           string
	Path         string // metadata only, never used as identity
	FaceIDs      []string
	Source       string
	Collection   string
	SourceURL    string
	Width        int
	Height       int
	DateTaken    string
	Location     string
	Caption      string
	Donor        string
	Photographer string
}

// photoNamespace scopes derived photo IDs.
var photoNamespace = uuid.MustParse("6f1c0a52-3c9e-4f0e-9d55-2b8f4e7a1d10")

// DeriveID derives a stable photo ID from the photo's source and file name.
// The directory is ignored so relocating the archive keeps IDs stable.
func DeriveID(source, path string) string {
	name := strings.ToLower(filepath.Base(path))
	return uuid.NewSHA1(photoNamespace, []byte(source+"\x00"+name)).String()
}

// entry is the mutable registry representation of a photo.
type entry struct {
	Photo
	faces map[string]struct{}
}

func (e *entry) snapshot() Photo {
	p := e.Photo
	p.FaceIDs = sortedKeys(e.faces)
	return p
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
