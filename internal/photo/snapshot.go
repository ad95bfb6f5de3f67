package photo

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/NolanFox/rhodesli/internal/database"
)

const schemaVersion = 1

// SnapshotError is returned when the photo index snapshot fails validation.
type SnapshotError = database.SnapshotError

type photoRecord struct {
	Path         *string  `json:"path"`
	FaceIDs      []string `json:"face_ids"`
	Source       string   `json:"source"`
	Collection   string   `json:"collection"`
	SourceURL    string   `json:"source_url"`
	Width        int      `json:"width,omitempty"`
	Height       int      `json:"height,omitempty"`
	DateTaken    string   `json:"date_taken,omitempty"`
	Location     string   `json:"location,omitempty"`
	Caption      string   `json:"caption,omitempty"`
	Donor        string   `json:"donor,omitempty"`
	Photographer string   `json:"photographer,omitempty"`
}

type snapshotDocument struct {
	SchemaVersion int                    `json:"schema_version"`
	Photos        map[string]photoRecord `json:"photos"`
	FaceToPhoto   map[string]string      `json:"face_to_photo"`
}

func snapshotErr(key string, err error) error {
	return &SnapshotError{Snapshot: database.SnapshotPhotoIndex, Key: key, Err: err}
}

func encodeSnapshot(photos map[string]*entry, faceToPhoto map[string]string) ([]byte, error) {
	doc := snapshotDocument{
		SchemaVersion: schemaVersion,
		Photos:        make(map[string]photoRecord, len(photos)),
		FaceToPhoto:   make(map[string]string, len(faceToPhoto)),
	}

	for id, e := range photos {
		if e.Path == "" {
			return nil, snapshotErr(id, errors.New("photo has no path"))
		}
		if len(e.faces) == 0 {
			return nil, snapshotErr(id, errors.New("photo has no faces"))
		}
		for f := range e.faces {
			if faceToPhoto[f] != id {
				return nil, snapshotErr(id, fmt.Errorf("face %s is not indexed to this photo", f))
			}
		}
		path := e.Path
		doc.Photos[id] = photoRecord{
			Path:         &path,
			FaceIDs:      sortedKeys(e.faces),
			Source:       e.Source,
			Collection:   e.Collection,
			SourceURL:    e.SourceURL,
			Width:        e.Width,
			Height:       e.Height,
			DateTaken:    e.DateTaken,
			Location:     e.Location,
			Caption:      e.Caption,
			Donor:        e.Donor,
			Photographer: e.Photographer,
		}
	}
	for f, id := range faceToPhoto {
		if _, ok := photos[id]; !ok {
			return nil, snapshotErr(f, fmt.Errorf("face maps to unknown photo %s", id))
		}
		doc.FaceToPhoto[f] = id
	}

	// encoding/json sorts map keys, face ID slices are sorted above.
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode photo index: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (map[string]*entry, map[string]string, error) {
	top, err := database.DecodeEnvelope(database.SnapshotPhotoIndex, data, schemaVersion, "photos", "face_to_photo")
	if err != nil {
		return nil, nil, err
	}

	var records map[string]photoRecord
	if err := json.Unmarshal(top["photos"], &records); err != nil {
		return nil, nil, snapshotErr("photos", err)
	}
	var faceToPhoto map[string]string
	if err := json.Unmarshal(top["face_to_photo"], &faceToPhoto); err != nil {
		return nil, nil, snapshotErr("face_to_photo", err)
	}
	if faceToPhoto == nil {
		faceToPhoto = make(map[string]string)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	photos := make(map[string]*entry, len(records))
	for _, id := range ids {
		rec := records[id]
		if rec.Path == nil {
			return nil, nil, snapshotErr(id+".path", errors.New("missing required key"))
		}
		if rec.FaceIDs == nil {
			return nil, nil, snapshotErr(id+".face_ids", errors.New("missing required key"))
		}
		e := &entry{
			Photo: Photo{
				ID:           id,
				Path:         *rec.Path,
				Source:       rec.Source,
				Collection:   rec.Collection,
				SourceURL:    rec.SourceURL,
				Width:        rec.Width,
				Height:       rec.Height,
				DateTaken:    rec.DateTaken,
				Location:     rec.Location,
				Caption:      rec.Caption,
				Donor:        rec.Donor,
				Photographer: rec.Photographer,
			},
			faces: make(map[string]struct{}, len(rec.FaceIDs)),
		}
		for _, f := range rec.FaceIDs {
			if owner, ok := faceToPhoto[f]; ok && owner != id {
				return nil, nil, snapshotErr(id, fmt.Errorf("face %s also indexed to photo %s", f, owner))
			}
			e.faces[f] = struct{}{}
			faceToPhoto[f] = id
		}
		photos[id] = e
	}

	for f, id := range faceToPhoto {
		e, ok := photos[id]
		if !ok {
			return nil, nil, snapshotErr("face_to_photo."+f, fmt.Errorf("unknown photo %s", id))
		}
		if _, listed := e.faces[f]; !listed {
			return nil, nil, snapshotErr("face_to_photo."+f, fmt.Errorf("face not listed in photo %s", id))
		}
	}
	return photos, faceToPhoto, nil
}
