package embedding

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const fileSchemaVersion = 1

type fileRecord struct {
	FaceID      string    `json:"face_id"`
	Mean        []float32 `json:"mean"`
	Uncertainty []float32 `json:"uncertainty"`
	Quality     float64   `json:"quality"`
}

type fileDocument struct {
	SchemaVersion int          `json:"schema_version"`
	Faces         []fileRecord `json:"faces"`
}

// LoadJSONFile loads an embeddings artifact written by the detection pipeline.
func LoadJSONFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("read embeddings file: %w", err)
	}
	return ParseJSON(data)
}

// ParseJSON decodes an embeddings artifact into a MemoryStore.
func ParseJSON(data []byte) (*MemoryStore, error) {
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	if doc.SchemaVersion != fileSchemaVersion {
		return nil, fmt.Errorf("unsupported embeddings schema version %d", doc.SchemaVersion)
	}

	store := NewMemoryStore()
	for i, r := range doc.Faces {
		if r.FaceID == "" {
			return nil, fmt.Errorf("embedding record %d: %w", i, errors.New("missing face_id"))
		}
		store.Put(r.FaceID, Record{Mean: r.Mean, Uncertainty: r.Uncertainty, Quality: r.Quality})
	}
	return store, nil
}
