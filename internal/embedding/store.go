// Package embedding provides read-only access to probabilistic face embeddings
// produced by the external detection pipeline.
package embedding

import "sync"

// Record is the immutable embedding of a single detected face.
type Record struct {
	Mean        []float32 // mean vector
	Uncertainty []float32 // per-dimension variance
	Quality     float64   // detection/embedding quality score
}

// Store maps face IDs to embeddings. Implementations are read-only from the
// engine's perspective.
type Store interface {
	// Lookup returns the embedding for a face, false if it is unknown.
	Lookup(faceID string) (Record, bool)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put adds or replaces the embedding for a face. Used when loading the store.
func (s *MemoryStore) Put(faceID string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[faceID] = rec
}

// Lookup returns the embedding for a face.
func (s *MemoryStore) Lookup(faceID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[faceID]
	return rec, ok
}

// Len returns the number of stored embeddings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Means resolves the mean vectors of the given faces, skipping faces without
// a usable embedding. The returned face IDs are aligned with the vectors.
func Means(store Store, faceIDs []string) ([]string, [][]float32) {
	ids := make([]string, 0, len(faceIDs))
	vecs := make([][]float32, 0, len(faceIDs))
	for _, id := range faceIDs {
		rec, ok := store.Lookup(id)
		if !ok || len(rec.Mean) == 0 {
			continue
		}
		ids = append(ids, id)
		vecs = append(vecs, rec.Mean)
	}
	return ids, vecs
}
