package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	FaceCount int               `json:"face_count"`
	BuildTime time.Time         `json:"build_time"`
	Version   int               `json:"version"` // For future compatibility
	Owners    map[string]string `json:"owners"`  // face ID -> identity ID
}

const hnswMetadataVersion = 1

// IndexedFace is a face embedding together with the identity that owns it.
type IndexedFace struct {
	FaceID     string
	IdentityID string
	Embedding  []float32
}

// HNSWIndex wraps the HNSW graph for approximate face-to-face search.
// Distances are squared Euclidean, matching the exact neighbor ranking.
type HNSWIndex struct {
	graph      *hnsw.Graph[string]
	savedGraph *hnsw.SavedGraph[string] // For persistence
	owners     map[string]string        // face ID -> identity ID
	mu         sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		owners: make(map[string]string),
	}
}

func newFaceGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index contents with faces.
func (h *HNSWIndex) Build(faces []IndexedFace) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.savedGraph = nil
	h.owners = make(map[string]string, len(faces))
	if len(faces) == 0 {
		h.graph = nil
		return
	}

	g := newFaceGraph()
	for _, face := range faces {
		if len(face.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(face.FaceID, face.Embedding))
		h.owners[face.FaceID] = face.IdentityID
	}
	h.graph = g
}

// Neighbor is a single approximate search hit.
type Neighbor struct {
	FaceID     string
	IdentityID string
	Distance   float64
}

// Search finds the k nearest indexed faces to the query embedding.
// Faces whose owner has been removed are skipped.
func (h *HNSWIndex) Search(query []float32, k int) ([]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, errors.New("index not initialized")
	}
	if k <= 0 || len(h.owners) == 0 {
		return nil, nil
	}

	var nodes []hnsw.Node[string]
	if h.savedGraph != nil {
		nodes = h.savedGraph.Search(query, k)
	} else {
		nodes = h.graph.Search(query, k)
	}

	results := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		owner, ok := h.owners[n.Key]
		if !ok {
			continue
		}
		results = append(results, Neighbor{
			FaceID:     n.Key,
			IdentityID: owner,
			Distance:   SquaredEuclideanDistance(query, n.Value),
		})
	}
	return results, nil
}

// Owner returns the identity that owns an indexed face.
func (h *HNSWIndex) Owner(faceID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	owner, ok := h.owners[faceID]
	return owner, ok
}

// Count returns the number of indexed faces.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// SaveWithMetadata persists the graph to path and the owner map to path.meta.
func (h *HNSWIndex) SaveWithMetadata(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	graph := h.graph
	if graph == nil && h.savedGraph != nil {
		graph = h.savedGraph.Graph
	}
	if graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	metadata := HNSWIndexMetadata{
		FaceCount: len(h.owners),
		BuildTime: time.Now().UTC(),
		Version:   hnswMetadataVersion,
		Owners:    h.owners,
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata.Version != hnswMetadataVersion {
		return metadata, fmt.Errorf("unsupported HNSW metadata version %d", metadata.Version)
	}

	return metadata, nil
}

// LoadWithMetadata loads both the HNSW graph and owner map from disk.
func (h *HNSWIndex) LoadWithMetadata(path string) error {
	metadata, err := LoadHNSWMetadata(path)
	if err != nil {
		return err
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = nil
	h.savedGraph = saved
	h.owners = metadata.Owners
	if h.owners == nil {
		h.owners = make(map[string]string)
	}
	return nil
}
