package matching

import (
	"cmp"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/embedding"
)

// FaceOwners maps faces to their live identity.
type FaceOwners interface {
	IdentityForFace(faceID string) (string, bool)
}

// Suggestion is a candidate identity for a single face.
type Suggestion struct {
	IdentityID  string  `json:"identity_id"`
	Name        string  `json:"name,omitempty"`
	Distance    float64 `json:"distance"`
	Tier        string  `json:"tier"`
	MatchFaceID string  `json:"match_face_id"`
}

// FaceIndex is an approximate nearest-neighbor index over the anchor
// embeddings of live identities, used to triage unassigned faces.
type FaceIndex struct {
	index  *database.HNSWIndex
	logger *zap.Logger
}

// BuildFaceIndex indexes the anchor embeddings of every live identity.
func BuildFaceIndex(identities Identities, store embedding.Store, logger *zap.Logger) *FaceIndex {
	if logger == nil {
		logger = zap.NewNop()
	}

	idx := database.NewHNSWIndex()
	idx.Build(anchorFaces(identities, store))
	logger.Info("face index built", zap.Int("faces", idx.Count()))
	return &FaceIndex{index: idx, logger: logger}
}

// anchorFaces collects the anchors of live identities that have an embedding.
func anchorFaces(identities Identities, store embedding.Store) []database.IndexedFace {
	var faces []database.IndexedFace
	for _, id := range identities.LiveIdentityIDs() {
		ident, ok := identities.Identity(id)
		if !ok {
			continue
		}
		ids, vecs := embedding.Means(store, ident.AnchorIDs)
		for i := range ids {
			faces = append(faces, database.IndexedFace{FaceID: ids[i], IdentityID: id, Embedding: vecs[i]})
		}
	}
	return faces
}

// Stale reports whether the indexed faces or their owners no longer match the
// anchors of the live identities. A loaded cache that is stale must be rebuilt.
func (f *FaceIndex) Stale(identities Identities, store embedding.Store) bool {
	want := anchorFaces(identities, store)
	if len(want) != f.index.Count() {
		f.logger.Debug("face index stale", zap.Int("indexed", f.index.Count()), zap.Int("anchors", len(want)))
		return true
	}
	for _, face := range want {
		if owner, ok := f.index.Owner(face.FaceID); !ok || owner != face.IdentityID {
			f.logger.Debug("face index stale", zap.String("face_id", face.FaceID),
				zap.String("indexed_owner", owner), zap.String("owner", face.IdentityID))
			return true
		}
	}
	return false
}

// LoadFaceIndex loads an index saved with Save.
func LoadFaceIndex(path string, logger *zap.Logger) (*FaceIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := database.NewHNSWIndex()
	if err := idx.LoadWithMetadata(path); err != nil {
		return nil, fmt.Errorf("load face index: %w", err)
	}
	logger.Info("face index loaded", zap.String("path", path), zap.Int("faces", idx.Count()))
	return &FaceIndex{index: idx, logger: logger}, nil
}

// Save persists the index graph and owner map.
func (f *FaceIndex) Save(path string) error {
	return f.index.SaveWithMetadata(path)
}

// Len returns the number of indexed faces.
func (f *FaceIndex) Len() int {
	return f.index.Count()
}

// SuggestIdentitiesForFace returns up to k distinct live identities nearest
// to the face, excluding its current owner, identities that rejected the face
// and identities the owner was rejected against.
func (e *Engine) SuggestIdentitiesForFace(index *FaceIndex, faceID string, identities Identities, owners FaceOwners, store embedding.Store, k int) ([]Suggestion, error) {
	rec, ok := store.Lookup(faceID)
	if !ok || len(rec.Mean) == 0 {
		return nil, fmt.Errorf("no embedding for face %s", faceID)
	}
	if k <= 0 || index.index.IsEmpty() {
		return []Suggestion{}, nil
	}

	owner, _ := owners.IdentityForFace(faceID)

	hits, err := index.index.Search(rec.Mean, k*database.HNSWSearchMultiplier)
	if err != nil {
		return nil, fmt.Errorf("search face index: %w", err)
	}
	slices.SortFunc(hits, func(a, b database.Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.FaceID, b.FaceID)
	})

	seen := make(map[string]bool)
	out := make([]Suggestion, 0, k)
	for _, hit := range hits {
		if len(out) >= k {
			break
		}
		if hit.FaceID == faceID {
			continue
		}
		// The index may predate the last registry change; the live owner wins.
		hitOwner, ok := owners.IdentityForFace(hit.FaceID)
		if !ok {
			continue
		}
		if hitOwner == owner || seen[hitOwner] {
			continue
		}
		seen[hitOwner] = true

		ident, ok := identities.Identity(hitOwner)
		if !ok || ident.IsTombstone() {
			continue
		}
		if slices.Contains(ident.NegativeIDs, faceID) {
			continue
		}
		if owner != "" && identities.IsIdentityRejected(owner, hitOwner) {
			continue
		}

		out = append(out, Suggestion{
			IdentityID:  hitOwner,
			Name:        ident.Name,
			Distance:    hit.Distance,
			Tier:        e.Tier(hit.Distance),
			MatchFaceID: hit.FaceID,
		})
	}
	return out, nil
}
