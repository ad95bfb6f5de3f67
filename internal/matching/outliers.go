package matching

import (
	"sort"

	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/embedding"
)

// FaceOutlier is a member face scored by how far it sits from the rest of
// its identity.
type FaceOutlier struct {
	FaceID   string  `json:"face_id"`
	Distance float64 `json:"distance"`
	IsAnchor bool    `json:"is_anchor"`
}

// SortFacesByOutlierScore scores each member face of an identity by the squared
// Euclidean distance from its embedding to the centroid of all other member
// faces, most distant first. Identities with fewer than two resolvable
// embeddings return nothing.
func SortFacesByOutlierScore(identityID string, identities Identities, store embedding.Store) []FaceOutlier {
	ident, ok := identities.Identity(identityID)
	if !ok || ident.IsTombstone() {
		return nil
	}

	anchors := make(map[string]bool, len(ident.AnchorIDs))
	for _, f := range ident.AnchorIDs {
		anchors[f] = true
	}

	faces, vecs := embedding.Means(store, ident.MemberFaceIDs())
	if len(vecs) < 2 {
		return nil
	}

	out := make([]FaceOutlier, 0, len(faces))
	others := make([][]float32, 0, len(vecs)-1)
	for i, v := range vecs {
		others = others[:0]
		others = append(others, vecs[:i]...)
		others = append(others, vecs[i+1:]...)

		centroid := database.Centroid(others)
		d := database.SquaredEuclideanDistance(v, centroid)
		if d < 0 {
			continue
		}
		out = append(out, FaceOutlier{FaceID: faces[i], Distance: d, IsAnchor: anchors[faces[i]]})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance > out[j].Distance
		}
		return out[i].FaceID < out[j].FaceID
	})
	return out
}
