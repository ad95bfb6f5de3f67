// Package matching ranks identities by face embedding similarity and surfaces
// faces that look out of place within their own identity.
package matching

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/NolanFox/rhodesli/internal/config"
	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/embedding"
	"github.com/NolanFox/rhodesli/internal/identity"
	"github.com/NolanFox/rhodesli/internal/mergecheck"
	"github.com/NolanFox/rhodesli/internal/metrics"
)

// Confidence tier labels.
const (
	TierVeryHigh = "VERY HIGH"
	TierHigh     = "HIGH"
	TierModerate = "MODERATE"
	TierLow      = "LOW"
	TierNone     = "NONE"
)

// auditTopN is how many results are copied into each audit record.
const auditTopN = 5

// Identities is the read access the engine needs from the identity registry.
type Identities interface {
	mergecheck.IdentityView
	Identity(id string) (*identity.Identity, bool)
	LiveIdentityIDs() []string
}

// Neighbor is one ranked identity.
type Neighbor struct {
	IdentityID    string         `json:"identity_id"`
	Name          string         `json:"name,omitempty"`
	State         identity.State `json:"state"`
	Distance      float64        `json:"distance"`
	Percentile    float64        `json:"percentile"`
	ConfidenceGap float64        `json:"confidence_gap"`
	Tier          string         `json:"tier"`
	CanMerge      bool           `json:"can_merge"`
	MergeReason   string         `json:"merge_reason"`
	AnchorCount   int            `json:"anchor_count"`
	TargetFaceID  string         `json:"target_face_id"` // closest pair
	MatchFaceID   string         `json:"match_face_id"`
}

// Result is the outcome of a neighbor search.
type Result struct {
	TargetID    string             `json:"target_id"`
	Neighbors   []Neighbor         `json:"neighbors"`
	Scored      int                `json:"scored"`   // candidates before truncation
	Rejected    int                `json:"rejected"` // candidates filtered by rejection history
	Calibration config.Calibration `json:"calibration"`
}

// Engine runs neighbor searches.
type Engine struct {
	calibration config.Calibration
	logger      *zap.Logger
	audit       *AuditLog
	validator   *mergecheck.Validator
}

// Option configures an Engine.
type Option func(*Engine)

// WithCalibration sets the confidence-tier thresholds.
func WithCalibration(c config.Calibration) Option {
	return func(e *Engine) { e.calibration = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAuditLog sets the audit sink.
func WithAuditLog(a *AuditLog) Option {
	return func(e *Engine) { e.audit = a }
}

// NewEngine creates an engine using the embedded calibration unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		calibration: config.FallbackCalibration(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.validator = mergecheck.New(e.logger, mergecheck.WithCaller(mergecheck.CallerNeighbors))
	return e
}

// Calibration returns the thresholds in use.
func (e *Engine) Calibration() config.Calibration {
	return e.calibration
}

// Tier labels a distance using the engine calibration.
func (e *Engine) Tier(distance float64) string {
	t := e.calibration.Thresholds
	switch {
	case distance <= t.VeryHigh:
		return TierVeryHigh
	case distance <= t.High:
		return TierHigh
	case distance <= t.Moderate:
		return TierModerate
	case distance <= t.Low:
		return TierLow
	default:
		return TierNone
	}
}

// FindNearestNeighbors ranks live identities by the minimum pairwise squared
// Euclidean distance between their anchor embeddings and the target's.
// Rejected pairs are filtered before the result is cut to limit; limit <= 0
// returns every candidate. A target without resolvable anchor embeddings
// yields an empty result.
func (e *Engine) FindNearestNeighbors(targetID string, identities Identities, photos mergecheck.PhotoLookup, store embedding.Store, limit int) *Result {
	start := time.Now()
	res := &Result{TargetID: targetID, Neighbors: []Neighbor{}, Calibration: e.calibration}
	defer func() {
		metrics.NeighborSearchDuration.Observe(time.Since(start).Seconds())
		metrics.NeighborCandidates.Observe(float64(res.Scored))
		e.audit.Record(res, limit, auditTopN)
	}()

	target, ok := identities.Identity(targetID)
	if !ok || target.IsTombstone() {
		return res
	}
	targetFaces, targetVecs := embedding.Means(store, target.AnchorIDs)
	if len(targetVecs) == 0 {
		e.logger.Debug("target has no resolvable anchor embeddings", zap.String("identity_id", targetID))
		return res
	}

	var scored []Neighbor
	for _, id := range identities.LiveIdentityIDs() {
		if id == targetID {
			continue
		}
		cand, ok := identities.Identity(id)
		if !ok || cand.IsTombstone() {
			continue
		}
		if identities.IsIdentityRejected(targetID, id) || identities.IsIdentityRejected(id, targetID) {
			res.Rejected++
			continue
		}
		candFaces, candVecs := embedding.Means(store, cand.AnchorIDs)
		if len(candVecs) == 0 {
			continue
		}

		best := math.Inf(1)
		var bestTarget, bestMatch string
		for i, tv := range targetVecs {
			for j, cv := range candVecs {
				d := database.SquaredEuclideanDistance(tv, cv)
				if d < 0 {
					continue
				}
				if d < best {
					best, bestTarget, bestMatch = d, targetFaces[i], candFaces[j]
				}
			}
		}
		if math.IsInf(best, 1) {
			continue
		}

		scored = append(scored, Neighbor{
			IdentityID:   id,
			Name:         cand.Name,
			State:        cand.State,
			Distance:     best,
			AnchorCount:  len(cand.AnchorIDs),
			TargetFaceID: bestTarget,
			MatchFaceID:  bestMatch,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].IdentityID < scored[j].IdentityID
	})
	res.Scored = len(scored)

	setPercentiles(scored)
	for i := range scored {
		scored[i].ConfidenceGap = confidenceGap(scored, i)
		scored[i].Tier = e.Tier(scored[i].Distance)
	}

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	for i := range scored {
		scored[i].CanMerge, scored[i].MergeReason = e.validator.Validate(targetID, scored[i].IdentityID, identities, photos)
	}
	res.Neighbors = scored

	e.logger.Debug("neighbor search",
		zap.String("target_id", targetID),
		zap.Int("scored", res.Scored),
		zap.Int("rejected", res.Rejected),
		zap.Int("returned", len(scored)))
	return res
}

// setPercentiles sets each candidate's percentile to the share of scored
// candidates at least as far from the target. scored must be sorted by
// ascending distance; the closest candidate is at 100 and ties share a value.
func setPercentiles(scored []Neighbor) {
	n := float64(len(scored))
	start := 0
	for i := range scored {
		if i > 0 && scored[i].Distance != scored[i-1].Distance {
			start = i
		}
		scored[i].Percentile = 100 * (n - float64(start)) / n
	}
}

// confidenceGap is the percentage by which candidate i is closer than the
// next-ranked candidate. A sole candidate has a gap of 100; the last of
// several has none.
func confidenceGap(scored []Neighbor, i int) float64 {
	if len(scored) == 1 {
		return 100.0
	}
	if i+1 >= len(scored) {
		return 0
	}
	next := scored[i+1].Distance
	if next <= 0 {
		return 0
	}
	return (next - scored[i].Distance) / next * 100
}
