// Package mergecheck decides whether two identities may be merged.
//
// Two faces photographed together cannot be the same person, so any merge
// that would place co-occurring faces in one identity is blocked. Pairs a
// reviewer has rejected are blocked as well. A block is a normal result, not
// an error, so the reason can be shown to the reviewer.
package mergecheck

import (
	"go.uber.org/zap"

	"github.com/NolanFox/rhodesli/internal/metrics"
)

// Reasons returned by Validate.
const (
	ReasonOK           = "ok"
	ReasonCoOccurrence = "co_occurrence"
	ReasonRejected     = "rejected"
	ReasonNotFound     = "not_found"
	ReasonSameIdentity = "same_identity"
)

// IdentityView is the read access the validator needs from the identity registry.
type IdentityView interface {
	// MemberFaceIDs returns anchors and candidates of an identity, false if unknown.
	MemberFaceIDs(identityID string) ([]string, bool)
	// IsIdentityRejected reports whether a and b were marked as different people.
	IsIdentityRejected(a, b string) bool
}

// PhotoLookup is the read access the validator needs from the photo registry.
type PhotoLookup interface {
	// PhotosForFaces returns the union of photos the faces were detected in.
	PhotosForFaces(faceIDs []string) []string
}

// Callers label blocked validations in metrics.
const (
	CallerValidate  = "validate"
	CallerMerge     = "merge"
	CallerNeighbors = "neighbors"
)

// Validator checks merge safety and logs blocked merges.
type Validator struct {
	logger *zap.Logger
	caller string
}

// Option configures a Validator.
type Option func(*Validator)

// WithCaller sets the caller label recorded with blocked validations.
func WithCaller(caller string) Option {
	return func(v *Validator) {
		v.caller = caller
	}
}

// New creates a Validator. A nil logger disables logging.
func New(logger *zap.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{logger: logger, caller: CallerValidate}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate reports whether identities a and b can be merged. It is symmetric
// and mutates nothing.
func Validate(a, b string, identities IdentityView, photos PhotoLookup) (bool, string) {
	return New(nil).Validate(a, b, identities, photos)
}

// Validate reports whether identities a and b can be merged.
func (v *Validator) Validate(a, b string, identities IdentityView, photos PhotoLookup) (bool, string) {
	if a == b {
		return v.block(ReasonSameIdentity)
	}

	facesA, okA := identities.MemberFaceIDs(a)
	facesB, okB := identities.MemberFaceIDs(b)
	if !okA || !okB {
		return v.block(ReasonNotFound)
	}

	if shared := SharedPhotos(photos.PhotosForFaces(facesA), photos.PhotosForFaces(facesB)); len(shared) > 0 {
		v.logger.Warn("merge blocked: faces appear in the same photo",
			zap.String("identity_a", a),
			zap.String("identity_b", b),
			zap.Strings("shared_photos", shared),
		)
		return v.block(ReasonCoOccurrence)
	}

	if identities.IsIdentityRejected(a, b) || identities.IsIdentityRejected(b, a) {
		v.logger.Info("merge blocked: pair was rejected by a reviewer",
			zap.String("identity_a", a), zap.String("identity_b", b))
		return v.block(ReasonRejected)
	}

	return true, ReasonOK
}

func (v *Validator) block(reason string) (bool, string) {
	metrics.MergeBlocksTotal.WithLabelValues(v.caller, reason).Inc()
	return false, reason
}

// SharedPhotos returns the photos present in both lists, in the order of a.
func SharedPhotos(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	inB := make(map[string]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	var shared []string
	for _, id := range a {
		if _, ok := inB[id]; ok {
			shared = append(shared, id)
		}
	}
	return shared
}
