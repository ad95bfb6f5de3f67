package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/NolanFox/rhodesli/internal/mergecheck"
	"github.com/NolanFox/rhodesli/internal/metrics"
)

// MergeStatus is the outcome of a merge or rejection request.
type MergeStatus string

const (
	StatusMerged   MergeStatus = "merged"
	StatusBlocked  MergeStatus = "blocked"
	StatusNotFound MergeStatus = "not_found"
	StatusNoop     MergeStatus = "noop"
	StatusRejected MergeStatus = "rejected"

	StatusUnrejected MergeStatus = "unrejected"
)

// MergeResult describes what MergeIdentities did.
type MergeResult struct {
	Status           MergeStatus `json:"status"`
	Reason           string      `json:"reason"`
	SurvivorID       string      `json:"survivor_id,omitempty"`
	AbsorbedID       string      `json:"absorbed_id,omitempty"`
	DirectionSwapped bool        `json:"direction_swapped"`
	FacesMoved       int         `json:"faces_moved"`
}

// MergeIdentities merges source into target. Tombstoned IDs are followed one
// hop. The merge validator runs first; a blocked merge mutates nothing and is
// reported through the result, not as an error. Errors are reserved for
// persistence failures, in which case the registry is left unchanged.
func (r *Registry) MergeIdentities(ctx context.Context, sourceID, targetID, actor string, photos mergecheck.PhotoLookup) (MergeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, okSrc := r.resolve(sourceID)
	tgt, okTgt := r.resolve(targetID)
	if !okSrc || !okTgt {
		metrics.MergesTotal.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return MergeResult{Status: StatusNotFound, Reason: mergecheck.ReasonNotFound}, nil
	}
	if src == tgt {
		metrics.MergesTotal.WithLabelValues(metrics.OutcomeNoop).Inc()
		return MergeResult{Status: StatusNoop, Reason: mergecheck.ReasonSameIdentity, SurvivorID: tgt}, nil
	}

	if ok, reason := r.validator.Validate(src, tgt, lockedView{r}, photos); !ok {
		metrics.MergesTotal.WithLabelValues(metrics.OutcomeBlocked).Inc()
		return MergeResult{Status: StatusBlocked, Reason: reason}, nil
	}

	survivor, absorbed, swapped := resolveMergeDirection(r.identities[src], r.identities[tgt])

	t := r.begin(survivor.ID, absorbed.ID)
	moved := absorbed.MemberFaceIDs()
	prevName := survivor.Name

	survivor.CandidateIDs = addToSet(survivor.CandidateIDs, moved...)
	for _, f := range moved {
		r.faceOwner[f] = survivor.ID
		survivor.NegativeIDs, _ = removeFromSet(survivor.NegativeIDs, f)
	}

	var addedNegatives []string
	for _, n := range absorbed.NegativeIDs {
		if inSet(survivor.NegativeIDs, n) || inSet(survivor.CandidateIDs, n) || inSet(survivor.AnchorIDs, n) {
			continue
		}
		addedNegatives = append(addedNegatives, n)
	}
	survivor.NegativeIDs = addToSet(survivor.NegativeIDs, addedNegatives...)

	// Identities that rejected the absorbed side now reject the survivor.
	for _, otherID := range absorbed.NegativeIdentityIDs() {
		other, ok := r.identities[otherID]
		if !ok || other.IsTombstone() || otherID == survivor.ID {
			continue
		}
		r.track(t, otherID)
		var had bool
		other.NegativeIDs, had = removeFromSet(other.NegativeIDs, IdentityNegative(absorbed.ID))
		if had || !inSet(other.NegativeIDs, IdentityNegative(survivor.ID)) {
			other.NegativeIDs = addToSet(other.NegativeIDs, IdentityNegative(survivor.ID))
			r.touch(other)
		}
	}

	if !survivor.HasEstablishedName() && absorbed.HasEstablishedName() {
		survivor.Name = absorbed.Name
	}
	for k, v := range absorbed.Metadata {
		if survivor.Metadata == nil {
			survivor.Metadata = make(map[string]string)
		}
		if _, ok := survivor.Metadata[k]; !ok {
			survivor.Metadata[k] = v
		}
	}

	absorbed.MergedInto = survivor.ID

	r.touch(survivor)
	r.touch(absorbed)
	r.record(survivor, HistoryEntry{
		Action:       ActionMergeAbsorb,
		Actor:        actor,
		OtherID:      absorbed.ID,
		FaceIDs:      moved,
		PreviousName: prevName,
		NewName:      survivor.Name,
		Negatives:    addedNegatives,
		Swapped:      swapped,
	})
	r.record(absorbed, HistoryEntry{
		Action:        ActionMergedInto,
		Actor:         actor,
		OtherID:       survivor.ID,
		PreviousState: absorbed.State,
		FaceIDs:       moved,
		Swapped:       swapped,
	})

	if err := r.commit(ctx, t); err != nil {
		return MergeResult{}, fmt.Errorf("merge %s into %s: %w", absorbed.ID, survivor.ID, err)
	}

	metrics.MergesTotal.WithLabelValues(metrics.OutcomeMerged).Inc()
	r.logger.Info("identities merged",
		zap.String("survivor", survivor.ID),
		zap.String("absorbed", absorbed.ID),
		zap.Bool("direction_swapped", swapped),
		zap.Int("faces_moved", len(moved)),
	)
	return MergeResult{
		Status:           StatusMerged,
		Reason:           mergecheck.ReasonOK,
		SurvivorID:       survivor.ID,
		AbsorbedID:       absorbed.ID,
		DirectionSwapped: swapped,
		FacesMoved:       len(moved),
	}, nil
}

// resolveMergeDirection returns the canonical (survivor, absorbed) pair for a
// request to merge source into target. The target survives unless the source
// is more senior: more anchors, then a more advanced state.
func resolveMergeDirection(source, target *Identity) (survivor, absorbed *Identity, swapped bool) {
	sa, ta := len(source.AnchorIDs), len(target.AnchorIDs)
	if sa > ta || (sa == ta && source.State.rank() > target.State.rank()) {
		return source, target, true
	}
	return target, source, false
}

// UndoMerge restores a merged identity from its tombstone. Faces it
// contributed that still belong to the survivor are returned to it; faces
// since reassigned elsewhere stay where they are.
func (r *Registry) UndoMerge(ctx context.Context, absorbedID, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	absorbed, ok := r.identities[absorbedID]
	if !ok {
		return fmt.Errorf("%s: %w", absorbedID, ErrNotFound)
	}
	if !absorbed.IsTombstone() {
		return fmt.Errorf("%s: %w", absorbedID, ErrNotMerged)
	}
	survivor, err := r.live(absorbed.MergedInto)
	if err != nil {
		return fmt.Errorf("undo merge of %s: %w", absorbedID, err)
	}

	var mergeEntry *HistoryEntry
	for i := len(survivor.History) - 1; i >= 0; i-- {
		if e := survivor.History[i]; e.Action == ActionMergeAbsorb && e.OtherID == absorbedID {
			mergeEntry = &survivor.History[i]
			break
		}
	}
	if mergeEntry == nil {
		return fmt.Errorf("no merge record for %s in %s: %w", absorbedID, survivor.ID, ErrNotMerged)
	}
	entry := *mergeEntry

	t := r.begin(survivor.ID, absorbed.ID)

	var restored []string
	for _, f := range absorbed.MemberFaceIDs() {
		switch owner, owned := r.faceOwner[f]; {
		case owned && owner == survivor.ID:
			r.dropMember(survivor, f)
			restored = append(restored, f)
		case owned:
			absorbed.AnchorIDs, _ = removeFromSet(absorbed.AnchorIDs, f)
			absorbed.CandidateIDs, _ = removeFromSet(absorbed.CandidateIDs, f)
		default:
			restored = append(restored, f)
		}
	}

	for _, n := range entry.Negatives {
		survivor.NegativeIDs, _ = removeFromSet(survivor.NegativeIDs, n)
	}
	for _, otherID := range absorbed.NegativeIdentityIDs() {
		other, ok := r.identities[otherID]
		if !ok || other.IsTombstone() {
			continue
		}
		r.track(t, otherID)
		if !inSet(survivor.NegativeIDs, IdentityNegative(otherID)) {
			other.NegativeIDs, _ = removeFromSet(other.NegativeIDs, IdentityNegative(survivor.ID))
		}
		other.NegativeIDs = addToSet(other.NegativeIDs, IdentityNegative(absorbed.ID))
		r.touch(other)
	}

	if entry.PreviousName != entry.NewName && survivor.Name == entry.NewName {
		survivor.Name = entry.PreviousName
	}

	absorbed.MergedInto = ""
	for _, f := range restored {
		r.faceOwner[f] = absorbed.ID
	}

	r.touch(survivor)
	r.touch(absorbed)
	r.record(survivor, HistoryEntry{Action: ActionUndoMerge, Actor: actor, OtherID: absorbed.ID, FaceIDs: restored})
	r.record(absorbed, HistoryEntry{Action: ActionRestored, Actor: actor, OtherID: survivor.ID, NewState: absorbed.State, FaceIDs: restored})

	if err := r.commit(ctx, t); err != nil {
		return fmt.Errorf("undo merge of %s: %w", absorbedID, err)
	}
	r.logger.Info("merge undone",
		zap.String("survivor", survivor.ID), zap.String("restored", absorbed.ID), zap.Int("faces", len(restored)))
	return nil
}

// RejectResult describes what RejectIdentityPair or UnrejectIdentityPair did.
type RejectResult struct {
	Status MergeStatus `json:"status"`
	A      string      `json:"identity_a,omitempty"`
	B      string      `json:"identity_b,omitempty"`
}

// RejectIdentityPair records that a and b are different people. The
// constraint is written on both identities.
func (r *Registry) RejectIdentityPair(ctx context.Context, a, b, actor string) (RejectResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identA, identB, res := r.resolvePair(a, b)
	if res.Status != "" {
		return res, nil
	}
	if inSet(identA.NegativeIDs, IdentityNegative(identB.ID)) && inSet(identB.NegativeIDs, IdentityNegative(identA.ID)) {
		return RejectResult{Status: StatusNoop, A: identA.ID, B: identB.ID}, nil
	}

	t := r.begin(identA.ID, identB.ID)
	identA.NegativeIDs = addToSet(identA.NegativeIDs, IdentityNegative(identB.ID))
	identB.NegativeIDs = addToSet(identB.NegativeIDs, IdentityNegative(identA.ID))
	r.touch(identA)
	r.touch(identB)
	r.record(identA, HistoryEntry{Action: ActionReject, Actor: actor, OtherID: identB.ID})
	r.record(identB, HistoryEntry{Action: ActionReject, Actor: actor, OtherID: identA.ID})
	if err := r.commit(ctx, t); err != nil {
		return RejectResult{}, fmt.Errorf("reject %s/%s: %w", identA.ID, identB.ID, err)
	}

	metrics.RejectionsTotal.Inc()
	r.logger.Info("identity pair rejected", zap.String("identity_a", identA.ID), zap.String("identity_b", identB.ID))
	return RejectResult{Status: StatusRejected, A: identA.ID, B: identB.ID}, nil
}

// UnrejectIdentityPair removes a rejection between a and b from both sides.
func (r *Registry) UnrejectIdentityPair(ctx context.Context, a, b, actor string) (RejectResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identA, identB, res := r.resolvePair(a, b)
	if res.Status != "" {
		return res, nil
	}
	if !r.isIdentityRejected(identA.ID, identB.ID) {
		return RejectResult{Status: StatusNoop, A: identA.ID, B: identB.ID}, nil
	}

	t := r.begin(identA.ID, identB.ID)
	identA.NegativeIDs, _ = removeFromSet(identA.NegativeIDs, IdentityNegative(identB.ID))
	identB.NegativeIDs, _ = removeFromSet(identB.NegativeIDs, IdentityNegative(identA.ID))
	r.touch(identA)
	r.touch(identB)
	r.record(identA, HistoryEntry{Action: ActionUnreject, Actor: actor, OtherID: identB.ID})
	r.record(identB, HistoryEntry{Action: ActionUnreject, Actor: actor, OtherID: identA.ID})
	if err := r.commit(ctx, t); err != nil {
		return RejectResult{}, fmt.Errorf("unreject %s/%s: %w", identA.ID, identB.ID, err)
	}
	return RejectResult{Status: StatusUnrejected, A: identA.ID, B: identB.ID}, nil
}

// resolvePair resolves both IDs one hop. A non-empty result status means the
// request ends there.
func (r *Registry) resolvePair(a, b string) (*Identity, *Identity, RejectResult) {
	idA, okA := r.resolve(a)
	idB, okB := r.resolve(b)
	if !okA || !okB {
		return nil, nil, RejectResult{Status: StatusNotFound, A: a, B: b}
	}
	if idA == idB {
		return nil, nil, RejectResult{Status: StatusNoop, A: idA, B: idB}
	}
	return r.identities[idA], r.identities[idB], RejectResult{}
}
