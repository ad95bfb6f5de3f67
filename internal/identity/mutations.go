package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// CreateOptions are optional fields of a new identity.
type CreateOptions struct {
	State        State // defaults to INBOX
	Name         string
	CandidateIDs []string
	Provenance   *Provenance // defaults to {Source: source}
	Actor        string
}

// CreateIdentity creates an identity anchored on anchorIDs and returns its ID.
// Faces already owned by a live identity are refused.
func (r *Registry) CreateIdentity(ctx context.Context, anchorIDs []string, source string, opts CreateOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := opts.State
	if state == "" {
		state = StateInbox
	}
	if !state.Valid() {
		return "", fmt.Errorf("%q: %w", state, ErrInvalidState)
	}

	anchors := normalizeSet(anchorIDs)
	candidates := normalizeSet(opts.CandidateIDs)
	for _, f := range anchors {
		candidates, _ = removeFromSet(candidates, f)
	}
	for _, f := range append(append([]string(nil), anchors...), candidates...) {
		if owner, ok := r.faceOwner[f]; ok {
			return "", fmt.Errorf("face %s owned by %s: %w", f, owner, ErrFaceAlreadyAssigned)
		}
	}

	prov := Provenance{Source: source, Actor: opts.Actor}
	if opts.Provenance != nil {
		prov = *opts.Provenance
	}

	id := r.newID()
	now := r.now()
	ident := &Identity{
		ID:           id,
		Name:         strings.TrimSpace(opts.Name),
		State:        state,
		AnchorIDs:    anchors,
		CandidateIDs: candidates,
		NegativeIDs:  []string{},
		Provenance:   prov,
		VersionID:    1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	t := r.begin(id)
	r.identities[id] = ident
	for _, f := range ident.MemberFaceIDs() {
		r.faceOwner[f] = id
	}
	r.record(ident, HistoryEntry{
		Action:   ActionCreate,
		Actor:    opts.Actor,
		NewState: state,
		NewName:  ident.Name,
		FaceIDs:  ident.MemberFaceIDs(),
	})
	if err := r.commit(ctx, t); err != nil {
		return "", err
	}

	r.logger.Info("identity created",
		zap.String("identity_id", id), zap.String("state", string(state)), zap.Int("anchors", len(anchors)))
	return id, nil
}

// RenameIdentity sets the display name. Returns false if the identity is
// unknown or merged.
func (r *Registry) RenameIdentity(ctx context.Context, id, name, actor string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.live(id)
	if err != nil {
		return false, nil
	}
	name = strings.TrimSpace(name)
	if ident.Name == name {
		return true, nil
	}

	t := r.begin(id)
	prev := ident.Name
	ident.Name = name
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionRename, Actor: actor, PreviousName: prev, NewName: name})
	if err := r.commit(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// SetMetadata stores allow-listed metadata. Unknown keys are dropped; an empty
// value deletes the key. Returns the applied keys and false if the identity
// is unknown or merged.
func (r *Registry) SetMetadata(ctx context.Context, id string, meta map[string]string, actor string) ([]string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.live(id)
	if err != nil {
		return nil, false, nil
	}

	var applied []string
	for key := range meta {
		if IsAllowedMetadataKey(key) {
			applied = append(applied, key)
		} else {
			r.logger.Debug("dropping unknown identity metadata key",
				zap.String("identity_id", id), zap.String("key", key))
		}
	}
	if len(applied) == 0 {
		return nil, true, nil
	}
	sort.Strings(applied)

	t := r.begin(id)
	if ident.Metadata == nil {
		ident.Metadata = make(map[string]string)
	}
	for _, key := range applied {
		if v := strings.TrimSpace(meta[key]); v != "" {
			ident.Metadata[key] = v
		} else {
			delete(ident.Metadata, key)
		}
	}
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionSetMetadata, Actor: actor, MetadataKeys: applied})
	if err := r.commit(ctx, t); err != nil {
		return nil, false, err
	}
	return applied, true, nil
}

// Transition moves an identity to a new review state.
func (r *Registry) Transition(ctx context.Context, id string, to State, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !to.Valid() {
		return fmt.Errorf("%q: %w", to, ErrInvalidState)
	}
	ident, err := r.live(id)
	if err != nil {
		return err
	}
	from := ident.State
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%s → %s: %w", from, to, ErrInvalidTransition)
	}

	t := r.begin(id)
	ident.State = to
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionTransition, Actor: actor, PreviousState: from, NewState: to})
	if err := r.commit(ctx, t); err != nil {
		return err
	}
	r.logger.Info("identity state changed",
		zap.String("identity_id", id), zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// Confirm marks an identity as a confirmed person.
func (r *Registry) Confirm(ctx context.Context, id, actor string) error {
	return r.Transition(ctx, id, StateConfirmed, actor)
}

// Skip defers review of an identity.
func (r *Registry) Skip(ctx context.Context, id, actor string) error {
	return r.Transition(ctx, id, StateSkipped, actor)
}

// Reject marks an identity as not a usable person cluster.
func (r *Registry) Reject(ctx context.Context, id, actor string) error {
	return r.Transition(ctx, id, StateRejected, actor)
}

// AddCandidates attaches faces as tentative members. Faces already members
// of this identity are skipped; faces owned elsewhere are refused.
func (r *Registry) AddCandidates(ctx context.Context, id string, faceIDs []string, actor string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.live(id)
	if err != nil {
		return 0, err
	}

	var added []string
	for _, f := range normalizeSet(faceIDs) {
		owner, owned := r.faceOwner[f]
		if owned && owner == id {
			continue
		}
		if owned {
			return 0, fmt.Errorf("face %s owned by %s: %w", f, owner, ErrFaceAlreadyAssigned)
		}
		added = append(added, f)
	}
	if len(added) == 0 {
		return 0, nil
	}

	t := r.begin(id)
	ident.CandidateIDs = addToSet(ident.CandidateIDs, added...)
	for _, f := range added {
		r.faceOwner[f] = id
		ident.NegativeIDs, _ = removeFromSet(ident.NegativeIDs, f)
	}
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionAddCandidates, Actor: actor, FaceIDs: added})
	if err := r.commit(ctx, t); err != nil {
		return 0, err
	}
	return len(added), nil
}

// PromoteCandidate turns a candidate face into an anchor.
func (r *Registry) PromoteCandidate(ctx context.Context, id, faceID, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.live(id)
	if err != nil {
		return err
	}
	if !inSet(ident.CandidateIDs, faceID) {
		return fmt.Errorf("candidate %s of %s: %w", faceID, id, ErrFaceNotMember)
	}

	t := r.begin(id)
	ident.CandidateIDs, _ = removeFromSet(ident.CandidateIDs, faceID)
	ident.AnchorIDs = addToSet(ident.AnchorIDs, faceID)
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionPromote, Actor: actor, FaceIDs: []string{faceID}})
	return r.commit(ctx, t)
}

// DemoteAnchor turns an anchor face back into a candidate.
func (r *Registry) DemoteAnchor(ctx context.Context, id, faceID, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.live(id)
	if err != nil {
		return err
	}
	if !inSet(ident.AnchorIDs, faceID) {
		return fmt.Errorf("anchor %s of %s: %w", faceID, id, ErrFaceNotMember)
	}

	t := r.begin(id)
	ident.AnchorIDs, _ = removeFromSet(ident.AnchorIDs, faceID)
	ident.CandidateIDs = addToSet(ident.CandidateIDs, faceID)
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionDemote, Actor: actor, FaceIDs: []string{faceID}})
	return r.commit(ctx, t)
}

// RemoveFace drops a face from an identity, leaving it unassigned.
func (r *Registry) RemoveFace(ctx context.Context, id, faceID, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.live(id)
	if err != nil {
		return err
	}

	t := r.begin(id)
	if !r.dropMember(ident, faceID) {
		return fmt.Errorf("face %s of %s: %w", faceID, id, ErrFaceNotMember)
	}
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionRemoveFace, Actor: actor, FaceIDs: []string{faceID}})
	return r.commit(ctx, t)
}

// RejectFace removes a face from an identity and records it as a confirmed
// non-match so it is not suggested again.
func (r *Registry) RejectFace(ctx context.Context, id, faceID, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.live(id)
	if err != nil {
		return err
	}

	t := r.begin(id)
	r.dropMember(ident, faceID)
	ident.NegativeIDs = addToSet(ident.NegativeIDs, faceID)
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionRejectFace, Actor: actor, FaceIDs: []string{faceID}})
	return r.commit(ctx, t)
}

// DetachFace splits a member face out into a new INBOX identity and returns its ID.
func (r *Registry) DetachFace(ctx context.Context, id, faceID, actor string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.live(id)
	if err != nil {
		return "", err
	}
	if !inSet(ident.AnchorIDs, faceID) && !inSet(ident.CandidateIDs, faceID) {
		return "", fmt.Errorf("face %s of %s: %w", faceID, id, ErrFaceNotMember)
	}

	newID := r.newID()
	now := r.now()
	t := r.begin(id, newID)

	r.dropMember(ident, faceID)
	r.touch(ident)
	r.record(ident, HistoryEntry{Action: ActionDetach, Actor: actor, OtherID: newID, FaceIDs: []string{faceID}})

	detached := &Identity{
		ID:           newID,
		State:        StateInbox,
		AnchorIDs:    []string{faceID},
		CandidateIDs: []string{},
		NegativeIDs:  []string{},
		Provenance:   Provenance{Source: "detach", Actor: actor, Note: "detached from " + id},
		VersionID:    1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.identities[newID] = detached
	r.faceOwner[faceID] = newID
	r.record(detached, HistoryEntry{Action: ActionCreate, Actor: actor, NewState: StateInbox, OtherID: id, FaceIDs: []string{faceID}})

	if err := r.commit(ctx, t); err != nil {
		return "", err
	}
	return newID, nil
}

// dropMember removes faceID from anchors or candidates and releases ownership.
func (r *Registry) dropMember(ident *Identity, faceID string) bool {
	var removed bool
	ident.AnchorIDs, removed = removeFromSet(ident.AnchorIDs, faceID)
	if !removed {
		ident.CandidateIDs, removed = removeFromSet(ident.CandidateIDs, faceID)
	}
	if removed && r.faceOwner[faceID] == ident.ID {
		delete(r.faceOwner, faceID)
	}
	return removed
}
