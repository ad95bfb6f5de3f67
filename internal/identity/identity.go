// Package identity owns identity records: their lifecycle, face assignment,
// merges, rejections and the append-only history of every change.
package identity

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/NolanFox/rhodesli/internal/names"
)

// State is the review state of an identity.
type State string

const (
	StateInbox     State = "INBOX"
	StateProposed  State = "PROPOSED"
	StateConfirmed State = "CONFIRMED"
	StateSkipped   State = "SKIPPED"
	StateRejected  State = "REJECTED"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateInbox, StateProposed, StateConfirmed, StateSkipped, StateRejected:
		return true
	}
	return false
}

// rank orders states by how established an identity is.
func (s State) rank() int {
	switch s {
	case StateConfirmed:
		return 3
	case StateProposed:
		return 2
	case StateInbox, StateSkipped:
		return 1
	default:
		return 0
	}
}

// allowedTransitions lists the explicit state moves. Tombstoning is separate.
var allowedTransitions = map[State][]State{
	StateInbox:     {StateProposed, StateConfirmed, StateSkipped, StateRejected},
	StateProposed:  {StateConfirmed, StateSkipped, StateRejected, StateInbox},
	StateConfirmed: {StateProposed},
	StateSkipped:   {StateInbox, StateProposed, StateConfirmed},
	StateRejected:  {StateInbox},
}

// CanTransition reports whether from → to is an allowed move.
func CanTransition(from, to State) bool {
	return slices.Contains(allowedTransitions[from], to)
}

var (
	ErrNotFound            = errors.New("identity not found")
	ErrMerged              = errors.New("identity has been merged")
	ErrFaceAlreadyAssigned = errors.New("face already belongs to a live identity")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrInvalidState        = errors.New("invalid state")
	ErrFaceNotMember       = errors.New("face is not a member of the identity")
	ErrNotMerged           = errors.New("identity is not a merge tombstone")
)

// Provenance records where an identity came from.
type Provenance struct {
	Source string `json:"source"`
	Actor  string `json:"actor,omitempty"`
	Note   string `json:"note,omitempty"`
}

// Metadata keys accepted by SetMetadata.
const (
	MetaBirthYear           = "birth_year"
	MetaDeathYear           = "death_year"
	MetaBirthPlace          = "birth_place"
	MetaMaidenName          = "maiden_name"
	MetaBio                 = "bio"
	MetaRelationshipNotes   = "relationship_notes"
	MetaGenerationQualifier = "generation_qualifier"
)

var allowedMetadata = map[string]struct{}{
	MetaBirthYear:           {},
	MetaDeathYear:           {},
	MetaBirthPlace:          {},
	MetaMaidenName:          {},
	MetaBio:                 {},
	MetaRelationshipNotes:   {},
	MetaGenerationQualifier: {},
}

// IsAllowedMetadataKey reports whether key may be stored on an identity.
func IsAllowedMetadataKey(key string) bool {
	_, ok := allowedMetadata[key]
	return ok
}

// History actions.
const (
	ActionCreate        = "create"
	ActionRename        = "rename"
	ActionSetMetadata   = "set_metadata"
	ActionTransition    = "transition"
	ActionMergeAbsorb   = "merge_absorb"
	ActionMergedInto    = "merged_into"
	ActionUndoMerge     = "undo_merge"
	ActionRestored      = "restored"
	ActionReject        = "reject"
	ActionUnreject      = "unreject"
	ActionRejectFace    = "reject_face"
	ActionAddCandidates = "add_candidates"
	ActionPromote       = "promote"
	ActionDemote        = "demote"
	ActionRemoveFace    = "remove_face"
	ActionDetach        = "detach"
)

// HistoryEntry is one record in the append-only change log.
type HistoryEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	IdentityID    string    `json:"identity_id"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor,omitempty"`
	PreviousState State     `json:"previous_state,omitempty"`
	NewState      State     `json:"new_state,omitempty"`
	OtherID       string    `json:"other_id,omitempty"`
	FaceIDs       []string  `json:"face_ids,omitempty"`
	PreviousName  string    `json:"previous_name,omitempty"`
	NewName       string    `json:"new_name,omitempty"`
	Negatives     []string  `json:"negatives,omitempty"`
	MetadataKeys  []string  `json:"metadata_keys,omitempty"`
	Swapped       bool      `json:"direction_swapped,omitempty"`
}

// Identity is a cluster of faces believed to show the same person.
//
// An identity with MergedInto set is a tombstone: it is kept only as a
// redirect to the survivor and is excluded from listings and searches. Its
// face lists are retained so the merge can be undone.
type Identity struct {
	ID           string            `json:"identity_id"`
	Name         string            `json:"name,omitempty"`
	State        State             `json:"state"`
	AnchorIDs    []string          `json:"anchor_ids"`
	CandidateIDs []string          `json:"candidate_ids"`
	NegativeIDs  []string          `json:"negative_ids"`
	MergedInto   string            `json:"merged_into,omitempty"`
	Provenance   Provenance        `json:"provenance"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	VersionID    int64             `json:"version_id"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	History      []HistoryEntry    `json:"history"`
}

// IsTombstone reports whether the identity was absorbed by a merge.
func (i *Identity) IsTombstone() bool {
	return i.MergedInto != ""
}

// MemberFaceIDs returns anchors followed by candidates.
func (i *Identity) MemberFaceIDs() []string {
	faces := make([]string, 0, len(i.AnchorIDs)+len(i.CandidateIDs))
	faces = append(faces, i.AnchorIDs...)
	return append(faces, i.CandidateIDs...)
}

// HasEstablishedName reports whether the identity carries a real name rather
// than an empty or auto-generated placeholder.
func (i *Identity) HasEstablishedName() bool {
	return !names.IsPlaceholder(i.Name)
}

// clone returns a deep copy.
func (i *Identity) clone() *Identity {
	c := *i
	c.AnchorIDs = slices.Clone(i.AnchorIDs)
	c.CandidateIDs = slices.Clone(i.CandidateIDs)
	c.NegativeIDs = slices.Clone(i.NegativeIDs)
	c.History = slices.Clone(i.History)
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// identityNegativePrefix marks negative constraints that point at identities
// rather than individual faces.
const identityNegativePrefix = "identity:"

// IdentityNegative returns the negative constraint referencing an identity.
func IdentityNegative(identityID string) string {
	return identityNegativePrefix + identityID
}

// NegativeIdentityIDs returns the identities this identity was rejected against.
func (i *Identity) NegativeIdentityIDs() []string {
	var ids []string
	for _, n := range i.NegativeIDs {
		if id, ok := strings.CutPrefix(n, identityNegativePrefix); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// set helpers keep face lists sorted and duplicate free.

func addToSet(set []string, items ...string) []string {
	for _, it := range items {
		if it == "" {
			continue
		}
		if idx, found := slices.BinarySearch(set, it); !found {
			set = slices.Insert(set, idx, it)
		}
	}
	return set
}

func removeFromSet(set []string, item string) ([]string, bool) {
	idx, found := slices.BinarySearch(set, item)
	if !found {
		return set, false
	}
	return slices.Delete(set, idx, idx+1), true
}

func inSet(set []string, item string) bool {
	_, found := slices.BinarySearch(set, item)
	return found
}

func normalizeSet(items []string) []string {
	out := make([]string, 0, len(items))
	return addToSet(out, items...)
}
