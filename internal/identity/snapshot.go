package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/NolanFox/rhodesli/internal/database"
)

const schemaVersion = 1

// SnapshotError is returned when the identities snapshot fails validation.
type SnapshotError = database.SnapshotError

type snapshotDocument struct {
	SchemaVersion int                  `json:"schema_version"`
	Identities    map[string]*Identity `json:"identities"`
	History       []HistoryEntry       `json:"history"`
}

func snapshotErr(key string, err error) error {
	return &SnapshotError{Snapshot: database.SnapshotIdentities, Key: key, Err: err}
}

func encodeSnapshot(identities map[string]*Identity, history []HistoryEntry) ([]byte, error) {
	if err := validateIdentities(identities); err != nil {
		return nil, err
	}
	if history == nil {
		history = []HistoryEntry{}
	}

	doc := snapshotDocument{
		SchemaVersion: schemaVersion,
		Identities:    identities,
		History:       history,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode identities: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (map[string]*Identity, []HistoryEntry, error) {
	top, err := database.DecodeEnvelope(database.SnapshotIdentities, data, schemaVersion, "identities", "history")
	if err != nil {
		return nil, nil, err
	}

	var identities map[string]*Identity
	if err := json.Unmarshal(top["identities"], &identities); err != nil {
		return nil, nil, snapshotErr("identities", err)
	}
	var history []HistoryEntry
	if err := json.Unmarshal(top["history"], &history); err != nil {
		return nil, nil, snapshotErr("history", err)
	}
	if identities == nil {
		identities = make(map[string]*Identity)
	}

	for id, ident := range identities {
		if ident == nil {
			return nil, nil, snapshotErr(id, errors.New("identity is null"))
		}
		if ident.ID == "" {
			ident.ID = id
		}
		ident.AnchorIDs = normalizeSet(ident.AnchorIDs)
		ident.CandidateIDs = normalizeSet(ident.CandidateIDs)
		ident.NegativeIDs = normalizeSet(ident.NegativeIDs)
	}
	if err := validateIdentities(identities); err != nil {
		return nil, nil, err
	}
	return identities, history, nil
}

// validateIdentities checks the structural invariants of a snapshot.
func validateIdentities(identities map[string]*Identity) error {
	ids := make([]string, 0, len(identities))
	for id := range identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	owner := make(map[string]string)
	for _, id := range ids {
		ident := identities[id]
		if ident.ID != id {
			return snapshotErr(id+".identity_id", fmt.Errorf("does not match key (got %q)", ident.ID))
		}
		if !ident.State.Valid() {
			return snapshotErr(id+".state", fmt.Errorf("%q: %w", ident.State, ErrInvalidState))
		}
		for _, f := range ident.AnchorIDs {
			if inSet(ident.CandidateIDs, f) {
				return snapshotErr(id, fmt.Errorf("face %s is both anchor and candidate", f))
			}
		}
		if ident.IsTombstone() {
			if _, ok := identities[ident.MergedInto]; !ok {
				return snapshotErr(id+".merged_into", fmt.Errorf("unknown identity %s", ident.MergedInto))
			}
			continue
		}
		for _, f := range ident.MemberFaceIDs() {
			if prev, ok := owner[f]; ok {
				return snapshotErr(id, fmt.Errorf("face %s also belongs to %s", f, prev))
			}
			owner[f] = id
		}
	}
	return nil
}
