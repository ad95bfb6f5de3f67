package database

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSnapshot marks persisted state that failed validation.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// SnapshotError describes why a snapshot could not be loaded or saved.
type SnapshotError struct {
	Snapshot string // snapshot name, e.g. "identities"
	Key      string // offending key or record, empty when the whole document is bad
	Err      error  // underlying cause
}

func (e *SnapshotError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s snapshot: %q: %v", e.Snapshot, e.Key, e.Err)
	}
	return fmt.Sprintf("%s snapshot: %v", e.Snapshot, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// Is makes every SnapshotError match ErrInvalidSnapshot.
func (e *SnapshotError) Is(target error) bool { return target == ErrInvalidSnapshot }

// DecodeEnvelope parses the top level of a versioned snapshot document and
// checks that schema_version matches and that every required key is present.
func DecodeEnvelope(snapshot string, data []byte, version int, required ...string) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &SnapshotError{Snapshot: snapshot, Err: fmt.Errorf("malformed document: %w", err)}
	}
	if top == nil {
		return nil, &SnapshotError{Snapshot: snapshot, Err: errors.New("document is null")}
	}

	for _, key := range append([]string{"schema_version"}, required...) {
		if _, ok := top[key]; !ok {
			return nil, &SnapshotError{Snapshot: snapshot, Key: key, Err: errors.New("missing required key")}
		}
	}

	var got int
	if err := json.Unmarshal(top["schema_version"], &got); err != nil {
		return nil, &SnapshotError{Snapshot: snapshot, Key: "schema_version", Err: err}
	}
	if got != version {
		return nil, &SnapshotError{
			Snapshot: snapshot,
			Key:      "schema_version",
			Err:      fmt.Errorf("unsupported version %d, expected %d", got, version),
		}
	}
	return top, nil
}
