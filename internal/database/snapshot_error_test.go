package database

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantKey string
		wantErr bool
	}{
		{name: "valid", data: `{"schema_version":1,"photos":{}}`},
		{name: "malformed", data: `{"schema_version":`, wantErr: true},
		{name: "null document", data: `null`, wantErr: true},
		{name: "missing version", data: `{"photos":{}}`, wantKey: "schema_version", wantErr: true},
		{name: "missing required", data: `{"schema_version":1}`, wantKey: "photos", wantErr: true},
		{name: "wrong version", data: `{"schema_version":2,"photos":{}}`, wantKey: "schema_version", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope("test", []byte(tt.data), 1, "photos")
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("expected ErrInvalidSnapshot, got %v", err)
			}
			if errors.Unwrap(err) == nil {
				t.Error("expected a chained cause")
			}
			var snapErr *SnapshotError
			if !errors.As(err, &snapErr) {
				t.Fatalf("expected *SnapshotError, got %T", err)
			}
			if snapErr.Key != tt.wantKey {
				t.Errorf("expected key %q, got %q", tt.wantKey, snapErr.Key)
			}
			if tt.wantKey != "" && !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("expected error to mention %q: %v", tt.wantKey, err)
			}
		})
	}
}
