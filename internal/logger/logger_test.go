package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		level   string
		wantErr bool
	}{
		{name: "prod", env: "prod"},
		{name: "dev", env: "dev"},
		{name: "local with level", env: "local", level: "warn"},
		{name: "unknown env", env: "staging", wantErr: true},
		{name: "invalid level", env: "dev", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.env, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger returned error: %v", err)
			}
			if l == nil {
				t.Fatal("expected logger instance")
			}
		})
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	l, err := NewLogger("prod", "error")
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if l.Core().Enabled(zapcore.WarnLevel) {
		t.Error("expected warn level to be disabled when level is error")
	}
	if !l.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("expected error level to be enabled")
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected nop logger for empty context")
	}

	l := zap.NewExample()
	ctx := ContextWithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("expected stored logger to be returned")
	}
}
