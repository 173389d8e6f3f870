package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.WarnLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" INFO ", zapcore.InfoLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"chatty", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New("debug")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be enabled")
	}

	if _, err := New("loud"); err == nil {
		t.Error("New() with unknown level should fail")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := Nop()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
