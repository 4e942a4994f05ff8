package types

import (
	"strings"
	"testing"
)

func TestSentinelErrorsDefined(t *testing.T) {
	if ErrInvalidClientID == nil {
		t.Error("ErrInvalidClientID should be defined")
	}
	if ErrMessageTooLarge == nil {
		t.Error("ErrMessageTooLarge should be defined")
	}
}

func TestIsValidClientID(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		want     bool
	}{
		{"empty", "", false},
		{"single char", "x", true},
		{"typical", "client-42", true},
		{"max length", strings.Repeat("x", 100), true},
		{"over max", strings.Repeat("x", 101), false},
		{"content is opaque", "日本語/![]{}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidClientID(tt.clientID); got != tt.want {
				t.Errorf("IsValidClientID(%q) = %v, want %v", tt.clientID, got, tt.want)
			}
		})
	}
}
