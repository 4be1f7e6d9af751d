package validation

import (
	"errors"
	"strings"
	"testing"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

func TestValidateAdvisorID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "advisor1", false},
		{"with hyphen", "adv-1", false},
		{"with underscore", "adv_1", false},
		{"email-like", "ana.rao@example.com", false},
		{"numbers", "123", false},
		{"max length", strings.Repeat("a", 128), false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"control char", "a\x00b", true},
		{"space", "adv 1", true},
		{"glob", "adv*", true},
		{"non-ascii", "açaí", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAdvisorID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAdvisorID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, cserrors.ErrInvalidInput) {
				t.Errorf("ValidateAdvisorID(%q) error = %v, want ErrInvalidInput", tt.input, err)
			}
		})
	}
}

func TestValidateContentID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"uuid", "3f1c2a9e-8d4b-4c1e-9a7f-0b2d6e5c4a31", false},
		{"short", "c-1", false},
		{"empty", "", true},
		{"dot", "a.b", true},
		{"at", "a@b", true},
		{"slash", "../etc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContentID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContentID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func BenchmarkValidateAdvisorID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = ValidateAdvisorID("ana.rao@example.com")
	}
}
