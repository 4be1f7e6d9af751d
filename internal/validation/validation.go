// Package validation checks the identifiers that become part of cache keys,
// object keys and query paths.
package validation

import (
	"fmt"
	"unicode"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

// =============================================================================
// Identifier Validation
// =============================================================================

// IDRules defines the validation rules for an identifier.
type IDRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
	AllowAt      bool
}

// AdvisorIDRules returns the rules for advisor IDs. An advisor ID is a
// path segment of every archive key, so it is bounded by the object tag
// value limit.
func AdvisorIDRules() IDRules {
	return IDRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowAt:      true,
	}
}

// ContentIDRules returns the rules for content IDs.
func ContentIDRules() IDRules {
	return IDRules{
		MinLength:    1,
		MaxLength:    64,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateID validates an identifier according to the given rules.
func ValidateID(id string, rules IDRules) error {
	if len(id) < rules.MinLength {
		return fmt.Errorf("too short: minimum %d characters required", rules.MinLength)
	}
	if len(id) > rules.MaxLength {
		return fmt.Errorf("too long: maximum %d characters allowed", rules.MaxLength)
	}

	if id == "." || id == ".." {
		return fmt.Errorf("cannot be '.' or '..'")
	}

	for i, r := range id {
		if r < 32 || r == 127 {
			return fmt.Errorf("cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("cannot contain path separators at position %d", i)
		}
		if !isAllowedIDChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedIDChar(r rune, rules IDRules) bool {
	if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case '@':
		return rules.AllowAt
	}
	return false
}

// ValidateAdvisorID validates an advisor ID. Failures wrap
// errors.ErrInvalidInput.
func ValidateAdvisorID(id string) error {
	if err := ValidateID(id, AdvisorIDRules()); err != nil {
		return cserrors.NewInvalidInput("advisor_id", err.Error())
	}
	return nil
}

// ValidateContentID validates a content ID. Failures wrap
// errors.ErrInvalidInput.
func ValidateContentID(id string) error {
	if err := ValidateID(id, ContentIDRules()); err != nil {
		return cserrors.NewInvalidInput("content_id", err.Error())
	}
	return nil
}
