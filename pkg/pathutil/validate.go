// Package pathutil provides name validation utilities for dvgate.
package pathutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/dvgate-project/dvgate/pkg/errclass"
)

var labelRegex = regexp.MustCompile(`^[a-zA-Z0-9._ -]+$`)

// ValidateLabel checks a token label for safety: labels end up in the
// ledger, the audit log, and terminal reports.
func ValidateLabel(label string) error {
	if label == "" {
		return errclass.ErrNameInvalid.WithMessage("label must not be empty")
	}

	// NFC normalize
	label = norm.NFC.String(label)

	for _, r := range label {
		if unicode.IsControl(r) {
			return errclass.ErrNameInvalid.WithMessagef("label must not contain control characters: %q", label)
		}
	}

	if !labelRegex.MatchString(label) {
		return errclass.ErrNameInvalid.WithMessagef("label must match [a-zA-Z0-9._ -]+: %s", label)
	}

	return nil
}

// NormalizeUser NFC-normalizes a user identity string. Comparison casing is
// applied separately per the policy's case_sensitive_users option.
func NormalizeUser(user string) string {
	return norm.NFC.String(strings.TrimSpace(user))
}
