package utils

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxCandidateRefLength bounds the caller-supplied candidate reference
const MaxCandidateRefLength = 128

var (
	controlChars    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	candidateRefSet = regexp.MustCompile(`^[A-Za-z0-9._:@/\-]*$`)
)

// ValidateCandidateRef checks a candidate reference used to label a session.
// An empty reference is allowed.
func ValidateCandidateRef(ref string) error {
	if utf8.RuneCountInString(ref) > MaxCandidateRefLength {
		return fmt.Errorf("candidate_ref exceeds %d characters", MaxCandidateRefLength)
	}
	if !candidateRefSet.MatchString(ref) {
		return fmt.Errorf("candidate_ref contains unsupported characters: %q", ref)
	}
	return nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
