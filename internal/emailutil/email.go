package emailutil

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Normalize normalizes an email address for consistent comparison
// by converting to lowercase and trimming whitespace
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValid performs a shallow shape check: one @, no whitespace, a dot in the domain.
func IsValid(email string) bool {
	return emailPattern.MatchString(email)
}

// Same reports whether two addresses are equal after normalization.
// Empty addresses never match.
func Same(a, b string) bool {
	a, b = Normalize(a), Normalize(b)
	return a != "" && a == b
}

// ExtractDomain extracts domain from email address
func ExtractDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
