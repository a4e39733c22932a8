package util

import (
	"fmt"
	"strings"
	"unicode"
)

// GenerateTaskID returns a task ID in the format t01, t02, ..., t99, t100, etc.
func GenerateTaskID(index int) string {
	return fmt.Sprintf("t%02d", index+1)
}

// KebabCase converts a string to kebab-case for use in session directory
// names. It lowercases the string, replaces spaces and underscores with
// hyphens, drops other non-alphanumeric characters, collapses consecutive
// hyphens, and trims leading/trailing hyphens.
func KebabCase(s string) string {
	var result strings.Builder

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(unicode.ToLower(r))
		} else if r == ' ' || r == '_' || r == '-' {
			result.WriteRune('-')
		}
		// Other characters are dropped
	}

	str := result.String()
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}

	return strings.Trim(str, "-")
}
