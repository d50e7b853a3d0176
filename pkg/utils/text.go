// Package utils provides shared utilities for text and logging.
package utils

import "strings"

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TokenCount returns a rough token count for text (whitespace-separated words).
// Used for context budgeting and manifest accounting; a proxy, not a model tokenizer.
func TokenCount(text string) int {
	return len(strings.Fields(text))
}
