package util

import "strings"

// NormalizeSpace lowercases s and collapses all runs of whitespace to single
// spaces so phrase matching survives the site's markup churn
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContainsPhrase reports whether the normalized haystack contains the
// normalized phrase
func ContainsPhrase(haystack, phrase string) bool {
	return strings.Contains(NormalizeSpace(haystack), NormalizeSpace(phrase))
}

// TruncateString truncates a string to maxLen characters for logging
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
