// Package redact strips bearer tokens and similar credentials from strings
// before they reach logs or chat rooms.
//
// Tokens obtained through the sign-in flow are held only in memory for the
// duration of one flow instance and must never leak through a log line or an
// error message echoed back to the user. Redaction is best-effort: callers
// still should not log tokens in the first place.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid spurious
// redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Error redacts sensitive values from an error's message, returning the
// cleaned text. Returns "" for a nil error.
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}
