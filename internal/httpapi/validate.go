package httpapi

import (
	"regexp"
	"unicode/utf8"
)

// extensionRe validates internal extensions: 3-6 digits.
var extensionRe = regexp.MustCompile(`^\d{3,6}$`)

// e164Re validates E.164 numbers: a leading '+' followed by 8-15 digits.
var e164Re = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// validateStringLen checks a string's rune length is within [minLen, maxLen].
// Returns an error message, or empty string when valid.
func validateStringLen(field, value string, minLen, maxLen int) string {
	n := utf8.RuneCountInString(value)
	if n < minLen {
		return field + " is required"
	}
	if n > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateDestination checks that to is either an E.164 number or an
// internal extension (3-6 digits).
func validateDestination(to string) string {
	if to == "" {
		return "to is required"
	}
	if e164Re.MatchString(to) || extensionRe.MatchString(to) {
		return ""
	}
	return "to must be an E.164 number or a 3-6 digit extension"
}

// validateMode checks mode is one of the two recognized call modes, or
// empty (caller takes the default).
func validateMode(mode string) string {
	switch mode {
	case "", "announce", "conversation":
		return ""
	default:
		return "mode must be 'announce' or 'conversation'"
	}
}

// validateTimeoutSeconds checks v falls in [5,120] when provided (0 means
// "not provided", caller substitutes a default).
func validateTimeoutSeconds(v int) string {
	if v == 0 {
		return ""
	}
	if v < 5 || v > 120 {
		return "timeoutSeconds must be between 5 and 120"
	}
	return ""
}

// validateQueryTimeout checks v falls in (0,120] when provided.
func validateQueryTimeout(v int) string {
	if v == 0 {
		return ""
	}
	if v < 1 || v > 120 {
		return "timeout must be between 1 and 120"
	}
	return ""
}

// validateFormat checks format is one of the two recognized response
// formats, or empty (caller takes the default).
func validateFormat(format string) string {
	switch format {
	case "", "text", "json":
		return ""
	default:
		return "format must be 'text' or 'json'"
	}
}
