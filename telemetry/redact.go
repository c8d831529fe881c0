package telemetry

import (
	"fmt"
	"hash/fnv"
	"regexp"
)

// Key classification for redaction. Secret-bearing keys are blanked
// entirely; email-bearing keys are replaced with a deterministic hash so
// log lines for the same customer still correlate. A key matching both
// patterns is treated as a secret.
var (
	secretKeyPattern = regexp.MustCompile(`(?i)api[_-]?key|token|authorization|password|secret`)
	emailKeyPattern  = regexp.MustCompile(`(?i)email`)
)

const redactedPlaceholder = "[REDACTED]"

// Redact returns a deep copy of fields with sensitive values removed.
// The input is never mutated. QR code URLs and ICCIDs pass through
// untouched; they are delivery artifacts, not secrets.
func Redact(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = redactValue(k, v)
	}
	return out
}

func redactValue(key string, v any) any {
	if secretKeyPattern.MatchString(key) {
		return redactedPlaceholder
	}
	if emailKeyPattern.MatchString(key) {
		if s, ok := v.(string); ok && s != "" {
			return HashEmail(s)
		}
	}

	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = redactValue(k, inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			// Elements inherit the slice's key for pattern purposes.
			out[i] = redactValue(key, inner)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = redactValue(key, inner)
		}
		return out
	default:
		return v
	}
}

// HashEmail produces the 8-hex-char FNV-1a digest used wherever an email
// address appears in logs. Deterministic, not reversible enough for
// display, stable across processes.
func HashEmail(email string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(email))
	return fmt.Sprintf("%08x", h.Sum32())
}
