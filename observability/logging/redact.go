package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys that always carry secrets: signer material and API credentials must
// never reach log output even when handed to a generic attribute helper.
var sensitiveKeys = map[string]struct{}{
	"signer_key":   {},
	"bearer_token": {},
	"api_key":      {},
	"apikey":       {},
}

// IsSensitive reports whether the provided key must be masked before logging.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values.
// Empty values are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// Field returns a slog.Attr that redacts the supplied value when the key is a
// known secret carrier. The original key casing is preserved for readability.
func Field(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
