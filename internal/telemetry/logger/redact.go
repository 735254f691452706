package logger

import (
	"log/slog"
	"strings"
)

// jwtPrefix starts every base64url-encoded JWT header.
const jwtPrefix = "eyJ"

// Sensitive key patterns that should be redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"verifier",
	"challenge",
	"code",
	"credential",
	"authorization",
	"bearer",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive redacts string attributes that look like JWTs or whose
// key suggests sensitive content.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		strVal := a.Value.String()
		if strings.HasPrefix(strVal, jwtPrefix) {
			return slog.String(a.Key, maskValue(strVal))
		}
		if strVal != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	return a
}

// maskValue keeps the first and last 4 characters of value.
func maskValue(value string) string {
	if len(value) <= 12 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// RedactString masks a token for display. Short values are fully masked.
func RedactString(value string) string {
	if value == "" {
		return ""
	}
	return maskValue(value)
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
