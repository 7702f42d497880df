package logger

import (
	"log/slog"
	"strings"
)

const redacted = "***REDACTED***"

// Attribute names containing any of these are masked. Matching is on the
// full dotted path, so a group named "credentials" masks all its members.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"credential",
	"auth",
	"bearer",
	"session",
	"access_key",
	"encryption_key",
}

// redact is the ReplaceAttr hook of every handler built by New.
func redact(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if v == "" {
		return a
	}
	if masked, ok := maskAccessKey(v); ok {
		return slog.String(a.Key, masked)
	}
	path := a.Key
	if len(groups) > 0 {
		path = strings.Join(groups, ".") + "." + a.Key
	}
	if IsSensitiveKey(path) {
		return slog.String(a.Key, redacted)
	}
	return a
}

// maskAccessKey masks AWS access key IDs: AKIA (long-term) or ASIA
// (temporary, as on Lambda) followed by 16 upper-case alphanumerics. The
// prefix and the last four characters stay visible.
func maskAccessKey(v string) (string, bool) {
	if len(v) != 20 || (!strings.HasPrefix(v, "AKIA") && !strings.HasPrefix(v, "ASIA")) {
		return "", false
	}
	for i := 4; i < len(v); i++ {
		c := v[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", false
		}
	}
	return v[:4] + "..." + v[16:], true
}

// RedactString masks s when it is an access key ID.
func RedactString(s string) string {
	if masked, ok := maskAccessKey(s); ok {
		return masked
	}
	return s
}

// IsSensitiveKey reports whether an attribute name suggests a secret.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, p := range sensitiveKeys {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

// IsSensitiveValue reports whether s looks like an access key ID.
func IsSensitiveValue(s string) bool {
	_, ok := maskAccessKey(s)
	return ok
}
