package config

import (
	"net/url"
	"strings"
)

// Sanitize returns a copy of cfg that is safe to print: the image key is
// masked and credentials embedded in the store endpoint URL are dropped.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	if out.Snapshot.EncryptionKey != "" {
		out.Snapshot.EncryptionKey = maskSecret(out.Snapshot.EncryptionKey)
	}
	if u, err := url.Parse(out.Store.Endpoint); err == nil && u.User != nil {
		out.Store.Endpoint = u.Redacted()
	}
	return &out
}

// maskSecret keeps the length and the two characters at each end.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
