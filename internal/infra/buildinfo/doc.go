// Package buildinfo exposes version, commit, build time and Go version
// injected via ldflags. ImageTag is recorded in snapshot images.
package buildinfo
