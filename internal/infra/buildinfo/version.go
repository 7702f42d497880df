// Package buildinfo provides build-time version information.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/snapfn-go/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo

import "runtime/debug"

// Build-time variables (set via ldflags).
var (
	// Version is the semantic version.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"

	// GoVersion is the Go version used to build.
	GoVersion = "unknown"
)

// Info contains build information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	ImageTag  string `json:"image_tag" yaml:"image_tag"`
}

// Get returns the build information.
func Get() Info {
	goVersion := GoVersion
	if goVersion == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			goVersion = bi.GoVersion
		}
	}
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: goVersion,
		ImageTag:  ImageTag(),
	}
}

// ImageTag identifies the build a snapshot image was captured by. An image
// is only resumed by a binary with the same tag.
func ImageTag() string {
	return Version + "+" + Commit
}

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built at " + BuildTime
}
