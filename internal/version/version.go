// Package version holds build-time version information, injected through
// -ldflags by the release pipeline.
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
