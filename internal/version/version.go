// Package version exposes the build identity stamped into the binary.
// Release builds override these through -ldflags "-X ..."; a plain
// `go build` keeps the dev defaults.
package version

//nolint:revive // Overwritten by the linker at release build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
