// Package version carries build identification, stamped through -ldflags.
package version

var (
	// Version is the driver release, "dev" for untagged builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
