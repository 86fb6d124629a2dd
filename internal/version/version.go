// Package version holds the build version, set by ldflags during build.
package version

// Version is the build version string (vX.Y.Z, or vX.Y.Z-dev for development builds).
var Version = "v0.3.0-dev"

// BuildTime is the build timestamp.
var BuildTime = "unknown"
