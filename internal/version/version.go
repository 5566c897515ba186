// Package version carries the build version stamped at link time.
package version

// Version is overridden via -ldflags "-X .../internal/version.Version=...".
var Version = "dev"
