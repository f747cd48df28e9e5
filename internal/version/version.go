// Package version provides build and version information for the Sutera world loader.
package version

// Version is the current release version of the world loader.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/sutera/worldloader/internal/version.Version=x.y.z"
var Version = "0.3.0"
