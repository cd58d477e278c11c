// Package version holds build metadata injected with -ldflags:
//
//	go build -ldflags "-X github.com/HerbHall/relayscan/internal/version.Version=v0.2.0"
package version

import "runtime"

// Set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Short returns the version string alone.
func Short() string {
	return Version
}

// Map returns build metadata for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// Info returns a one-line summary for the version command.
func Info() string {
	return "relayscan " + Version + " (" + GitCommit + ", built " + BuildDate + ", " + runtime.Version() + ")"
}
