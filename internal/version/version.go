// Package version holds the build version, overridden at link time with
// -ldflags "-X github.com/ndewijer/portfolio-snapshot/internal/version.Version=...".
package version

// Version is the application version recorded on every run.
var Version = "dev"
