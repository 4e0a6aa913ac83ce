// Package version reports build metadata injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the release version, overridden with -ldflags "-X".
	Version = "0.1.0-dev"
	// Commit is the git revision the binary was built from.
	Commit = ""
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Short returns the release version.
func Short() string {
	return Version
}

// Full returns version, revision, build time and Go runtime.
func Full() string {
	return fmt.Sprintf("door-monitor %s (commit: %s, built at: %s, %s)",
		Version, commit(), BuildTime, runtime.Version())
}

// commit falls back to the VCS stamp the go tool embeds.
func commit() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "none"
}
