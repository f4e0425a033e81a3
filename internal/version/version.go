// Package version reports the build version of mailsetup.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time with
//
//	-ldflags="-X github.com/nhle/mailsetup/internal/version.Version=v1.2.3 \
//	          -X github.com/nhle/mailsetup/internal/version.Commit=abc123"
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Version == "" || Commit == "" {
		fromBuildInfo()
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	var revision string
	var modified bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if Commit == "" && revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		Commit = revision
		if modified {
			Commit += "-dirty"
		}
	}
}

// String returns "<version> (commit: <commit>)".
func String() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}
