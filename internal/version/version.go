// Package version reports the build version of the channel service.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// Version can be overridden by ldflags at build time.
	Version = "dev"
	// CommitHash can be overridden by ldflags at build time.
	CommitHash = ""
	// BuildTime can be overridden by ldflags at build time.
	BuildTime = ""

	vcsOnce sync.Once
)

// Info is the structured build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// Get returns build information, filling commit and time from the embedded
// VCS stamp when ldflags did not set them.
func Get() Info {
	vcsOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if CommitHash == "" {
					CommitHash = setting.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	})
	out := Info{Version: Version, Commit: CommitHash, BuildTime: BuildTime}
	if info, ok := debug.ReadBuildInfo(); ok {
		out.GoVersion = info.GoVersion
	}
	return out
}

// GetInfo returns the version plus the short commit hash, e.g. "v1.2.0 (abc1234)".
func GetInfo() string {
	info := Get()
	res := info.Version
	if info.Commit != "" {
		shortHash := info.Commit
		if len(shortHash) > 7 {
			shortHash = shortHash[:7]
		}
		res += fmt.Sprintf(" (%s)", shortHash)
	}
	return res
}
