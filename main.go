package main

import (
	"fmt"
	"runtime/debug"

	"github.com/marcus/actsync/cmd"
)

// Version is stamped by release builds with -ldflags "-X main.Version=v1.2.3".
var Version = ""

// resolveVersion prefers the stamped version, then the module version
// recorded by go install, then the VCS revision of a local build.
func resolveVersion(stamped string, info *debug.BuildInfo) string {
	if stamped != "" {
		return stamped
	}
	if info == nil {
		return "unknown"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	settings := map[string]string{}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if rev == "" {
		return "unknown"
	}
	rev = rev[:min(len(rev), 7)]
	if settings["vcs.modified"] == "true" {
		return fmt.Sprintf("local-%s-modified", rev)
	}
	return "local-" + rev
}

func main() {
	info, _ := debug.ReadBuildInfo()
	cmd.SetVersion(resolveVersion(Version, info))
	cmd.Execute()
}
