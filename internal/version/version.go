// Package version provides version information.
package version

import (
	"fmt"
	"runtime/debug"

	"github.com/ctagard/jerry-coverage/internal/jerry"
)

const (
	// Version is the current version of jerry-coverage
	Version = "0.2.0"

	// Name is the program and MCP server name
	Name = "jerry-coverage"
)

// String returns the version line printed by -version.
func String() string {
	s := fmt.Sprintf("%s version %s (debugger protocol %d)", Name, Version, jerry.ProtocolVersion)
	if rev := revision(); rev != "" {
		s += " " + rev
	}
	return s
}

// revision returns the VCS revision embedded by the Go toolchain, if any.
func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
			return setting.Value[:12]
		}
	}
	return ""
}
