// Package version exposes the service release and build metadata for the
// health endpoint.
package version

import "runtime/debug"

// Version is the service release, overridable at build time with
// -ldflags "-X mnemo.evalgo.org/version.Version=...".
var Version = "0.1.0"

// BuildInfo is the build identity reported by the health endpoint.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Revision  string `json:"revision,omitempty"`
}

// GetBuildInfo reads the vcs revision and toolchain version embedded in
// the binary. Fields stay empty when built without module support.
func GetBuildInfo() BuildInfo {
	out := BuildInfo{Version: Version}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = info.GoVersion
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			out.Revision = s.Value
			break
		}
	}
	return out
}
