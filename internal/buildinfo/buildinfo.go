// Package buildinfo exposes version metadata stamped into the binary.
package buildinfo

import "runtime/debug"

// UnknownValue is reported for metadata that was not stamped.
const UnknownValue = "unknown"

// Set with -ldflags "-X github.com/tphakala/pipecounter/internal/buildinfo.version=..."
var (
	version   string
	buildDate string
)

// Info is the metadata of the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"goVersion,omitempty"`
}

// Current returns the stamped metadata, falling back to the module and VCS
// information recorded by the Go toolchain.
func Current() Info {
	return resolve(version, buildDate, debug.ReadBuildInfo)
}

func resolve(v, date string, read func() (*debug.BuildInfo, bool)) Info {
	info := Info{Version: v, BuildDate: date}
	if bi, ok := read(); ok {
		info.GoVersion = bi.GoVersion
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			}
		}
	}
	if info.Version == "" {
		info.Version = UnknownValue
	}
	if info.BuildDate == "" {
		info.BuildDate = UnknownValue
	}
	return info
}
