package buildinfo

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		version string
		date    string
		read    func() (*debug.BuildInfo, bool)
		want    Info
	}{
		{
			name: "nothing stamped",
			read: func() (*debug.BuildInfo, bool) { return nil, false },
			want: Info{Version: UnknownValue, BuildDate: UnknownValue},
		},
		{
			name:    "ldflags win",
			version: "1.2.0",
			date:    "2026-01-02",
			read: func() (*debug.BuildInfo, bool) {
				return &debug.BuildInfo{GoVersion: "go1.26", Main: debug.Module{Version: "v0.9.0"}}, true
			},
			want: Info{Version: "1.2.0", BuildDate: "2026-01-02", GoVersion: "go1.26"},
		},
		{
			name: "module and vcs fallback",
			read: func() (*debug.BuildInfo, bool) {
				return &debug.BuildInfo{
					Main: debug.Module{Version: "v0.9.0"},
					Settings: []debug.BuildSetting{
						{Key: "vcs.revision", Value: "abc123"},
						{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
					},
				}, true
			},
			want: Info{Version: "v0.9.0", BuildDate: "2026-03-04T05:06:07Z", Commit: "abc123"},
		},
		{
			name: "devel build",
			read: func() (*debug.BuildInfo, bool) {
				return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
			},
			want: Info{Version: UnknownValue, BuildDate: UnknownValue},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolve(tt.version, tt.date, tt.read))
		})
	}
}
