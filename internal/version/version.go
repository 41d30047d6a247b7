// Package version reports the muxrun build version.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/muxrun"

// buildVersion is set via -ldflags "-X pkt.systems/muxrun/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Version   string
	Module    string
	GoVersion string
	Revision  string
	Modified  bool
}

// String renders the info on one line.
func (i Info) String() string {
	out := fmt.Sprintf("%s %s", i.Module, i.Version)
	if i.GoVersion != "" {
		out += " " + i.GoVersion
	}
	return out
}

// Current returns the best available version string (without dirty suffix).
func Current() string {
	return Read(false).Version
}

// CurrentWithDirty returns the best available version string (including dirty suffix when available).
func CurrentWithDirty() string {
	return Read(true).Version
}

// Read collects version information from the build.
func Read(includeDirty bool) Info {
	info := Info{Module: defaultModule, Version: "v0.0.0-unknown"}
	build, ok := debug.ReadBuildInfo()
	if ok {
		if path := strings.TrimSpace(build.Main.Path); path != "" {
			info.Module = path
		}
		info.GoVersion = build.GoVersion
		info.Revision, _, info.Modified = vcsSettings(build)
	}
	switch {
	case strings.TrimSpace(buildVersion) != "":
		info.Version = normalizeVersion(buildVersion, includeDirty)
	case ok && strings.TrimSpace(build.Main.Version) != "" && build.Main.Version != "(devel)":
		info.Version = normalizeVersion(build.Main.Version, includeDirty)
	case ok:
		if v := pseudoFromBuildInfo(build, includeDirty); v != "" {
			info.Version = v
		}
	}
	return info
}

func normalizeVersion(v string, includeDirty bool) string {
	value := strings.TrimSpace(v)
	if includeDirty {
		return value
	}
	return strings.TrimSuffix(value, "+dirty")
}

func vcsSettings(info *debug.BuildInfo) (revision, vcsTime string, modified bool) {
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	return revision, vcsTime, modified
}

func pseudoFromBuildInfo(info *debug.BuildInfo, includeDirty bool) string {
	if info == nil {
		return ""
	}
	revision, vcsTime, modified := vcsSettings(info)
	if revision == "" || vcsTime == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcsTime)
	if err != nil {
		return ""
	}
	rev := revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + rev
	if modified && includeDirty {
		ver += "+dirty"
	}
	return ver
}
