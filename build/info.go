package build

import "runtime/debug"

// Version is overridden at link time: -ldflags "-X club-link/build.Version=1.2.0".
var Version = "dev"

type Info struct {
	Version    string `json:"version"`
	Path       string `json:"path,omitempty"`
	CommitHash string `json:"commitHash,omitempty"`
	CommitTime string `json:"commitTime,omitempty"`
	Modified   bool   `json:"modified,omitempty"`
}

func GetBuildInfo() *Info {
	result := &Info{Version: Version}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return result
	}

	result.Path = bi.Main.Path
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			result.CommitHash = s.Value
		case "vcs.time":
			result.CommitTime = s.Value
		case "vcs.modified":
			result.Modified = s.Value == "true"
		}
	}
	return result
}
