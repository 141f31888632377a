// Package version exposes the build metadata stamped into the binary.
package version

import (
	"fmt"
	"runtime"
)

// Stamped via -ldflags at release time; the zero values mean a local build.
var (
	Number = "dev"
	Commit = ""
	Date   = ""
)

// Info is the resolved build metadata for one binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Built     string `json:"built"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get resolves the stamped variables together with the runtime facts.
func Get() Info {
	i := Info{
		Version:   Number,
		Commit:    Commit,
		Built:     Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if i.Commit == "" {
		i.Commit = "unknown"
	}
	if i.Built == "" {
		i.Built = "unknown"
	}
	return i
}

// String is the long form shown by `kraken version`.
func (i Info) String() string {
	return fmt.Sprintf("kraken %s (commit %s, built %s)", i.Version, i.Commit, i.Built)
}

// Short is the compact form for startup logs: version plus abbreviated
// commit, or the bare version for local builds.
func (i Info) Short() string {
	if i.Commit == "unknown" {
		return i.Version
	}
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return i.Version + "+" + commit
}
