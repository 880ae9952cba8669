// Package buildinfo reports which thane-mcp build is running. Release
// builds stamp the values with ldflags; plain "go build" and
// "go install" builds fall back to the module and VCS data the Go
// toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Name identifies this program to MCP servers and in logs.
const Name = "thane-mcp"

// Set at build time, e.g.
//
//	-X github.com/nugget/thane-mcp/internal/buildinfo.Version=v0.3.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Build is the resolved build identity.
type Build struct {
	Version   string
	GitCommit string
	BuildTime string
	Modified  bool
}

var (
	resolveOnce sync.Once
	resolved    Build
)

// Current returns the build identity, preferring ldflags values and
// filling gaps from the embedded module and VCS settings.
func Current() Build {
	resolveOnce.Do(func() {
		bi, _ := debug.ReadBuildInfo()
		resolved = resolve(Version, GitCommit, BuildTime, bi)
	})
	return resolved
}

func resolve(version, commit, built string, bi *debug.BuildInfo) Build {
	b := Build{Version: version, GitCommit: commit, BuildTime: built}
	if bi == nil {
		return b
	}

	if b.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		b.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.GitCommit == "unknown" {
				b.GitCommit = shortRevision(s.Value)
			}
		case "vcs.time":
			if b.BuildTime == "unknown" {
				b.BuildTime = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// Info returns build and runtime details for the version command.
func Info() map[string]string {
	b := Current()
	info := map[string]string{
		"version":    b.Version,
		"git_commit": b.GitCommit,
		"build_time": b.BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
	if b.Modified {
		info["modified"] = "true"
	}
	return info
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logging.
func String() string {
	b := Current()
	dirty := ""
	if b.Modified {
		dirty = "+dirty"
	}
	return fmt.Sprintf("%s %s (%s%s) built %s", Name, b.Version, b.GitCommit, dirty, b.BuildTime)
}
