// Package buildinfo holds version and build metadata stamped at compile
// time via ldflags:
//
//	go build -ldflags "-X github.com/nugget/hassflux/internal/buildinfo.Version=v1.2.0"
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// startTime records when the process started.
var startTime = time.Now()

// Info returns the static build metadata.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// RuntimeInfo returns [Info] plus the process uptime.
func RuntimeInfo() map[string]string {
	info := Info()
	info["uptime"] = Uptime().String()
	return info
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("hassflux %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return "hassflux/" + Version + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
