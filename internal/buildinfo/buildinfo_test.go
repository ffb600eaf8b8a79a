package buildinfo

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if info[k] == "" {
			t.Errorf("Info()[%q] is empty", k)
		}
	}
	if _, ok := info["uptime"]; ok {
		t.Error("Info() should not include uptime")
	}
	if RuntimeInfo()["uptime"] == "" {
		t.Error("RuntimeInfo() missing uptime")
	}
}

func TestStringAndUserAgent(t *testing.T) {
	if s := String(); !strings.HasPrefix(s, "hassflux "+Version) {
		t.Errorf("String() = %q", s)
	}
	if ua := UserAgent(); !strings.HasPrefix(ua, "hassflux/"+Version+" (") {
		t.Errorf("UserAgent() = %q", ua)
	}
}
