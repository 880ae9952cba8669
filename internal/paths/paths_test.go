package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	r := New(map[string]string{
		"data":  "/var/lib/thane-mcp",
		"state": "/run/thane-mcp",
	})

	tests := []struct {
		name string
		path string
		want string
	}{
		{"data prefix", "data:calls.db", filepath.Join("/var/lib/thane-mcp", "calls.db")},
		{"data nested", "data:servers/fs", filepath.Join("/var/lib/thane-mcp", "servers", "fs")},
		{"state prefix", "state:sock", filepath.Join("/run/thane-mcp", "sock")},
		{"bare prefix", "data:", "/var/lib/thane-mcp"},
		{"absolute path unchanged", "/absolute/path", "/absolute/path"},
		{"relative path unchanged", "relative/path", "relative/path"},
		{"empty string unchanged", "", ""},
		{"no match", "unknown:foo", "unknown:foo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolve_NilReceiver(t *testing.T) {
	var r *Resolver
	if got := r.Resolve("data:calls.db"); got != "data:calls.db" {
		t.Errorf("nil Resolve = %q, want unchanged", got)
	}
}

func TestResolve_LongerPrefixFirst(t *testing.T) {
	r := New(map[string]string{
		"data":     "/short",
		"database": "/long",
	})

	if got := r.Resolve("database:x"); got != filepath.Join("/long", "x") {
		t.Errorf("expected longer prefix to match, got %q", got)
	}
	if got := r.Resolve("data:x"); got != filepath.Join("/short", "x") {
		t.Errorf("expected shorter prefix to match, got %q", got)
	}
}

func TestNew_EmptyMap(t *testing.T) {
	if r := New(nil); r != nil {
		t.Error("New(nil) should return nil")
	}
	if r := New(map[string]string{}); r != nil {
		t.Error("New(empty) should return nil")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"~", home},
		{"~/mcp/servers.yaml", filepath.Join(home, "mcp", "servers.yaml")},
		{"~other/x", "~other/x"},
		{"/etc/thane-mcp", "/etc/thane-mcp"},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.path); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}

	// Prefix directories and plain paths are both expanded.
	r := New(map[string]string{"data": "~/thane"})
	if got := r.Resolve("data:calls.db"); got != filepath.Join(home, "thane", "calls.db") {
		t.Errorf("prefix dir not expanded: %q", got)
	}
	if got := r.Resolve("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("plain path not expanded: %q", got)
	}
}
