// Package paths resolves the directory references allowed in
// configuration files: a leading ~ for the user's home directory and
// named prefixes such as "data:" that stand for a configured directory.
package paths

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver maps named prefixes to directories. A nil *Resolver only
// expands home directories.
type Resolver struct {
	prefixes map[string]string // "data:" -> "/var/lib/thane-mcp"
	sorted   []string          // longest first
}

// New creates a Resolver from a prefix-to-directory map. Keys are
// prefix names without the trailing colon. Tildes in the directories
// are expanded here. New returns nil for an empty map.
func New(prefixes map[string]string) *Resolver {
	if len(prefixes) == 0 {
		return nil
	}
	m := make(map[string]string, len(prefixes))
	sorted := make([]string, 0, len(prefixes))
	for name, dir := range prefixes {
		key := strings.TrimSuffix(name, ":") + ":"
		m[key] = ExpandHome(dir)
		sorted = append(sorted, key)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	return &Resolver{prefixes: m, sorted: sorted}
}

// Resolve expands a prefixed or ~ path. Anything else, including the
// empty string, is returned unchanged. A bare prefix resolves to its
// directory.
func (r *Resolver) Resolve(path string) string {
	if r != nil {
		for _, prefix := range r.sorted {
			if rel, ok := strings.CutPrefix(path, prefix); ok {
				if rel == "" {
					return r.prefixes[prefix]
				}
				return filepath.Join(r.prefixes[prefix], rel)
			}
		}
	}
	return ExpandHome(path)
}

// ExpandHome replaces a leading ~ with the user's home directory. Paths
// of the form ~user are left alone.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
