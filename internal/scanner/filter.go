package scanner

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExclusions are path fragments that are never indexed.
var DefaultExclusions = []string{
	".min.js",
	".git",
	".log",
	".tmp",
	".bak",
	".history/",
	"/tmp/",
	"/bin/",
	"/cache/",
	".xml",
	".class",
	"node_modules",
}

// MergeExclusions returns the union of base and extra, keeping first-seen
// order and dropping blanks and duplicates.
func MergeExclusions(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, frag := range list {
			frag = strings.TrimSpace(frag)
			if frag == "" {
				continue
			}
			if _, ok := seen[frag]; ok {
				continue
			}
			seen[frag] = struct{}{}
			out = append(out, frag)
		}
	}
	return out
}

// Filter decides which paths are excluded from indexing.
type Filter struct {
	Fragments []string
	// Globs are doublestar patterns matched against the workspace-relative
	// slash path.
	Globs []string
}

func NewFilter(fragments, globs []string) Filter {
	return Filter{Fragments: fragments, Globs: globs}
}

// Excluded reports whether path should be skipped. Fragments are matched
// against the workspace-relative path with a leading slash, and directories
// get a trailing slash, so "/bin/" matches a bin directory at any depth.
func (f Filter) Excluded(workspace, path string, isDir bool) bool {
	rel := path
	if workspace != "" {
		r, err := filepath.Rel(workspace, path)
		if err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return false
	}
	slash := "/" + strings.TrimPrefix(rel, "/")
	if isDir {
		slash += "/"
	}
	for _, frag := range f.Fragments {
		if strings.Contains(slash, frag) {
			return true
		}
	}
	for _, pattern := range f.Globs {
		if ok, _ := doublestar.Match(pattern, strings.TrimPrefix(rel, "/")); ok {
			return true
		}
	}
	return false
}
