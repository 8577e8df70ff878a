// Package filter selects remote files by name glob, path glob and search
// terms.
package filter

import (
	"path"
	"strings"

	"github.com/driftbox/driftbox/internal/models"
)

// Config holds filter configuration. The zero value matches everything.
type Config struct {
	// Include globs match the file name. Empty means include all.
	Include []string

	// Exclude globs match the file name and win over Include.
	Exclude []string

	// Search terms are case-insensitive substrings of the display name.
	// All of them must match.
	Search []string

	// PathInclude globs match the recorded relative path (or the name when
	// there is none). "**" spans any number of directories.
	PathInclude []string
}

// Empty reports whether c matches everything.
func (c Config) Empty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0 && len(c.Search) == 0 && len(c.PathInclude) == 0
}

// Apply returns the files that match c, keeping their order.
func Apply(files []models.RemoteFile, c Config) []models.RemoteFile {
	if c.Empty() {
		return files
	}
	out := make([]models.RemoteFile, 0, len(files))
	for _, f := range files {
		if c.Match(f) {
			out = append(out, f)
		}
	}
	return out
}

// Match reports whether f passes every filter in c.
func (c Config) Match(f models.RemoteFile) bool {
	display := f.DisplayName()

	if len(c.PathInclude) > 0 && !anyMatch(c.PathInclude, display, MatchPath) {
		return false
	}
	if anyMatch(c.Exclude, f.Name, matchName) {
		return false
	}
	if len(c.Include) > 0 && !anyMatch(c.Include, f.Name, matchName) {
		return false
	}

	lower := strings.ToLower(display)
	for _, term := range c.Search {
		if !strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

func anyMatch(patterns []string, s string, match func(pattern, s string) bool) bool {
	for _, p := range patterns {
		if match(p, s) {
			return true
		}
	}
	return false
}

func matchName(pattern, name string) bool {
	ok, _ := path.Match(pattern, name)
	return ok
}

// MatchPath matches a slash-separated path against a glob that may contain
// "**" segments:
//
//	"**/results.dat" matches "results.dat" and "a/b/results.dat"
//	"run_1/**"       matches "run_1/x" and "run_1/a/b/x"
//	"a/**/b.txt"     matches "a/b.txt" and "a/x/y/b.txt"
func MatchPath(pattern, p string) bool {
	pattern = strings.ReplaceAll(pattern, `\`, "/")
	p = strings.ReplaceAll(p, `\`, "/")
	return matchSegments(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pattern, parts []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return len(parts) > 0
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], parts[0]); !ok {
			return false
		}
		pattern, parts = pattern[1:], parts[1:]
	}
	return len(parts) == 0
}
