// Package localfs turns local paths into upload sources: it walks dropped
// folders, filters hidden entries and detects MIME types.
package localfs

import (
	"path/filepath"
	"strings"
)

// IsHidden reports whether the base name of path is hidden.
func IsHidden(path string) bool {
	return IsHiddenName(filepath.Base(path))
}

// IsHiddenName reports whether name is a dot-file. "." and ".." are not hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}
