// Package validation checks names received from the server before they
// touch the local filesystem.
package validation

import (
	"fmt"
	"strings"
)

// ValidateFilename rejects server-supplied file names that are empty, are
// "." or "..", or contain a path separator or NUL byte. Names like
// "data..v2.csv" are fine.
func ValidateFilename(filename string) error {
	switch {
	case strings.TrimSpace(filename) == "":
		return fmt.Errorf("filename cannot be empty")
	case strings.ContainsRune(filename, 0):
		return fmt.Errorf("filename contains null byte: %q", filename)
	case strings.ContainsAny(filename, `/\`):
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	case filename == "." || filename == "..":
		return fmt.Errorf("filename cannot be %q", filename)
	}
	return nil
}
