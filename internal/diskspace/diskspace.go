// Package diskspace checks free space on the filesystem a download will land on.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/driftbox/driftbox/internal/constants"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// CheckAvailableSpace checks that the filesystem holding targetPath has room
// for requiredBytes plus constants.DiskSpaceBufferPercent. targetPath need
// not exist but its directory must. Unknown sizes (negative) and filesystems
// that cannot be queried pass.
func CheckAvailableSpace(targetPath string, requiredBytes int64) error {
	if requiredBytes <= 0 {
		return nil
	}
	available, err := availableBytes(filepath.Dir(targetPath))
	if err != nil {
		return nil
	}
	return checkSpace(targetPath, requiredBytes, available)
}

func checkSpace(targetPath string, requiredBytes, available int64) error {
	required := requiredBytes + int64(float64(requiredBytes)*constants.DiskSpaceBufferPercent)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	n, err := availableBytes(filepath.Dir(path))
	if err != nil {
		return 0
	}
	return n
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var e *InsufficientSpaceError
	return errors.As(err, &e)
}

var diskFullIndicators = []string{
	"no space left on device",
	"disk full",
	"out of disk space",
	"insufficient disk space",
	"not enough space",
	"enospc",
	"disk quota exceeded",
}

// IsDiskFullError reports whether err looks like the filesystem filled up
// during a write. Besides InsufficientSpaceError it matches the messages
// Unix and Windows use for a full disk or an exceeded quota.
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}
	if IsInsufficientSpaceError(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range diskFullIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
