package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/driftbox/driftbox/internal/constants"
)

// ConfigDirectory returns the per-user configuration directory.
//
// Locations:
//   - Windows: %USERPROFILE%\.config\driftbox
//   - Unix: ~/.config/driftbox
func ConfigDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		return filepath.Join(userProfile, ".config", constants.AppName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", constants.AppName), nil
}

// DefaultConfigPath returns the default path for the INI config file.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config"), nil
}

// StateDirectory returns the directory holding resume records.
// Falls back to the temp directory when no home directory is available.
func StateDirectory() string {
	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), constants.AppName+"-state")
	}
	return filepath.Join(dir, "state")
}
