package env

import (
	"os"
	"path/filepath"
)

// Version is stamped at build time with -ldflags "-X pkgkeeper/internal/env.Version=..."
var Version = "dev"

// ServerMode is set when the process runs the local status API.
var ServerMode bool = false

// (default: %USERPROFILE%/.pkgkeeper on Windows, $HOME/.pkgkeeper on Linux)
var KeeperDir string = GetKeeperDir()

/**
 * Get pkgkeeper data directory path
 * @returns {string} Returns pkgkeeper directory path
 */
func GetKeeperDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".pkgkeeper")
}
