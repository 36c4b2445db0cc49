// Package platform resolves per-OS directories and launches files with the
// desktop's default application.
package platform

import (
	"os"
	"path/filepath"
)

const (
	// AppName is used for directory naming.
	AppName = "retouch"
	// AppDisplayName is the directory name on Windows and macOS.
	AppDisplayName = "Retouch"
)

// DataDirEnv overrides the data directory on every platform.
const DataDirEnv = "RETOUCH_DATA_DIR"

// GetDataDir returns the directory holding config.json and the database.
// Windows: %APPDATA%\Retouch
// Linux: $XDG_DATA_HOME/retouch or ~/.local/share/retouch
// macOS: ~/Library/Application Support/Retouch
func GetDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	return getDataDir()
}

// GetTempDir returns a scratch directory for extracted batch archives.
func GetTempDir() string {
	return getTempDir()
}

// DefaultOutputDir is where restored files go when no output is given.
func DefaultOutputDir() string {
	return filepath.Join(UserHomeDir(), "Pictures", AppDisplayName)
}

// OpenFile opens a file or directory with the default application.
func OpenFile(path string) error {
	return openFile(path)
}

// UserHomeDir returns the user's home directory, or "." when unknown.
func UserHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
