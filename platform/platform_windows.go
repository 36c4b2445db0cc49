//go:build windows

package platform

import (
	"os"
	"os/exec"
	"path/filepath"
)

func getDataDir() string {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		return filepath.Join(UserHomeDir(), "."+AppName)
	}
	return filepath.Join(appData, AppDisplayName)
}

func getTempDir() string {
	return filepath.Join(os.TempDir(), AppDisplayName)
}

func openFile(path string) error {
	// The empty argument is the window title for start.
	return exec.Command("cmd", "/c", "start", "", path).Start()
}
