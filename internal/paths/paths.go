// Package paths resolves the configuration directory and the files Garnicia
// keeps in it: the journal database, the debug log and the selected folder.
package paths

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/natefinch/atomic"
)

const appName = "garnicia"

// EnvConfigDir overrides the configuration directory.
const EnvConfigDir = "GARNICIA_CONFIG_DIR"

// File names inside the configuration directory.
const (
	JournalFile = "journal.db"
	LogFile     = "debug.log"
	FolderFile  = "folder"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/garnicia (fallback ~/.config/garnicia)
// macOS:   ~/Library/Application Support/garnicia
// Windows: %APPDATA%/garnicia
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ResolveConfigDir returns the configuration directory: GARNICIA_CONFIG_DIR
// when set, otherwise the platform default.
func ResolveConfigDir() (string, error) {
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// LoadFolder reads the persisted notes folder. A missing file returns "".
func LoadFolder(file string) (string, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("paths: read folder: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveFolder persists the selected notes folder.
func SaveFolder(file, folder string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("paths: create config dir: %w", err)
	}
	if err := atomic.WriteFile(file, bytes.NewBufferString(folder+"\n")); err != nil {
		return fmt.Errorf("paths: save folder: %w", err)
	}
	return nil
}
