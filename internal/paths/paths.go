// Package paths resolves where livedb keeps its configuration and data.
//
// Configuration is per user. Data belongs to the SQLite backend only and is
// usually per project: "livedb init" creates a .livedb-db directory in the
// working directory, and later commands find it from any subdirectory the
// way git finds its repository.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

// AppName names the platform directories.
const AppName = "livedb"

// ProjectDirName is the data directory created by init.
const ProjectDirName = ".livedb-db"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "LIVEDB_CONFIG_DIR"
	EnvDataDir   = "LIVEDB_DATA_DIR"
)

// host holds the environment lookups, replaced in tests.
var host = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// ConfigDir returns the configuration directory: flag, then
// LIVEDB_CONFIG_DIR, then the platform config directory.
func ConfigDir(flag string) (string, error) {
	if dir, ok, err := override(flag, "", EnvConfigDir); ok || err != nil {
		return dir, err
	}
	base, err := host.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppName), nil
}

// DataDir returns the data directory backend should use. Only the SQLite
// backend keeps local data; every other backend gets "".
//
// The order is flag, the data_dir config value, LIVEDB_DATA_DIR, the nearest
// .livedb-db at or above the working directory, and finally the platform
// data directory.
func DataDir(backend, flag, configured string) (string, error) {
	if backend != types.BackendSQLite {
		return "", nil
	}
	if dir, ok, err := override(flag, configured, EnvDataDir); ok || err != nil {
		return dir, err
	}
	wd, err := host.getwd()
	if err != nil {
		return "", err
	}
	if dir, ok := FindProjectDir(wd); ok {
		return dir, nil
	}
	return PlatformDataDir()
}

// InitDataDir returns the directory init creates: the same overrides as
// DataDir, else .livedb-db in the working directory.
func InitDataDir(flag, configured string) (string, error) {
	if dir, ok, err := override(flag, configured, EnvDataDir); ok || err != nil {
		return dir, err
	}
	wd, err := host.getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, ProjectDirName), nil
}

// FindProjectDir walks up from dir looking for a .livedb-db directory.
func FindProjectDir(dir string) (string, bool) {
	dir = filepath.Clean(dir)
	for {
		candidate := filepath.Join(dir, ProjectDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// PlatformDataDir returns the per-user data directory.
//
// Linux:   $XDG_DATA_HOME/livedb (fallback ~/.local/share/livedb)
// macOS:   ~/Library/Application Support/livedb
// Windows: %APPDATA%/livedb
func PlatformDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, AppName), nil
		}
		home, err := host.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", AppName), nil
	}
	dir, err := host.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// override returns the first of flag, configured and the env variable that
// is set, made absolute.
func override(flag, configured, env string) (string, bool, error) {
	for _, dir := range []string{flag, configured, os.Getenv(env)} {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", true, err
		}
		return abs, true, nil
	}
	return "", false, nil
}
