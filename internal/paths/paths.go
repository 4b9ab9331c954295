// Package paths centralizes the XDG-derived filesystem locations backupd
// and backupctl agree on: the config file, the repository password file,
// the control socket, the PID file, the FUSE mount base directory, and the
// systemd user-unit path.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "backupd"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return "/tmp"
}

// ConfigDir returns ~/.config/backupd, honoring XDG_CONFIG_HOME.
func ConfigDir() string {
	base := envOr("XDG_CONFIG_HOME", filepath.Join(homeDir(), ".config"))
	return filepath.Join(base, appName)
}

// ConfigPath returns the active config file path, honoring the
// BACKUPD_CONFIG override environment variable.
func ConfigPath() string {
	if p := os.Getenv("BACKUPD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// PasswordPath returns the fixed, process-wide restic repository password
// file location. Callers must verify its permissions are 0600 when present.
func PasswordPath() string {
	return filepath.Join(ConfigDir(), ".repo_password")
}

// DataDir returns ~/.local/share/backupd, honoring XDG_DATA_HOME.
func DataDir() string {
	base := envOr("XDG_DATA_HOME", filepath.Join(homeDir(), ".local", "share"))
	return filepath.Join(base, appName)
}

// LogDir returns the directory log files are written under.
func LogDir() string {
	return filepath.Join(DataDir(), "log")
}

// LogFilePath returns the path backupd writes JSON logs to when run with
// --log-file, and the path backupctl logs tails.
func LogFilePath() string {
	return filepath.Join(LogDir(), appName+".log")
}

// MountBaseDir returns the base directory under which per-set FUSE mounts
// are created.
func MountBaseDir() string {
	return filepath.Join(DataDir(), "mnt")
}

// MountPath returns the mount directory for a specific backup set.
func MountPath(setName string) string {
	return filepath.Join(MountBaseDir(), setName)
}

// CacheDBPath returns the path to the bbolt-backed status cache.
func CacheDBPath() string {
	return filepath.Join(DataDir(), "cache.db")
}

func runtimeDir() (string, bool) {
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return v, true
	}
	return "", false
}

// SocketPath returns $XDG_RUNTIME_DIR/backupd.sock, falling back to
// /tmp/backupd-<uid>.sock.
func SocketPath() string {
	if dir, ok := runtimeDir(); ok {
		return filepath.Join(dir, appName+".sock")
	}
	return fmt.Sprintf("/tmp/%s-%d.sock", appName, os.Getuid())
}

// PIDPath returns $XDG_RUNTIME_DIR/backupd.pid, falling back to
// /tmp/backupd-<uid>.pid.
func PIDPath() string {
	if dir, ok := runtimeDir(); ok {
		return filepath.Join(dir, appName+".pid")
	}
	return fmt.Sprintf("/tmp/%s-%d.pid", appName, os.Getuid())
}

// SystemdUnitPath returns ~/.config/systemd/user/backupd.service.
func SystemdUnitPath() string {
	base := envOr("XDG_CONFIG_HOME", filepath.Join(homeDir(), ".config"))
	return filepath.Join(base, "systemd", "user", appName+".service")
}

// ExpandHome replaces a leading "~/" with the current user's home directory.
func ExpandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		return filepath.Join(homeDir(), path[2:])
	}
	if path == "~" {
		return homeDir()
	}
	return path
}
