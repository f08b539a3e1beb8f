// Package session resolves the on-disk layout of a wacrm account session.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wacrm.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wacrm")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SessionDBPath returns the whatsmeow credential store path.
func SessionDBPath(name string) string {
	return filepath.Join(Dir(name), "session.db")
}

// AppDBPath returns the app-owned cache database path.
func AppDBPath(name string) string {
	return filepath.Join(Dir(name), "wacrm.db")
}

// MediaDir returns the root directory for materialized attachments.
// Attachments live under MediaDir/<chatID>/<filename>.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "wacrmd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the session directory tree with owner-only permissions.
func EnsureDirs(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), MediaDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
