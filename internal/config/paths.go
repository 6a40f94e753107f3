// Package config provides configuration management for refkit.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "refkit"

// Paths holds the directories refkit reads and writes.
type Paths struct {
	// ConfigDir is the directory for configuration files (~/.config/refkit)
	ConfigDir string

	// DataDir is the directory for the record database and logs (~/.local/share/refkit)
	DataDir string

	// RuntimeDir is the directory for the daemon socket and PID file
	RuntimeDir string
}

// DefaultPaths returns the default paths based on the XDG Base Directory
// layout. On Windows, it uses %APPDATA% and %LOCALAPPDATA% instead.
func DefaultPaths() *Paths {
	home := homeDir()

	if runtime.GOOS == "windows" {
		appData := envOr("APPDATA", filepath.Join(home, "AppData", "Roaming"))
		localAppData := envOr("LOCALAPPDATA", filepath.Join(home, "AppData", "Local"))
		return &Paths{
			ConfigDir:  filepath.Join(appData, appName),
			DataDir:    filepath.Join(localAppData, appName),
			RuntimeDir: filepath.Join(localAppData, appName, "run"),
		}
	}

	runtimeDir := filepath.Join(home, "."+appName, "run")
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		runtimeDir = filepath.Join(dir, appName)
	}

	return &Paths{
		ConfigDir:  filepath.Join(envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config")), appName),
		DataDir:    filepath.Join(envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share")), appName),
		RuntimeDir: runtimeDir,
	}
}

// ConfigFile returns the path to the main configuration file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// DatabaseFile returns the path to the SQLite record database.
func (p *Paths) DatabaseFile() string {
	return filepath.Join(p.DataDir, "records.db")
}

// SocketFile returns the path to the daemon's gRPC socket.
func (p *Paths) SocketFile() string {
	return filepath.Join(p.RuntimeDir, appName+".sock")
}

// PIDFile returns the path to the daemon PID file.
func (p *Paths) PIDFile() string {
	return filepath.Join(p.RuntimeDir, appName+"d.pid")
}

// PickerLockFile serializes picker instances on one terminal.
func (p *Paths) PickerLockFile() string {
	return filepath.Join(p.RuntimeDir, "picker.lock")
}

// LogDir returns the path to the log directory.
func (p *Paths) LogDir() string {
	return filepath.Join(p.DataDir, "logs")
}

// LogFile returns the path to the daemon log file.
func (p *Paths) LogFile() string {
	return filepath.Join(p.LogDir(), "daemon.log")
}

// EnsureDirectories creates all necessary directories.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.RuntimeDir, p.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return os.Getenv("USERPROFILE")
		}
		return os.Getenv("HOME")
	}
	return home
}
