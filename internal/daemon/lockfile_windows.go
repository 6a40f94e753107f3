//go:build windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

const windowsStillActive = 259

// LockFile is an exclusively created file containing the daemon PID.
// A lock file whose process has exited is stale and gets replaced.
type LockFile struct {
	file *os.File
	path string
}

// NewLockFile creates a LockFile at path. The lock is not acquired until
// Acquire is called.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// Acquire creates the lock file and writes the current PID.
func (l *LockFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			if err := writePID(f); err != nil {
				f.Close()
				_ = os.Remove(l.path)
				return err
			}
			l.file = f
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
		}
		pid, held, _ := ReadHeldPID(l.path)
		if held {
			return fmt.Errorf("%w (PID %d), lock file: %s", ErrAlreadyRunning, pid, l.path)
		}
		if attempt > 0 || os.Remove(l.path) != nil {
			return fmt.Errorf("failed to replace stale lock file %s", l.path)
		}
	}
}

// Release closes and removes the lock file.
func (l *LockFile) Release() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *LockFile) Path() string {
	return l.path
}

// ReadHeldPID returns the PID in lockPath and whether that process is
// still alive.
func ReadHeldPID(lockPath string) (pid int, held bool, err error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open lock file: %w", err)
	}
	pid = parsePID(data)
	return pid, isProcessAlive(pid), nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == windowsStillActive
}
