package daemon

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

var (
	// ErrRunningAsRoot is returned by CheckNotRoot for effective UID 0.
	ErrRunningAsRoot = errors.New("refusing to run as root (UID 0): refkitd serves records to any local client")
	// ErrInsecureDirectory is returned for a runtime directory readable by others.
	ErrInsecureDirectory = errors.New("runtime directory has insecure permissions")
)

// CheckNotRoot fails when the process runs with effective root privileges.
// It always succeeds on Windows.
func CheckNotRoot() error {
	if runtime.GOOS != "windows" && os.Geteuid() == 0 {
		return ErrRunningAsRoot
	}
	return nil
}

// ValidateDirectoryPermissions requires dirPath, when it exists, to be a
// directory with mode exactly 0700. Windows relies on ACLs and is not
// checked.
func ValidateDirectoryPermissions(dirPath string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dirPath)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		return fmt.Errorf("%w: %s has mode %o; expected exactly 0700", ErrInsecureDirectory, dirPath, perm)
	}
	return nil
}

// EnsureSecureDirectory creates dirPath with mode 0700, or tightens the
// mode of an existing directory to 0700. The daemon socket lives there.
func EnsureSecureDirectory(dirPath string) error {
	info, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		return os.MkdirAll(dirPath, 0o700)
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dirPath)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o700 {
		if err := os.Chmod(dirPath, 0o700); err != nil { //nolint:gosec // G302: 0700 is the intended mode
			return fmt.Errorf("failed to fix permissions on %s: %w", dirPath, err)
		}
	}
	return nil
}
