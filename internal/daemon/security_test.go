package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCheckNotRoot(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("root check not applicable on Windows")
	}

	err := CheckNotRoot()
	if os.Geteuid() == 0 {
		if !errors.Is(err, ErrRunningAsRoot) {
			t.Errorf("expected ErrRunningAsRoot, got: %v", err)
		}
		return
	}
	if err != nil {
		t.Errorf("expected no error for non-root user, got: %v", err)
	}
}

func TestValidateDirectoryPermissions(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("Unix permissions not applicable on Windows")
	}

	tests := []struct {
		name     string
		setup    func(t *testing.T, path string)
		wantErr  bool
		insecure bool
	}{
		{
			name:  "secure",
			setup: func(t *testing.T, p string) { mkdir(t, p, 0o700) },
		},
		{
			name:     "world readable",
			setup:    func(t *testing.T, p string) { mkdir(t, p, 0o755) },
			wantErr:  true,
			insecure: true,
		},
		{
			name:     "group writable",
			setup:    func(t *testing.T, p string) { mkdir(t, p, 0o770) },
			wantErr:  true,
			insecure: true,
		},
		{
			name:  "missing",
			setup: func(*testing.T, string) {},
		},
		{
			name: "not a directory",
			setup: func(t *testing.T, p string) {
				if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
					t.Fatalf("failed to create file: %v", err)
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "run")
			tt.setup(t, path)

			err := ValidateDirectoryPermissions(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDirectoryPermissions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.insecure && !errors.Is(err, ErrInsecureDirectory) {
				t.Errorf("expected ErrInsecureDirectory, got: %v", err)
			}
		})
	}
}

func TestEnsureSecureDirectory_Creates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a", "run")
	if err := EnsureSecureDirectory(path); err != nil {
		t.Fatalf("EnsureSecureDirectory failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("directory was not created: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o700 {
		t.Errorf("expected mode 0700, got %o", info.Mode().Perm())
	}
}

func TestEnsureSecureDirectory_FixesPermissions(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("Unix permissions not applicable on Windows")
	}

	path := filepath.Join(t.TempDir(), "run")
	mkdir(t, path, 0o755)

	if err := EnsureSecureDirectory(path); err != nil {
		t.Fatalf("EnsureSecureDirectory failed: %v", err)
	}
	if err := ValidateDirectoryPermissions(path); err != nil {
		t.Errorf("directory still insecure: %v", err)
	}
}

func TestEnsureSecureDirectory_RejectsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	if err := EnsureSecureDirectory(path); err == nil {
		t.Error("expected error for a regular file")
	}
}

func mkdir(t *testing.T, path string, perm os.FileMode) {
	t.Helper()
	if err := os.Mkdir(path, perm); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	// Mkdir is subject to the umask.
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("failed to chmod directory: %v", err)
	}
}
