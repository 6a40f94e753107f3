package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/runger/refkit/internal/config"
)

func TestReadPID(t *testing.T) {
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "test.pid")
	if err := os.WriteFile(pidFile, []byte("12345\n"), 0o600); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	pid, err := ReadPID(pidFile)
	if err != nil {
		t.Fatalf("ReadPID failed: %v", err)
	}
	if pid != 12345 {
		t.Errorf("expected PID 12345, got %d", pid)
	}
}

func TestReadPID_InvalidPID(t *testing.T) {
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "test.pid")
	if err := os.WriteFile(pidFile, []byte("not-a-number\n"), 0o600); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	if _, err := ReadPID(pidFile); err == nil {
		t.Error("expected error for invalid PID")
	}
}

func TestReadPID_FileNotFound(t *testing.T) {
	t.Parallel()

	if _, err := ReadPID("/nonexistent/path/file.pid"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestIsRunning_NoLockFile(t *testing.T) {
	t.Parallel()

	paths := &config.Paths{RuntimeDir: t.TempDir()}
	if IsRunning(paths) {
		t.Error("expected IsRunning to return false when no lock file exists")
	}
}

func TestIsRunning_UnheldLockFile(t *testing.T) {
	t.Parallel()

	paths := &config.Paths{RuntimeDir: t.TempDir()}
	if err := os.WriteFile(paths.PIDFile(), []byte("999999999\n"), 0o600); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	if IsRunning(paths) {
		t.Error("expected IsRunning to return false for a lock file nobody holds")
	}
}

func TestStop_NotRunning(t *testing.T) {
	t.Parallel()

	paths := &config.Paths{RuntimeDir: t.TempDir()}
	if err := Stop(paths, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestCleanupStale(t *testing.T) {
	t.Parallel()

	paths := &config.Paths{RuntimeDir: t.TempDir()}
	socketFile := paths.SocketFile()
	pidFile := paths.PIDFile()

	if err := os.WriteFile(socketFile, []byte("socket"), 0o600); err != nil {
		t.Fatalf("failed to create socket file: %v", err)
	}
	if err := os.WriteFile(pidFile, []byte("12345\n"), 0o600); err != nil {
		t.Fatalf("failed to create PID file: %v", err)
	}

	if err := CleanupStale(paths, socketFile); err != nil {
		t.Fatalf("CleanupStale failed: %v", err)
	}
	if _, err := os.Stat(socketFile); !os.IsNotExist(err) {
		t.Error("socket file should be removed")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("PID file should be removed")
	}
}

func TestCleanupStale_NothingToClean(t *testing.T) {
	t.Parallel()

	paths := &config.Paths{RuntimeDir: t.TempDir()}
	if err := CleanupStale(paths, paths.SocketFile()); err != nil {
		t.Errorf("CleanupStale on empty dir failed: %v", err)
	}
}

func TestWaitForSocket_Exists(t *testing.T) {
	t.Parallel()

	socketFile := filepath.Join(t.TempDir(), "refkit.sock")
	if err := os.WriteFile(socketFile, []byte("socket"), 0o600); err != nil {
		t.Fatalf("failed to create socket file: %v", err)
	}

	if err := WaitForSocket(context.Background(), socketFile, 100*time.Millisecond); err != nil {
		t.Fatalf("WaitForSocket failed: %v", err)
	}
}

func TestWaitForSocket_Appears(t *testing.T) {
	t.Parallel()

	socketFile := filepath.Join(t.TempDir(), "refkit.sock")
	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = os.WriteFile(socketFile, []byte("socket"), 0o600)
	}()

	if err := WaitForSocket(context.Background(), socketFile, 2*time.Second); err != nil {
		t.Fatalf("WaitForSocket failed: %v", err)
	}
}

func TestWaitForSocket_Timeout(t *testing.T) {
	t.Parallel()

	socketFile := filepath.Join(t.TempDir(), "refkit.sock")
	start := time.Now()
	err := WaitForSocket(context.Background(), socketFile, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("returned too early: %v", elapsed)
	}
}

func TestWaitForSocket_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForSocket(ctx, filepath.Join(t.TempDir(), "refkit.sock"), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
