package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/runger/refkit/internal/config"
)

// ErrAlreadyRunning is returned by LockFile.Acquire when another daemon
// holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// ErrNotRunning is returned by Stop when no daemon holds the lock.
var ErrNotRunning = errors.New("daemon not running")

// ReloadFunc is called on SIGHUP.
type ReloadFunc func() error

// Run starts the daemon and blocks until shutdown.
//   - SIGTERM/SIGINT: graceful shutdown
//   - SIGHUP: drop cached lookups, then cfg.ReloadFn
//   - SIGPIPE: ignored
func Run(ctx context.Context, cfg *ServerConfig) error {
	if err := CheckNotRoot(); err != nil {
		return err
	}
	paths := cfg.Paths
	if paths == nil {
		paths = config.DefaultPaths()
	}
	if err := EnsureSecureDirectory(paths.RuntimeDir); err != nil {
		return fmt.Errorf("failed to ensure secure runtime directory: %w", err)
	}

	lock := NewLockFile(paths.PIDFile())
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Release()

	server, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signal.Ignore(syscall.SIGPIPE)
	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig != syscall.SIGHUP {
					server.logger.Info("received shutdown signal", "signal", sig)
					cancel()
					return
				}
				n := server.store.Reset()
				server.logger.Info("dropped cached lookups", "count", n)
				if cfg.ReloadFn == nil {
					continue
				}
				if err := cfg.ReloadFn(); err != nil {
					server.logger.Error("failed to reload configuration", "error", err)
				} else {
					server.logger.Info("configuration reloaded")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return server.Start(ctx)
}

// IsRunning reports whether a daemon holds the lock under paths.
func IsRunning(paths *config.Paths) bool {
	_, held, err := ReadHeldPID(paths.PIDFile())
	return err == nil && held
}

// ReadPID reads the PID from a PID file.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath) //nolint:gosec // G304: path comes from config
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID: %w", err)
	}
	return pid, nil
}

// Stop asks the daemon under paths to shut down and waits up to timeout
// before killing it.
func Stop(paths *config.Paths, timeout time.Duration) error {
	pid, held, err := ReadHeldPID(paths.PIDFile())
	if err != nil {
		return fmt.Errorf("failed to read lock: %w", err)
	}
	if !held || pid <= 0 {
		return ErrNotRunning
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return process.Kill()
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return process.Kill()
		case <-ticker.C:
			if !isProcessAlive(pid) {
				return nil
			}
		}
	}
}

// CleanupStale removes the socket and lock file a crashed daemon left
// behind.
func CleanupStale(paths *config.Paths, socketPath string) error {
	if IsRunning(paths) {
		return errors.New("daemon is still running")
	}
	for _, p := range []string{socketPath, paths.PIDFile()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// WaitForSocket polls until socketPath exists.
func WaitForSocket(ctx context.Context, socketPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(socketPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("socket not available after %v", timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// writePID replaces the contents of f with the current PID.
func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return nil
}

// readPID reads the PID from an open lock file, or returns 0.
func readPID(f *os.File) int {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0
	}
	buf := make([]byte, 32)
	n, _ := f.Read(buf)
	return parsePID(buf[:n])
}

func parsePID(data []byte) int {
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
