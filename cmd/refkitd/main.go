// refkitd is the refkit background daemon. It serves the record database
// to the CLI and the picker over a unix socket, and to browsers over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/runger/refkit/internal/config"
	"github.com/runger/refkit/internal/daemon"
	"github.com/runger/refkit/internal/dataprovider/sqlstore"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "refkitd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	paths := config.DefaultPaths()
	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	logOut, closeLog, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Daemon.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver: cfg.Store.Driver,
		DSN:    cfg.DSN(),
		Logger: logger.With("component", "sqlstore"),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	catalog := i18n.English()
	reloadCatalog := func() error {
		path := cfg.CatalogPath()
		if path == "" {
			return nil
		}
		if err := catalog.LoadFile(path); err != nil {
			return fmt.Errorf("failed to load catalog %s: %w", path, err)
		}
		return nil
	}
	if err := reloadCatalog(); err != nil {
		logger.Warn("using built-in messages", "error", err)
	}

	return daemon.Run(ctx, &daemon.ServerConfig{
		Provider:       store,
		Paths:          paths,
		SocketPath:     cfg.SocketPath(),
		HTTPAddr:       cfg.Daemon.HTTPAddr,
		OriginPatterns: cfg.Daemon.OriginPatterns,
		BatchWindow:    cfg.BatchWindow(),
		CacheSize:      cfg.Store.CacheSize,
		Debounce:       cfg.Debounce(),
		SessionIdle:    cfg.SessionIdle(),
		Translator:     catalog,
		Metrics:        metrics.New(),
		Logger:         logger,
		ReloadFn:       reloadCatalog,
	})
}

// openLog returns daemon.log_file, or the default log file when stderr is
// not a terminal. A terminal gets the log directly.
func openLog(cfg *config.Config) (io.Writer, func(), error) {
	path := cfg.Daemon.LogFile
	if path == "" {
		if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return os.Stderr, func() {}, nil
		}
		path = config.DefaultPaths().LogFile()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
