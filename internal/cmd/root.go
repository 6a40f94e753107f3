// Package cmd implements the refkit command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/refkit/internal/config"
)

const (
	groupQuery = "query"
	groupSetup = "setup"
)

var (
	flagConfig  string
	flagRemote  bool
	flagJSON    bool
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "refkit",
	Short: "resolve references between records",
	Long: `refkit - resolve references between records
  - fetch referenced records, batched and cached
  - list and filter candidate choices
  - compute picker suggestions`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyColorMode()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupQuery, Title: "Query Commands:"},
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
	)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default "+config.DefaultPaths().ConfigFile()+")")
	pf.BoolVar(&flagRemote, "remote", false, "query the running daemon instead of the local database")
	pf.BoolVar(&flagJSON, "json", false, "print records as JSON lines")
	pf.DurationVar(&flagTimeout, "timeout", 10*time.Second, "give up waiting for data after this long")
	pf.StringVar(&colorMode, "color", "auto", "color output: auto, always, or never")

	rootCmd.AddCommand(getCmd, manyCmd, matchCmd, suggestCmd, seedCmd, statusCmd, configCmd, daemonCmd, versionCmd)
}

// loadConfig reads --config or the default file.
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFromFile(flagConfig)
	}
	return config.Load()
}

// newLogger logs to stderr at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Daemon.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	// The CLI only reports warnings unless debugging.
	if level < slog.LevelWarn && level != slog.LevelDebug {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// commandContext bounds a command by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if flagTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, flagTimeout)
}

func warnf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%sWarning:%s %s\n", colorYellow, colorReset, fmt.Sprintf(format, args...))
}
