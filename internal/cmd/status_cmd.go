package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/refkit/internal/config"
	"github.com/runger/refkit/internal/daemon"
	"github.com/runger/refkit/internal/dataprovider/sqlstore"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: groupSetup,
	Short:   "Show refkit status",
	Long: `Show the current status of refkit, including:
- Daemon status (running/stopped)
- Configuration file location
- Database location and record counts

Examples:
  refkit status`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := config.DefaultPaths()
	cfg, err := loadConfig()
	if err != nil {
		warnf(cmd, "%v (using defaults)", err)
		cfg = config.DefaultConfig()
	}
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "%srefkit Status%s\n", colorBold, colorReset)
	fmt.Fprintln(w, strings.Repeat("-", 40))

	fmt.Fprintf(w, "\n%sDaemon:%s\n", colorBold, colorReset)
	if pid, held, err := daemon.ReadHeldPID(paths.PIDFile()); err == nil && held {
		fmt.Fprintf(w, "  Status:  %srunning%s\n", colorGreen, colorReset)
		if pid > 0 {
			fmt.Fprintf(w, "  PID:     %d\n", pid)
		}
	} else {
		fmt.Fprintf(w, "  Status:  %snot running%s\n", colorDim, colorReset)
	}
	fmt.Fprintf(w, "  Socket:  %s\n", cfg.SocketPath())
	if cfg.Daemon.HTTPAddr != "" {
		fmt.Fprintf(w, "  HTTP:    %s\n", cfg.Daemon.HTTPAddr)
	}

	fmt.Fprintf(w, "\n%sConfiguration:%s\n", colorBold, colorReset)
	file := configFile()
	if _, err := os.Stat(file); err == nil {
		fmt.Fprintf(w, "  File:    %s\n", file)
	} else {
		fmt.Fprintf(w, "  File:    %s (not found, using defaults)\n", file)
	}
	fmt.Fprintf(w, "  Locale:  %s\n", cfg.I18n.Locale)

	fmt.Fprintf(w, "\n%sStorage:%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "  Driver:   %s\n", cfg.Store.Driver)
	if cfg.Store.Driver == "postgres" {
		fmt.Fprintf(w, "  Database: %s\n", redactDSN(cfg.DSN()))
	} else {
		dsn := cfg.DSN()
		info, err := os.Stat(dsn)
		if err != nil {
			fmt.Fprintf(w, "  Database: %s (not created)\n", dsn)
			return nil
		}
		fmt.Fprintf(w, "  Database: %s (%s)\n", dsn, formatSize(info.Size()))
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	printResourceCounts(ctx, w, cfg)
	return nil
}

func printResourceCounts(ctx context.Context, w io.Writer, cfg *config.Config) {
	db, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver: cfg.Store.Driver,
		DSN:    cfg.DSN(),
		Logger: newLogger(cfg),
	})
	if err != nil {
		fmt.Fprintf(w, "  %sunreachable:%s %v\n", colorRed, colorReset, err)
		return
	}
	defer db.Close()

	counts, err := db.Resources(ctx)
	if err != nil {
		fmt.Fprintf(w, "  %sunreadable:%s %v\n", colorRed, colorReset, err)
		return
	}
	fmt.Fprintf(w, "\n%sResources:%s\n", colorBold, colorReset)
	if len(counts) == 0 {
		fmt.Fprintf(w, "  %snone%s (load some with 'refkit seed')\n", colorDim, colorReset)
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %d\n", name, counts[name])
	}
}

// redactDSN hides the password of a URL-style DSN.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	if user, _, hasPass := strings.Cut(creds, ":"); hasPass {
		return scheme + "://" + user + ":***@" + host
	}
	return dsn
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
