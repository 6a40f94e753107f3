package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/refkit/internal/config"
	"github.com/runger/refkit/internal/daemon"
)

// daemonBinary is the name of the daemon executable.
const daemonBinary = "refkitd"

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: groupSetup,
	Short:   "Manage the refkitd background daemon",
	Long: `Manage the refkitd daemon, which serves records to --remote commands,
the picker and browser reference inputs.

Subcommands:
  start  - Start the daemon (runs in background)
  stop   - Stop the daemon
  status - Check if daemon is running`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := daemon.Stop(config.DefaultPaths(), 5*time.Second)
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon: %snot running%s\n", colorDim, colorReset)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped.")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if daemon.IsRunning(config.DefaultPaths()) {
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon: %srunning%s\n", colorGreen, colorReset)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon: %snot running%s\n", colorDim, colorReset)
		}
	},
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	paths := config.DefaultPaths()
	out := cmd.OutOrStdout()
	if daemon.IsRunning(paths) {
		fmt.Fprintf(out, "Daemon: %salready running%s\n", colorGreen, colorReset)
		return nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := daemon.CleanupStale(paths, cfg.SocketPath()); err != nil {
		return err
	}

	bin, err := findDaemonBinary()
	if err != nil {
		return err
	}
	proc := exec.Command(bin) //nolint:gosec // G204: binary path is resolved from our own install
	if flagConfig != "" {
		proc.Env = append(os.Environ(), "REFKIT_CONFIG="+flagConfig)
	}
	detach(proc)

	fmt.Fprint(out, "Starting refkitd...")
	if err := proc.Start(); err != nil {
		fmt.Fprintf(out, " %sfailed%s\n", colorRed, colorReset)
		return fmt.Errorf("failed to start %s: %w", bin, err)
	}
	_ = proc.Process.Release()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := daemon.WaitForSocket(ctx, cfg.SocketPath(), flagTimeout); err != nil {
		fmt.Fprintf(out, " %sfailed%s\n", colorRed, colorReset)
		return fmt.Errorf("daemon did not come up (see %s): %w", cfg.Daemon.LogFile, err)
	}
	fmt.Fprintf(out, " %sready%s\n", colorGreen, colorReset)
	return nil
}

// findDaemonBinary looks next to the running executable, then on PATH.
func findDaemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), daemonBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(daemonBinary)
	if err != nil {
		return "", fmt.Errorf("%s not found next to refkit or on PATH", daemonBinary)
	}
	return path, nil
}
