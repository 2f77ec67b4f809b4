package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivemind-dev/coordinator/internal/config"
	"github.com/hivemind-dev/coordinator/internal/daemon"
	"github.com/hivemind-dev/coordinator/internal/ui"
	"github.com/hivemind-dev/coordinator/internal/workspace"
)

// Grounded on gastown's internal/cmd/daemon.go: start forks the same
// executable as "<exe> daemon run" and detaches its stdio, status reads
// the PID file plus a mtime proxy for start time, and run is the hidden
// foreground entrypoint the forked process actually executes.

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupDaemon,
	Short:   "Manage the hivemind daemon",
	RunE:    requireSubcommand,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	RunE:  runDaemonRestart,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonRestartCmd, daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	townRoot, err := workspace.FindFromCwdOrError()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(townRoot)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	proc := exec.Command(exePath, "daemon", "run")
	proc.Dir = townRoot
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil
	if err := proc.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	time.Sleep(200 * time.Millisecond)

	running, pid, err = daemon.IsRunning(townRoot)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon failed to start")
	}
	if pid != proc.Process.Pid {
		fmt.Printf("%s Daemon already running (PID %d)\n", ui.RenderWarnIcon(), pid)
		return nil
	}

	fmt.Printf("%s Daemon started (PID %d, v%s)\n", ui.RenderPassIcon(), pid, Version)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	townRoot, err := workspace.FindFromCwdOrError()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(townRoot)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}
	if err := daemon.StopDaemon(townRoot); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}
	fmt.Printf("%s Daemon stopped (was PID %d)\n", ui.RenderPassIcon(), pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	townRoot, err := workspace.FindFromCwdOrError()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(townRoot)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}

	if !running {
		fmt.Printf("%s Daemon not running\n", ui.RenderMuted("○"))
		fmt.Println()
		fmt.Printf("  Workspace:  %s\n", ui.ShortenPath(townRoot))
		fmt.Println()
		fmt.Printf("  Start with: %s\n", ui.RenderMuted("hivemind daemon start"))
		return nil
	}

	fmt.Printf("%s Daemon running (PID %d, v%s)\n", ui.RenderPassIcon(), pid, Version)
	fmt.Println()
	fmt.Printf("  Workspace:  %s\n", ui.ShortenPath(townRoot))
	if startedAt, err := daemon.StartedAt(townRoot); err == nil {
		fmt.Printf("  Started:    %s (%s)\n", startedAt.Format("2006-01-02 15:04:05"), ui.RelativeTime(startedAt))
	}
	fmt.Printf("  Socket:     %s\n", ui.ShortenPath(filepath.Join(townRoot, ".runtime", "daemon.sock")))
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	townRoot, err := workspace.FindFromCwdOrError()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(townRoot)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		fmt.Printf("Stopping daemon (PID %d)...\n", pid)
		if err := daemon.StopDaemon(townRoot); err != nil {
			return fmt.Errorf("stopping daemon: %w", err)
		}
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}
	proc := exec.Command(exePath, "daemon", "run")
	proc.Dir = townRoot
	proc.Stdin, proc.Stdout, proc.Stderr = nil, nil, nil
	if err := proc.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	time.Sleep(200 * time.Millisecond)
	running, newPid, err := daemon.IsRunning(townRoot)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon failed to start")
	}
	if pid > 0 {
		fmt.Printf("%s Daemon restarted (PID %d → %d, v%s)\n", ui.RenderPassIcon(), pid, newPid, Version)
	} else {
		fmt.Printf("%s Daemon started (PID %d, v%s)\n", ui.RenderPassIcon(), newPid, Version)
	}
	return nil
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	townRoot, err := workspace.FindFromCwdOrError()
	if err != nil {
		return err
	}
	manifest, err := config.Load(townRoot)
	if err != nil {
		return fmt.Errorf("loading town config: %w", err)
	}
	d := daemon.New(townRoot, manifest, nil)
	return d.Run()
}
