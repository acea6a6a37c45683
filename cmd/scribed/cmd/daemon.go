package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/scribe/internal/config"
	"github.com/aman-cerp/scribe/internal/daemon"
	"github.com/aman-cerp/scribe/internal/logging"
	"github.com/aman-cerp/scribe/internal/pipeline"
)

// schedulerIdle is how long the background scheduler loop sleeps
// between polls when the queue is empty (internal/task.Start's idle
// parameter).
const schedulerIdle = 500 * time.Millisecond

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background search daemon",
		Long: `The daemon keeps every recently-used index open in memory for fast
search responses, and runs the task scheduler's dispatch loop so
submitted indexing tasks get processed without a separate process.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and health`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the search daemon in the background.

Use --foreground for debugging or to see logs in real-time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStart(cmd.Context(), cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long:  `Send SIGTERM to the running daemon, escalating to SIGKILL if it does not exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// daemonConfigFrom maps the project Config onto internal/daemon.Config,
// deriving PIDPath as the socket path's sibling the way
// daemon.DefaultConfig places both under the same directory.
func daemonConfigFrom(cfg *config.Config) daemon.Config {
	return daemon.Config{
		SocketPath:          cfg.Server.SocketPath,
		PIDPath:             filepath.Join(filepath.Dir(cfg.Server.SocketPath), "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		MaxIndexes:          cfg.Server.MaxIndexes,
		Compaction: daemon.CompactionConfig{
			Enabled:         cfg.Server.Compaction.Enabled,
			IdleTimeout:     cfg.Server.Compaction.IdleTimeout,
			Cooldown:        cfg.Server.Compaction.Cooldown,
			OrphanThreshold: cfg.Server.Compaction.OrphanThreshold,
			MinOrphanCount:  cfg.Server.Compaction.MinOrphanCount,
		},
	}
}

// sharedIndexOpener makes the daemon's query path and the pipeline's
// write path share one *pipeline.Index instance per index UID, so a
// SettingsUpdate task applied in this process is immediately visible
// to search (Settings lives only in memory on the Index struct; see
// internal/pipeline.Pipeline.Index's doc comment).
func sharedIndexOpener(pl *pipeline.Pipeline, cfg *config.Config) daemon.IndexOpener {
	defaultSettings := pipeline.Settings{MaxPositionPerAttribute: 1000, FacetFanout: cfg.Store.FacetFanout}
	fallback := daemon.OpenFromDataDir(filepath.Join(cfg.Store.DataDir, "indexes"), defaultSettings,
		cfg.Store.IndexMapSizeMB, cfg.Store.IndexMapSizeCapMB)

	return func(uid string) (*pipeline.Index, error) {
		if idx, ok := pl.Index(uid); ok {
			return idx, nil
		}
		idx, err := fallback(uid)
		if err != nil {
			return nil, err
		}
		pl.RegisterIndex(idx)
		return idx, nil
	}
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	out := cmd.OutOrStdout()
	dcfg := daemonConfigFrom(loadedCfg)

	client := daemon.NewClient(dcfg)
	if client.IsRunning() {
		fmt.Fprintln(out, "Daemon is already running")
		return nil
	}

	if foreground {
		logCfg := logging.DefaultConfig()
		logCfg.Level = loadedCfg.Server.LogLevel
		logCfg.WriteToStderr = true
		if logger, cleanup, err := logging.Setup(logCfg); err == nil {
			slog.SetDefault(logger)
			defer cleanup()
		}

		fmt.Fprintln(out, "Starting daemon in foreground...")
		fmt.Fprintf(out, "Socket: %s\n", dcfg.SocketPath)
		fmt.Fprintf(out, "Logs: %s\n", logging.DefaultLogPath())
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		a, err := openApp(loadedCfg)
		if err != nil {
			return fmt.Errorf("failed to open app: %w", err)
		}
		defer a.Close()

		a.scheduler.Start(schedulerIdle)
		defer a.scheduler.Stop()

		d, err := daemon.NewDaemon(dcfg, sharedIndexOpener(a.pipeline, loadedCfg))
		if err != nil {
			slog.Error("failed to create daemon", slog.String("error", err.Error()))
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		return d.Start(ctx)
	}

	fmt.Fprintln(out, "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--foreground", "--root", projectRoot)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			fmt.Fprintf(out, "Daemon started (pid: %d)\n", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonStop(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	dcfg := daemonConfigFrom(loadedCfg)
	pidFile := daemon.NewPIDFile(dcfg.PIDPath)

	if !pidFile.IsRunning() {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			fmt.Fprintf(out, "Daemon stopped (was pid: %d)\n", pid)
			return nil
		}
	}

	fmt.Fprintln(out, "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}

	fmt.Fprintln(out, "Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	dcfg := daemonConfigFrom(loadedCfg)
	client := daemon.NewClient(dcfg)

	if !client.IsRunning() {
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(daemon.StatusResult{Running: false})
		}
		fmt.Fprintln(out, "Daemon is not running")
		fmt.Fprintln(out, "Run 'scribed daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintln(out, "Daemon is running")
	fmt.Fprintf(out, "  PID:            %d\n", status.PID)
	fmt.Fprintf(out, "  Uptime:         %s\n", status.Uptime)
	fmt.Fprintf(out, "  Indexes loaded: %d\n", status.IndexesLoaded)
	return nil
}
