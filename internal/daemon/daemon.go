// Package daemon implements the Terminal Daemon: the long-running
// background service that owns every Agent's process and Terminal
// state, persists session state, and exposes the roster operations
// (spawn/write/resize/kill/interrupt/list/attach) the rest of the
// coordination engine is built on.
//
// Grounded on gastown's internal/daemon/daemon.go: a singleton
// flock-guarded Run() loop, a PID file, signal-triggered graceful
// shutdown, goroutine-per-subsystem startup, and a periodic state save.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/hivemind-dev/coordinator/internal/config"
	"github.com/hivemind-dev/coordinator/internal/constants"
	"github.com/hivemind-dev/coordinator/internal/inject"
	"github.com/hivemind-dev/coordinator/internal/recovery"
	"github.com/hivemind-dev/coordinator/internal/trigger"
)

// Daemon is the town-level background service owning the agent roster.
type Daemon struct {
	townRoot string
	manifest *config.Manifest
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	roster   *Roster
	ipc      *IPCServer
	injector *inject.Engine
	recovery *recovery.Manager
	router   *trigger.Router

	snapshotStop chan struct{}
	wg           sync.WaitGroup
}

// New constructs a Daemon for townRoot. It does not acquire the
// singleton lock or start any goroutines; call Run for that.
func New(townRoot string, manifest *config.Manifest, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	roster := NewRoster(logger)
	injector := inject.New(roster, inject.Timing{
		Ceiling:     manifest.Timing.InjectionCeiling(),
		TypingGuard: manifest.Timing.TypingGuard(),
	})
	statePath := filepath.Join(townRoot, constants.DirRuntime, "recovery-state.json")
	router := trigger.New(townRoot, newRoleResolver(manifest, roster), injector,
		manifest.Timing.Debounce(), manifest.Timing.AckTimeout(), logger)
	return &Daemon{
		townRoot:     townRoot,
		manifest:     manifest,
		logger:       logger.With("component", "daemon"),
		ctx:          ctx,
		cancel:       cancel,
		roster:       roster,
		injector:     injector,
		recovery:     recovery.New(roster, injector, roster.Events(), manifest.Timing, statePath, logger),
		router:       router,
		snapshotStop: make(chan struct{}),
	}
}

// Run acquires the singleton lock, writes the PID file, restores any
// persisted session state, starts the IPC server and the agents named
// in the manifest's roster, then blocks until a shutdown signal or
// context cancellation.
func (d *Daemon) Run() error {
	d.logger.Info("daemon starting", "pid", os.Getpid())

	lockPath := constants.DaemonLockPath(d.townRoot)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("daemon: creating runtime directory: %w", err)
	}
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("daemon: acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon: already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	pidPath := constants.DaemonPIDPath(d.townRoot)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("daemon: writing pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	if err := d.restoreSession(); err != nil {
		d.logger.Warn("failed to restore session state", "error", err)
	}

	d.ipc = NewIPCServer(d.roster, d.recovery, d.router, d.logger)
	socketPath := constants.DaemonSocketPath(d.townRoot)
	if err := d.ipc.Listen(socketPath); err != nil {
		return fmt.Errorf("daemon: starting ipc server: %w", err)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.ipc.Serve()
	}()

	for _, ac := range d.manifest.Roster {
		spec := ac.ToAgentSpec()
		a, err := d.roster.Spawn(spec, 80, 24)
		if err != nil {
			d.logger.Error("failed to spawn roster agent", "role", ac.Role, "error", err)
			continue
		}
		if ac.ResumeSessionID != "" {
			a.SetSessionID(ac.ResumeSessionID)
		}
		d.recovery.Track(spec, 80, 24)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.recovery.Run(d.ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.router.Run(d.ctx); err != nil {
			d.logger.Error("trigger router exited", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	interval := d.manifest.Timing.SnapshotInterval()
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	snapshotTimer := time.NewTimer(interval)
	defer snapshotTimer.Stop()

	d.logger.Info("daemon running", "snapshot_interval", interval)

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("context canceled, shutting down")
			return d.shutdown()

		case sig := <-sigChan:
			d.logger.Info("received signal, shutting down", "signal", sig.String())
			return d.shutdown()

		case <-snapshotTimer.C:
			if err := d.saveSession(); err != nil {
				d.logger.Warn("periodic session snapshot failed", "error", err)
			}
			snapshotTimer.Reset(interval)
		}
	}
}

// Stop signals the daemon's Run loop to exit.
func (d *Daemon) Stop() { d.cancel() }

// Roster exposes the agent roster for callers embedding the daemon
// in-process (e.g. tests).
func (d *Daemon) Roster() *Roster { return d.roster }

// Injector exposes the Injection Engine, shared by the Trigger Router
// and the Recovery Manager's nudge rung.
func (d *Daemon) Injector() *inject.Engine { return d.injector }

// Recovery exposes the Recovery Manager for the operator-facing health
// and recovery-control CLI commands.
func (d *Daemon) Recovery() *recovery.Manager { return d.recovery }

// Router exposes the Trigger Router for in-process callers. The
// "mail ack" CLI command reaches the router through the IPC server's
// mailAck op, not through this accessor.
func (d *Daemon) Router() *trigger.Router { return d.router }

func (d *Daemon) shutdown() error {
	if err := d.saveSession(); err != nil {
		d.logger.Warn("final session snapshot failed", "error", err)
	}
	if d.ipc != nil {
		d.ipc.Close()
	}
	d.roster.Shutdown()
	d.wg.Wait()
	d.logger.Info("daemon stopped")
	return nil
}

// StopDaemon sends SIGTERM to the running daemon's PID and waits briefly
// for the PID file to disappear, confirming a clean shutdown.
func StopDaemon(townRoot string) error {
	running, pid, err := IsRunning(townRoot)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon: not running")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("daemon: signaling pid %d: %w", pid, err)
	}
	pidPath := constants.DaemonPIDPath(townRoot)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidPath); os.IsNotExist(err) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon: pid %d did not exit within timeout", pid)
}

// StartedAt returns the daemon's PID file modification time as a proxy
// for its start time, matching gastown's binary-mtime trick for
// comparing process age against the binary on disk.
func StartedAt(townRoot string) (time.Time, error) {
	info, err := os.Stat(constants.DaemonPIDPath(townRoot))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// IsRunning reports whether a daemon is running for the given town root
// by checking the PID file and signaling the process with signal 0.
func IsRunning(townRoot string) (bool, int, error) {
	data, err := os.ReadFile(constants.DaemonPIDPath(townRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0, nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(constants.DaemonPIDPath(townRoot))
		return false, 0, nil
	}
	return true, pid, nil
}
