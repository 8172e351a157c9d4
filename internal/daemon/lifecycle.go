package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/leonletto/anvil/internal/registry"
)

// shutdownWatchdogTimeout bounds the whole graceful shutdown. It must
// exceed the server's drain timeout so an orderly close never trips it.
const shutdownWatchdogTimeout = 15 * time.Second

// exitFunc is swapped out in tests.
var exitFunc = os.Exit

// Lifecycle manages the daemon process: single-instance enforcement,
// registry entry, signal handling, idle monitoring, and shutdown ordering.
type Lifecycle struct {
	server          *Server
	entry           registry.Entry
	lockPath        string
	idleTimeout     time.Duration
	watchdogTimeout time.Duration
	logger          *slog.Logger
	lock            *FileLock
	shutdownCh      chan struct{}
	shutdownOnce    sync.Once
}

// NewLifecycle creates a lifecycle manager. The registry entry describes
// this daemon; its PID and StartedAt are filled in at Run time.
func NewLifecycle(server *Server, entry registry.Entry, lockPath string, idleTimeout time.Duration, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		server:          server,
		entry:           entry,
		lockPath:        lockPath,
		idleTimeout:     idleTimeout,
		watchdogTimeout: shutdownWatchdogTimeout,
		logger:          logger,
		shutdownCh:      make(chan struct{}),
	}
}

// Run starts the server and blocks until shutdown. At most one daemon per
// workspace can get past this: the file lock and the server's live-socket
// probe each refuse a second instance independently.
func (l *Lifecycle) Run(ctx context.Context) error {
	// The OS releases this lock when the process dies, even on SIGKILL,
	// so a crashed daemon never blocks its successor.
	lock, err := AcquireLock(l.lockPath)
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	l.lock = lock
	defer func() {
		if err := l.lock.Release(); err != nil {
			l.logger.Warn("release daemon lock", "error", err)
		}
	}()

	// Refuse to start over a live registry entry for this workspace.
	if existing, err := registry.Read(l.entry.WorkspaceKey); err == nil {
		if registry.ProcessRunning(existing) && NewClient(existing.SocketPath).IsRunning() {
			return fmt.Errorf("daemon already running (PID %d) for workspace %s",
				existing.PID, existing.WorkspaceRoot)
		}
		l.logger.Info("replacing stale registry entry", "pid", existing.PID)
	}

	l.server.SetStopFunc(l.Shutdown)

	// Safety net for panics and early returns: the normal path clears
	// shutdownComplete and cleans up in shutdown().
	var shutdownComplete atomic.Bool
	defer func() {
		if !shutdownComplete.Load() {
			_ = l.server.Stop()
			_ = registry.Remove(l.entry.WorkspaceKey)
		}
	}()

	if err := l.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.entry.PID = os.Getpid()
	l.entry.StartedAt = time.Now().UTC()
	if err := registry.Write(l.entry); err != nil {
		_ = l.server.Stop()
		return fmt.Errorf("failed to write registry entry: %w", err)
	}

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	monitor := NewIdleMonitor(l.server, l.idleTimeout, l.logger, l.Shutdown)
	go monitor.Run(monitorCtx)

	go l.handleSignals()

	l.logger.Info("daemon ready",
		"pid", l.entry.PID,
		"socket", l.entry.SocketPath,
		"workspace", l.entry.WorkspaceRoot,
		"idle_timeout", l.idleTimeout)

	select {
	case <-l.shutdownCh:
	case <-ctx.Done():
		l.Shutdown()
		<-l.shutdownCh
	}

	shutdownComplete.Store(true)
	return l.shutdown()
}

// handleSignals triggers graceful shutdown on SIGTERM and SIGINT.
func (l *Lifecycle) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	l.logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
	l.Shutdown()
}

// shutdown stops the server, removes the registry entry, and releases the
// lock. Errors are logged and cleanup continues past them. A watchdog
// forces the process out with exit code 1 if any step hangs, after
// best-effort socket and registry cleanup.
func (l *Lifecycle) shutdown() error {
	l.logger.Info("starting graceful shutdown")

	watchdog := time.AfterFunc(l.watchdogTimeout, l.forceExit)
	defer watchdog.Stop()

	if err := l.server.Stop(); err != nil {
		l.logger.Warn("stop server", "error", err)
	}

	if err := registry.Remove(l.entry.WorkspaceKey); err != nil {
		l.logger.Warn("remove registry entry", "error", err)
		return err
	}

	// Release now for a clean shutdown; the defer in Run covers crashes.
	if err := l.lock.Release(); err != nil {
		l.logger.Warn("release daemon lock", "error", err)
	}

	l.logger.Info("graceful shutdown complete")
	return nil
}

// forceExit is the stalled-shutdown path. Cleanup here cannot rely on the
// regular teardown having run, so it reaches for the files directly.
func (l *Lifecycle) forceExit() {
	l.logger.Error("graceful shutdown stalled, forcing exit",
		"timeout", l.watchdogTimeout)
	_ = os.Remove(l.entry.SocketPath)
	_ = registry.Remove(l.entry.WorkspaceKey)
	if l.lock != nil {
		_ = l.lock.Release()
	}
	exitFunc(1)
}

// Shutdown triggers a graceful shutdown. Safe to call more than once and
// from any goroutine.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() {
		close(l.shutdownCh)
	})
}
