package daemon

import (
	"context"
	"log/slog"
	"time"
)

// idleCheckInterval is how often the monitor re-evaluates the daemon.
const idleCheckInterval = 30 * time.Second

// IdleMonitor shuts the daemon down after a stretch of inactivity. A
// daemon is idle only when no request is in flight, no activity lease is
// held, and the last request finished more than the timeout ago.
type IdleMonitor struct {
	server   *Server
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     func()
}

// NewIdleMonitor creates a monitor. A zero timeout disables idle shutdown
// entirely; Run returns immediately.
func NewIdleMonitor(server *Server, timeout time.Duration, logger *slog.Logger, stop func()) *IdleMonitor {
	return &IdleMonitor{
		server:   server,
		timeout:  timeout,
		interval: idleCheckInterval,
		logger:   logger,
		stop:     stop,
	}
}

// Run ticks until the context is canceled or the daemon goes idle.
func (m *IdleMonitor) Run(ctx context.Context) {
	if m.timeout <= 0 {
		m.logger.Info("idle shutdown disabled")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.shouldShutdown(time.Now()) {
				m.logger.Info("idle timeout reached, shutting down",
					"timeout", m.timeout,
					"idle", time.Since(m.server.LastActivity()).Round(time.Second))
				m.stop()
				return
			}
		}
	}
}

// shouldShutdown applies the idle rule at the given instant. Activity
// leases held by long-running sessions keep the daemon alive even when no
// request is on the wire.
func (m *IdleMonitor) shouldShutdown(now time.Time) bool {
	if m.server.InFlight() > 0 {
		return false
	}
	if m.server.opts.Activity.Total() > 0 {
		return false
	}
	return now.Sub(m.server.LastActivity()) >= m.timeout
}
