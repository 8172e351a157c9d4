// Package cli implements the operations behind the anvil commands:
// daemon control, tool invocation, and output formatting.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leonletto/anvil/internal/config"
	"github.com/leonletto/anvil/internal/daemon"
	"github.com/leonletto/anvil/internal/logging"
	"github.com/leonletto/anvil/internal/paths"
	"github.com/leonletto/anvil/internal/protocol"
	"github.com/leonletto/anvil/internal/registry"
)

// stopTimeout bounds how long DaemonStop waits for the process to exit
// after it acknowledges daemon.stop.
const stopTimeout = 10 * time.Second

// DaemonStatusResult is the status of one workspace daemon as seen from
// the CLI, including the not-running case.
type DaemonStatusResult struct {
	Running bool                   `json:"running"`
	Status  *protocol.StatusResult `json:"status,omitempty"`
}

// StartOptions carry the `daemon start` flag overrides. They reach the
// spawned daemon through its environment, since the child re-resolves its
// config on boot.
type StartOptions struct {
	LogPath  string
	LogLevel string
}

// DaemonStart ensures a daemon is running for the workspace. Returns true
// when it started one, false when one was already up.
func DaemonStart(ctx context.Context, workspaceRoot string, opts StartOptions) (bool, error) {
	client := daemon.NewClient(paths.SocketPath(workspaceRoot))
	if client.IsRunning() {
		return false, nil
	}

	_, err := daemon.EnsureRunning(ctx, daemon.SpawnOptions{
		WorkspaceRoot: workspaceRoot,
		ExtraEnv:      startEnv(opts),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// startEnv merges the forwarded parent environment with flag overrides.
// Overrides go last so exec's duplicate-key rule makes them win.
func startEnv(opts StartOptions) []string {
	env := config.DaemonEnv()
	if opts.LogPath != "" {
		env = append(env, config.EnvLogPath+"="+opts.LogPath)
	}
	if opts.LogLevel != "" {
		env = append(env, config.EnvLogLevel+"="+opts.LogLevel)
	}
	return env
}

// DaemonStop asks the workspace daemon to shut down and waits for its
// socket to stop answering. A daemon that was not running is not an error.
func DaemonStop(ctx context.Context, workspaceRoot string) (bool, error) {
	client := daemon.NewClient(paths.SocketPath(workspaceRoot))
	if !client.IsRunning() {
		return false, nil
	}

	if err := client.Stop(ctx); err != nil {
		if errors.Is(err, daemon.ErrDaemonNotRunning) {
			return false, nil
		}
		return false, fmt.Errorf("stop daemon: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if !client.IsRunning() {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return true, fmt.Errorf("daemon acknowledged stop but is still answering after %v", stopTimeout)
}

// DaemonStatus reports whether the workspace daemon is running and, if so,
// its status snapshot.
func DaemonStatus(ctx context.Context, workspaceRoot string) (DaemonStatusResult, error) {
	client := daemon.NewClient(paths.SocketPath(workspaceRoot))
	status, err := client.Status(ctx)
	if err != nil {
		if errors.Is(err, daemon.ErrDaemonNotRunning) {
			return DaemonStatusResult{Running: false}, nil
		}
		return DaemonStatusResult{}, err
	}
	return DaemonStatusResult{Running: true, Status: &status}, nil
}

// DaemonRestart stops the workspace daemon if running, then starts a
// fresh one.
func DaemonRestart(ctx context.Context, workspaceRoot string) error {
	if _, err := DaemonStop(ctx, workspaceRoot); err != nil {
		return err
	}
	if _, err := DaemonStart(ctx, workspaceRoot, StartOptions{}); err != nil {
		return err
	}
	return nil
}

// DaemonListEntry is one row of the daemon inventory.
type DaemonListEntry struct {
	registry.Entry
	Alive bool `json:"alive"`
}

// DaemonList returns every registered daemon. With includeStale, entries
// whose socket no longer answers are kept (marked not alive); otherwise
// they are pruned from the registry and omitted.
func DaemonList(includeStale bool) ([]DaemonListEntry, error) {
	entries, err := registry.List()
	if err != nil {
		return nil, err
	}

	var out []DaemonListEntry
	for _, entry := range entries {
		alive := daemon.NewClient(entry.SocketPath).IsRunning()
		if !alive && !includeStale {
			if !registry.ProcessRunning(entry) {
				_ = registry.Remove(entry.WorkspaceKey)
			}
			continue
		}
		out = append(out, DaemonListEntry{Entry: entry, Alive: alive})
	}
	return out, nil
}

// DaemonLogs returns the last n lines of the workspace daemon's log file.
func DaemonLogs(workspaceRoot string, n int) ([]string, error) {
	return logging.TailFile(paths.LogPath(workspaceRoot), n)
}

// FormatDaemonStatus renders a status result for humans.
func FormatDaemonStatus(result DaemonStatusResult) string {
	if !result.Running {
		return "Daemon:     not running\n"
	}

	s := result.Status
	var b strings.Builder
	fmt.Fprintf(&b, "Daemon:     running (PID %d)\n", s.PID)
	fmt.Fprintf(&b, "Workspace:  %s\n", s.WorkspaceRoot)
	fmt.Fprintf(&b, "Uptime:     %s\n", formatUptime(s.UptimeSeconds))
	fmt.Fprintf(&b, "Tools:      %d\n", s.ToolCount)
	fmt.Fprintf(&b, "In flight:  %d\n", s.InFlight)
	if s.ActivityTotal > 0 {
		fmt.Fprintf(&b, "Sessions:   %d active\n", s.ActivityTotal)
	}
	fmt.Fprintf(&b, "Socket:     %s\n", s.SocketPath)
	if s.LogPath != "" {
		fmt.Fprintf(&b, "Log:        %s\n", s.LogPath)
	}
	if s.Version != "" {
		fmt.Fprintf(&b, "Version:    %s\n", s.Version)
	}
	return b.String()
}

// FormatDaemonList renders the daemon inventory for humans.
func FormatDaemonList(entries []DaemonListEntry) string {
	if len(entries) == 0 {
		return "No daemons registered.\n"
	}

	var b strings.Builder
	for _, e := range entries {
		state := "running"
		if !e.Alive {
			state = "stale"
		}
		fmt.Fprintf(&b, "%-8s PID %-7d %s\n", state, e.PID, e.WorkspaceRoot)
	}
	return b.String()
}

func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
