// Package registry persists the on-disk record of running daemons: one
// directory per workspace key, each holding a daemon.json entry and the
// daemon's socket. Entries are hints, not truth: a process killed with
// SIGKILL leaves its file behind, so readers must reach the socket before
// declaring a daemon running.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/leonletto/anvil/internal/paths"
)

// Entry is the persisted record of one running daemon.
type Entry struct {
	WorkspaceKey     string    `json:"workspaceKey"`
	WorkspaceRoot    string    `json:"workspaceRoot"`
	SocketPath       string    `json:"socketPath"`
	LogPath          string    `json:"logPath,omitempty"`
	PID              int       `json:"pid"`
	StartedAt        time.Time `json:"startedAt"`
	EnabledWorkflows []string  `json:"enabledWorkflows,omitempty"`
	Version          string    `json:"version"`
}

// Write persists the entry for its workspace, creating the daemon directory
// if needed. The file is owner-only.
func Write(entry Entry) error {
	dir := filepath.Join(paths.DaemonsDir(), entry.WorkspaceKey)
	if err := paths.EnsureDir(dir); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "daemon.json"), data, 0600); err != nil {
		return fmt.Errorf("write registry entry: %w", err)
	}
	return nil
}

// Read loads the entry for a workspace key. Returns os.ErrNotExist-wrapping
// errors unwrapped so callers can use os.IsNotExist.
func Read(workspaceKey string) (Entry, error) {
	path := filepath.Join(paths.DaemonsDir(), workspaceKey, "daemon.json")
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path rooted in the anvil state directory
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("invalid registry entry %s: %w", path, err)
	}
	return entry, nil
}

// Remove deletes a workspace's entry. Missing files are not an error.
func Remove(workspaceKey string) error {
	path := filepath.Join(paths.DaemonsDir(), workspaceKey, "daemon.json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove registry entry: %w", err)
	}
	return nil
}

// List returns every registry entry on disk, including stale ones. Callers
// that need liveness must probe each entry's socket.
func List() ([]Entry, error) {
	dirs, err := os.ReadDir(paths.DaemonsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read daemons directory: %w", err)
	}

	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		entry, err := Read(d.Name())
		if err != nil {
			// Corrupt or half-written entries are skipped, not fatal.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ProcessRunning reports whether the entry's recorded PID still exists.
// This is a display/pruning aid only; socket reachability decides liveness.
func ProcessRunning(entry Entry) bool {
	return isProcessRunning(entry.PID)
}

// isProcessRunning checks a PID with signal 0.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		// Process exists but belongs to someone else.
		return true
	}
	return false
}
