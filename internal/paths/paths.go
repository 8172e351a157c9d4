// Package paths resolves workspace roots and the per-workspace daemon
// runtime directories under the XDG state directory.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// EnvSocketPath overrides the daemon socket path when set.
const EnvSocketPath = "ANVIL_SOCKET_PATH"

// FindWorkspaceRoot walks up from startPath looking for a directory that
// contains .anvil/ or, failing that, .git/. This mimics how git locates its
// repository root. If neither marker exists anywhere above startPath, the
// absolute startPath itself is the workspace root.
func FindWorkspaceRoot(startPath string) (string, error) {
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	for _, marker := range []string{".anvil", ".git"} {
		dir := absPath
		for {
			info, err := os.Stat(filepath.Join(dir, marker))
			if err == nil && info.IsDir() {
				return dir, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return absPath, nil
}

// WorkspaceKey derives the stable identifier that namespaces one daemon per
// logical workspace: a short SHA-256 of the cleaned absolute root path.
func WorkspaceKey(workspaceRoot string) string {
	clean := filepath.Clean(workspaceRoot)
	sum := sha256.Sum256([]byte(clean))
	return hex.EncodeToString(sum[:])[:16]
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

// StateDir returns the anvil state directory ($XDG_STATE_HOME/anvil).
func StateDir() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return filepath.Join(v, "anvil")
	}
	return filepath.Join(homeDir(), ".local", "state", "anvil")
}

// DaemonsDir returns the directory holding one subdirectory per running
// daemon's workspace key.
func DaemonsDir() string {
	return filepath.Join(StateDir(), "daemons")
}

// DaemonDir returns the runtime directory for one workspace's daemon.
func DaemonDir(workspaceRoot string) string {
	return filepath.Join(DaemonsDir(), WorkspaceKey(workspaceRoot))
}

// SocketPath returns the daemon socket path for a workspace, honoring the
// ANVIL_SOCKET_PATH override.
func SocketPath(workspaceRoot string) string {
	if v := os.Getenv(EnvSocketPath); v != "" {
		return v
	}
	return filepath.Join(DaemonDir(workspaceRoot), "daemon.sock")
}

// EntryPath returns the daemon.json registry entry path for a workspace.
func EntryPath(workspaceRoot string) string {
	return filepath.Join(DaemonDir(workspaceRoot), "daemon.json")
}

// LockPath returns the flock file path backing single-instance enforcement.
func LockPath(workspaceRoot string) string {
	return filepath.Join(DaemonDir(workspaceRoot), "daemon.lock")
}

// LogPath returns the default daemon log file path for a workspace.
func LogPath(workspaceRoot string) string {
	return filepath.Join(DaemonDir(workspaceRoot), "daemon.log")
}

// HistoryPath returns the invocation history database path for a workspace.
func HistoryPath(workspaceRoot string) string {
	return filepath.Join(DaemonDir(workspaceRoot), "history.db")
}

// BridgeDir returns the directory an IDE companion drops bridged tool
// descriptors into. It lives inside the workspace, not the state dir, so
// descriptors follow the project.
func BridgeDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".anvil", "bridge")
}

// EnsureDir creates a directory and parents if needed, owner-only.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
