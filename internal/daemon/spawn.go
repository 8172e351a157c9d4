package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/leonletto/anvil/internal/paths"
	"github.com/leonletto/anvil/internal/protocol"
	"github.com/leonletto/anvil/internal/tools"
)

// startTimeout bounds how long EnsureRunning waits for a spawned daemon
// to answer its first status request.
const startTimeout = 10 * time.Second

// Seams for tests: spawning a real process and locating the binary are
// the two pieces worth faking.
var (
	executablePath = os.Executable
	spawnProcess   = spawnDetached
)

// SpawnOptions describe the daemon to start on demand.
type SpawnOptions struct {
	WorkspaceRoot string
	// ExtraEnv is appended to the child's environment, after the parent's.
	ExtraEnv []string
}

// EnsureRunning returns a client for the workspace's daemon, starting one
// if none answers. Failure to start is an infrastructure error.
func EnsureRunning(ctx context.Context, opts SpawnOptions) (*Client, error) {
	client := NewClient(paths.SocketPath(opts.WorkspaceRoot))
	if client.IsRunning() {
		return client, nil
	}

	if err := spawnProcess(opts); err != nil {
		return nil, &tools.InfraError{Op: "start daemon", Err: err}
	}

	if err := awaitReady(ctx, client); err != nil {
		return nil, &tools.InfraError{Op: "wait for daemon", Err: err}
	}
	return client, nil
}

// AutoCaller routes tool calls to the workspace daemon, starting it on
// first use. It satisfies the invoker's daemon caller contract.
type AutoCaller struct {
	opts SpawnOptions
}

// NewAutoCaller creates a caller for the given workspace.
func NewAutoCaller(opts SpawnOptions) *AutoCaller {
	return &AutoCaller{opts: opts}
}

// InvokeTool runs a tool in the daemon, starting it if needed.
func (a *AutoCaller) InvokeTool(ctx context.Context, tool string, args map[string]string) (protocol.ToolInvokeResult, error) {
	client, err := EnsureRunning(ctx, a.opts)
	if err != nil {
		return protocol.ToolInvokeResult{}, err
	}
	return client.InvokeTool(ctx, tool, args)
}

// InvokeBridged runs a bridged tool in the daemon, starting it if needed.
func (a *AutoCaller) InvokeBridged(ctx context.Context, tool string, args map[string]string) (protocol.ToolInvokeResult, error) {
	client, err := EnsureRunning(ctx, a.opts)
	if err != nil {
		return protocol.ToolInvokeResult{}, err
	}
	return client.InvokeBridged(ctx, tool, args)
}

// spawnDetached starts `<self> daemon run` in its own session so the
// daemon survives the parent's exit.
func spawnDetached(opts SpawnOptions) error {
	executable, err := executablePath()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	cmd := exec.Command(executable, "daemon", "run", "--workspace", opts.WorkspaceRoot) //nolint:gosec // re-exec of self
	cmd.Dir = opts.WorkspaceRoot
	cmd.Env = append(os.Environ(), opts.ExtraEnv...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	// Release the child so it gets adopted by init/launchd. Do NOT call
	// cmd.Wait(): a goroutine calling Wait() killed mid-syscall when the
	// parent exits can leave the child unkillable on macOS.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release daemon process: %w", err)
	}
	return nil
}

// awaitReady polls with full status round trips until the daemon answers.
// A listening socket alone is not readiness; the dispatcher must respond.
func awaitReady(ctx context.Context, client *Client) error {
	deadline := time.After(startTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timeout waiting for daemon to start; try 'anvil daemon start' and check 'anvil daemon logs'")
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			_, err := client.Status(probeCtx)
			cancel()
			if err == nil {
				return nil
			}
		}
	}
}
