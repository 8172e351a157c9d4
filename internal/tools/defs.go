package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/leonletto/anvil/internal/activity"
	"github.com/leonletto/anvil/internal/protocol"
)

// Runner executes an external platform tool. Handlers shell out through it
// so tests can substitute a fake and never spawn real toolchains.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with a bounded timeout, in the manner of the
// daemon-side command helpers.
type ExecRunner struct {
	Dir     string
	Timeout time.Duration
}

// Run executes the command and returns combined output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204 - name comes from the compiled-in catalog
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Deps are the collaborators built-in handlers need.
type Deps struct {
	Runner        Runner
	Activity      *activity.Registry
	WorkspaceRoot string
}

// Activity lease keys used by long-running built-ins.
const (
	ActivityLogCapture   = "log-capture"
	ActivityDebugSession = "debug-session"
)

// DefaultDefinitions returns the compiled-in operation catalog. The concrete
// platform work stays in external tools (xcodebuild, xcrun, lldb); each
// handler is a thin wrapper around one of them.
func DefaultDefinitions(deps Deps) []Definition {
	return []Definition{
		{
			CLIName:     "discover-projects",
			MCPName:     "discover_projects",
			Workflow:    "project",
			Description: "Scan the workspace for Xcode projects and workspaces",
			Handler:     discoverProjects(deps),
		},
		{
			CLIName:     "build",
			MCPName:     "build_project",
			Workflow:    "build",
			Description: "Build a project scheme with xcodebuild",
			Handler:     xcodebuild(deps, "build"),
		},
		{
			CLIName:     "clean",
			MCPName:     "clean_project",
			Workflow:    "build",
			Description: "Remove build products with xcodebuild clean",
			Handler:     xcodebuild(deps, "clean"),
		},
		{
			CLIName:     "test",
			MCPName:     "test_project",
			Workflow:    "test",
			Description: "Run a scheme's test suite with xcodebuild test",
			Handler:     xcodebuild(deps, "test"),
		},
		{
			CLIName:     "list-sims",
			MCPName:     "list_sims",
			Workflow:    "simulator",
			Description: "List available simulators",
			Handler:     xcrun(deps, "simctl", "list", "devices"),
		},
		{
			CLIName:     "list-devices",
			MCPName:     "list_devices",
			Workflow:    "device",
			Description: "List connected physical devices",
			Handler:     xcrun(deps, "devicectl", "list", "devices"),
		},
		{
			CLIName:     "capture-logs",
			MCPName:     "capture_logs",
			Workflow:    "logging",
			Description: "Capture simulator logs for a bounded window",
			Stateful:    true,
			Handler:     captureLogs(deps),
		},
		{
			CLIName:     "debug-attach",
			MCPName:     "debug_attach",
			Workflow:    "debug",
			Description: "Attach lldb to a running process",
			Stateful:    true,
			Handler:     debugAttach(deps),
		},
	}
}

// xcodebuild wraps one xcodebuild action. Recognized args become the usual
// flags; everything else is rejected so typos surface instead of silently
// building the wrong thing.
func xcodebuild(deps Deps, action string) Handler {
	return func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
		cmdArgs := []string{action}
		for _, k := range sortedKeys(args) {
			switch k {
			case "project":
				cmdArgs = append(cmdArgs, "-project", args[k])
			case "workspace":
				cmdArgs = append(cmdArgs, "-workspace", args[k])
			case "scheme":
				cmdArgs = append(cmdArgs, "-scheme", args[k])
			case "configuration":
				cmdArgs = append(cmdArgs, "-configuration", args[k])
			case "destination":
				cmdArgs = append(cmdArgs, "-destination", args[k])
			default:
				return protocol.ToolInvokeResult{}, fmt.Errorf("unknown argument %q for %s", k, action)
			}
		}
		out, err := deps.Runner.Run(ctx, "xcodebuild", cmdArgs...)
		if err != nil {
			return protocol.ToolInvokeResult{}, err
		}
		return protocol.ToolInvokeResult{Content: out}, nil
	}
}

func xcrun(deps Deps, subArgs ...string) Handler {
	return func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
		out, err := deps.Runner.Run(ctx, "xcrun", subArgs...)
		if err != nil {
			return protocol.ToolInvokeResult{}, err
		}
		return protocol.ToolInvokeResult{Content: out}, nil
	}
}

// discoverProjects walks the workspace itself; no external tool needed.
func discoverProjects(deps Deps) Handler {
	return func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
		var found []string
		err := filepath.WalkDir(deps.WorkspaceRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil //nolint:nilerr // unreadable subtrees are skipped, not fatal
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !d.IsDir() || path == deps.WorkspaceRoot {
				return nil
			}
			switch filepath.Ext(d.Name()) {
			case ".xcodeproj", ".xcworkspace":
				rel, relErr := filepath.Rel(deps.WorkspaceRoot, path)
				if relErr != nil {
					rel = path
				}
				found = append(found, rel)
				return filepath.SkipDir
			}
			if d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		})
		if err != nil {
			return protocol.ToolInvokeResult{}, err
		}
		sort.Strings(found)
		if len(found) == 0 {
			return protocol.ToolInvokeResult{Content: "no projects found"}, nil
		}
		return protocol.ToolInvokeResult{Content: strings.Join(found, "\n")}, nil
	}
}

// captureLogs holds an activity lease for the capture window so the daemon
// does not idle out mid-capture. The lease is released exactly once,
// including when the capture tool fails.
func captureLogs(deps Deps) Handler {
	return func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
		lease := deps.Activity.Acquire(ActivityLogCapture)
		defer lease.Release()

		device := args["device"]
		if device == "" {
			device = "booted"
		}
		window := args["seconds"]
		if window == "" {
			window = "30"
		}
		out, err := deps.Runner.Run(ctx, "xcrun", "simctl", "spawn", device,
			"log", "stream", "--timeout", window+"s")
		if err != nil {
			return protocol.ToolInvokeResult{}, err
		}
		return protocol.ToolInvokeResult{Content: out}, nil
	}
}

func debugAttach(deps Deps) Handler {
	return func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
		pid := args["pid"]
		if pid == "" {
			return protocol.ToolInvokeResult{}, fmt.Errorf("'pid' is required")
		}

		lease := deps.Activity.Acquire(ActivityDebugSession)
		defer lease.Release()

		out, err := deps.Runner.Run(ctx, "lldb", "--attach-pid", pid, "--batch",
			"-o", "process status", "-o", "detach")
		if err != nil {
			return protocol.ToolInvokeResult{}, err
		}
		return protocol.ToolInvokeResult{Content: out}, nil
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
