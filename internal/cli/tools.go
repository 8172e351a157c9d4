package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/leonletto/anvil/internal/activity"
	"github.com/leonletto/anvil/internal/config"
	"github.com/leonletto/anvil/internal/daemon"
	"github.com/leonletto/anvil/internal/protocol"
	"github.com/leonletto/anvil/internal/tools"
)

// NewCLIInvoker builds the invoker the CLI front-end uses: stateless tools
// run in-process, stateful ones cross into the workspace daemon, which is
// started on demand.
func NewCLIInvoker(workspaceRoot string) (*tools.Invoker, error) {
	catalog, err := tools.NewCatalog(tools.DefaultDefinitions(tools.Deps{
		Runner:        &tools.ExecRunner{Dir: workspaceRoot},
		Activity:      activity.NewRegistry(),
		WorkspaceRoot: workspaceRoot,
	}))
	if err != nil {
		return nil, err
	}

	caller := daemon.NewAutoCaller(daemon.SpawnOptions{
		WorkspaceRoot: workspaceRoot,
		ExtraEnv:      config.DaemonEnv(),
	})
	return tools.NewInvoker(catalog, tools.RuntimeCLI, caller), nil
}

// NewMCPInvoker builds the invoker for the MCP front-end. The MCP server
// is itself long-lived, so catalog tools (stateful ones included) run
// in-process; the daemon caller only carries bridged invocations.
func NewMCPInvoker(workspaceRoot string) (*tools.Invoker, error) {
	catalog, err := tools.NewCatalog(tools.DefaultDefinitions(tools.Deps{
		Runner:        &tools.ExecRunner{Dir: workspaceRoot},
		Activity:      activity.NewRegistry(),
		WorkspaceRoot: workspaceRoot,
	}))
	if err != nil {
		return nil, err
	}

	caller := daemon.NewAutoCaller(daemon.SpawnOptions{
		WorkspaceRoot: workspaceRoot,
		ExtraEnv:      config.DaemonEnv(),
	})
	return tools.NewInvoker(catalog, tools.RuntimeMCP, caller), nil
}

// RunTool resolves and invokes one tool with already-parsed arguments.
func RunTool(ctx context.Context, workspaceRoot, name string, args map[string]string) (protocol.ToolInvokeResult, error) {
	invoker, err := NewCLIInvoker(workspaceRoot)
	if err != nil {
		return protocol.ToolInvokeResult{}, err
	}
	return invoker.Run(ctx, name, args)
}

// ParseArgs turns repeated --arg key=value flags into a map.
func ParseArgs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid argument %q: want key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}

// ToolsList returns the catalog rows, sorted by workflow then name. The
// catalog is compiled in, so listing never needs the daemon.
func ToolsList(workspaceRoot string) ([]protocol.ToolListEntry, error) {
	invoker, err := NewCLIInvoker(workspaceRoot)
	if err != nil {
		return nil, err
	}
	entries := invoker.Catalog().List()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Workflow != entries[j].Workflow {
			return entries[i].Workflow < entries[j].Workflow
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// ToolsHistory fetches recorded invocations from the workspace daemon,
// starting it if needed. The daemon owns the history database.
func ToolsHistory(ctx context.Context, workspaceRoot, tool string, limit int) ([]protocol.ToolHistoryEntry, error) {
	client, err := daemon.EnsureRunning(ctx, daemon.SpawnOptions{
		WorkspaceRoot: workspaceRoot,
		ExtraEnv:      config.DaemonEnv(),
	})
	if err != nil {
		return nil, err
	}
	return client.History(ctx, tool, limit)
}

// FormatToolList renders the catalog for humans, grouped by workflow and
// fitted to the terminal width.
func FormatToolList(entries []protocol.ToolListEntry) string {
	if len(entries) == 0 {
		return "No tools available.\n"
	}

	width := TerminalWidth()
	var b strings.Builder
	workflow := ""
	for _, e := range entries {
		if e.Workflow != workflow {
			if workflow != "" {
				b.WriteString("\n")
			}
			workflow = e.Workflow
			fmt.Fprintf(&b, "%s:\n", workflow)
		}
		name := e.Name
		if e.Stateful {
			name += " *"
		}
		line := fmt.Sprintf("  %-24s %s", name, e.Description)
		if len(line) > width && width > 27 {
			line = line[:width-3] + "..."
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n* runs in the workspace daemon\n")
	return b.String()
}

// FormatHistory renders invocation history rows for humans.
func FormatHistory(entries []protocol.ToolHistoryEntry) string {
	if len(entries) == 0 {
		return "No invocations recorded.\n"
	}

	var b strings.Builder
	for _, e := range entries {
		outcome := "ok"
		if e.IsError {
			outcome = "error"
		}
		fmt.Fprintf(&b, "%s  %-24s %-5s %6dms\n",
			e.InvokedAt.Local().Format("2006-01-02 15:04:05"), e.Tool, outcome, e.DurationMs)
	}
	return b.String()
}
