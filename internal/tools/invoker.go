package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/leonletto/anvil/internal/protocol"
)

// Runtime identifies which front-end is making a call. Routing depends on
// it: a stateful operation reached from the CLI runtime crosses into the
// daemon, while the daemon itself always executes in-process.
type Runtime string

const (
	RuntimeCLI    Runtime = "cli"
	RuntimeDaemon Runtime = "daemon"
	RuntimeMCP    Runtime = "mcp"
)

// DaemonCaller forwards an invocation to the workspace daemon, starting it
// if necessary. Implemented outside this package so the catalog stays free
// of transport concerns.
type DaemonCaller interface {
	InvokeTool(ctx context.Context, tool string, args map[string]string) (protocol.ToolInvokeResult, error)
	InvokeBridged(ctx context.Context, tool string, args map[string]string) (protocol.ToolInvokeResult, error)
}

// InfraError marks a failure of the machinery around an operation (the
// daemon would not start, the socket was unreachable) rather than the
// operation itself failing. Monitoring wants these counted separately.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// IsInfra reports whether err is an infrastructure failure.
func IsInfra(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

// Invoker resolves names against a catalog and routes each invocation.
type Invoker struct {
	catalog *Catalog
	runtime Runtime
	daemon  DaemonCaller
}

// NewInvoker builds an invoker for one front-end. daemon may be nil for the
// daemon runtime, which never routes back into itself.
func NewInvoker(catalog *Catalog, runtime Runtime, daemon DaemonCaller) *Invoker {
	return &Invoker{catalog: catalog, runtime: runtime, daemon: daemon}
}

// Catalog exposes the underlying catalog, e.g. for tool.list.
func (inv *Invoker) Catalog() *Catalog {
	return inv.catalog
}

// Run resolves and invokes the named operation.
//
// Resolution failures (not found, ambiguous) come back as errors of type
// *NotFoundError / *AmbiguousError. Transport failures come back wrapped in
// *InfraError. A handler's own failure is neither: it arrives as a result
// with IsError set, mirroring how the wire protocol treats handler errors
// as business content.
func (inv *Invoker) Run(ctx context.Context, name string, args map[string]string) (protocol.ToolInvokeResult, error) {
	def, err := inv.catalog.Resolve(name)
	if err != nil {
		return protocol.ToolInvokeResult{}, err
	}

	if inv.routesToDaemon(def) {
		result, err := inv.daemon.InvokeTool(ctx, def.CLIName, args)
		if err != nil {
			return protocol.ToolInvokeResult{}, &InfraError{Op: "tool.invoke " + def.CLIName, Err: err}
		}
		return result, nil
	}

	return inv.runDirect(ctx, def, args)
}

// RunBridged invokes a dynamically discovered bridged tool. Bridged tools
// live only in the daemon, so every runtime except the daemon itself routes
// the call through the daemon caller.
func (inv *Invoker) RunBridged(ctx context.Context, name string, args map[string]string) (protocol.ToolInvokeResult, error) {
	if inv.runtime == RuntimeDaemon || inv.daemon == nil {
		return protocol.ToolInvokeResult{}, &NotFoundError{Name: name}
	}
	result, err := inv.daemon.InvokeBridged(ctx, name, args)
	if err != nil {
		return protocol.ToolInvokeResult{}, &InfraError{Op: "bridge.invoke " + name, Err: err}
	}
	return result, nil
}

// RunDirect resolves and invokes in-process unconditionally. The daemon
// server dispatches tool.invoke through this path so it never re-enters its
// own routing branch.
func (inv *Invoker) RunDirect(ctx context.Context, name string, args map[string]string) (protocol.ToolInvokeResult, error) {
	def, err := inv.catalog.Resolve(name)
	if err != nil {
		return protocol.ToolInvokeResult{}, err
	}
	return inv.runDirect(ctx, def, args)
}

func (inv *Invoker) routesToDaemon(def *Definition) bool {
	return inv.runtime == RuntimeCLI && def.Stateful && inv.daemon != nil
}

func (inv *Invoker) runDirect(ctx context.Context, def *Definition, args map[string]string) (protocol.ToolInvokeResult, error) {
	result, err := def.Handler(ctx, args)
	if err != nil {
		// Handler failure is the operation's business outcome, not a
		// protocol error.
		return protocol.ToolInvokeResult{Content: err.Error(), IsError: true}, nil
	}
	return result, nil
}
