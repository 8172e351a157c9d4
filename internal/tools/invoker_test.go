package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leonletto/anvil/internal/protocol"
)

// fakeDaemonCaller records routed invocations.
type fakeDaemonCaller struct {
	invoked []string
	bridged []string
	err     error
}

func (f *fakeDaemonCaller) InvokeTool(ctx context.Context, tool string, args map[string]string) (protocol.ToolInvokeResult, error) {
	f.invoked = append(f.invoked, tool)
	if f.err != nil {
		return protocol.ToolInvokeResult{}, f.err
	}
	return protocol.ToolInvokeResult{Content: "via daemon"}, nil
}

func (f *fakeDaemonCaller) InvokeBridged(ctx context.Context, tool string, args map[string]string) (protocol.ToolInvokeResult, error) {
	f.bridged = append(f.bridged, tool)
	if f.err != nil {
		return protocol.ToolInvokeResult{}, f.err
	}
	return protocol.ToolInvokeResult{Content: "bridged"}, nil
}

func invokerDefs(directCalls *[]string) []Definition {
	record := func(name string, result protocol.ToolInvokeResult, err error) Handler {
		return func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
			*directCalls = append(*directCalls, name)
			return result, err
		}
	}
	return []Definition{
		{CLIName: "list-sims", MCPName: "list_sims", Workflow: "simulator",
			Handler: record("list-sims", protocol.ToolInvokeResult{Content: "direct"}, nil)},
		{CLIName: "capture-logs", MCPName: "capture_logs", Workflow: "logging", Stateful: true,
			Handler: record("capture-logs", protocol.ToolInvokeResult{Content: "direct"}, nil)},
		{CLIName: "flaky", MCPName: "flaky_op", Workflow: "test",
			Handler: record("flaky", protocol.ToolInvokeResult{}, fmt.Errorf("toolchain exploded"))},
	}
}

func TestRunStatelessStaysInProcess(t *testing.T) {
	var direct []string
	c, err := NewCatalog(invokerDefs(&direct))
	if err != nil {
		t.Fatal(err)
	}
	daemon := &fakeDaemonCaller{}
	inv := NewInvoker(c, RuntimeCLI, daemon)

	result, err := inv.Run(context.Background(), "list-sims", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "direct" {
		t.Errorf("content = %q", result.Content)
	}
	if len(daemon.invoked) != 0 {
		t.Errorf("stateless call routed to daemon: %v", daemon.invoked)
	}
}

func TestRunStatefulFromCLIRoutesToDaemon(t *testing.T) {
	var direct []string
	c, err := NewCatalog(invokerDefs(&direct))
	if err != nil {
		t.Fatal(err)
	}
	daemon := &fakeDaemonCaller{}
	inv := NewInvoker(c, RuntimeCLI, daemon)

	result, err := inv.Run(context.Background(), "capture-logs", map[string]string{"seconds": "5"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "via daemon" {
		t.Errorf("content = %q", result.Content)
	}
	if len(daemon.invoked) != 1 || daemon.invoked[0] != "capture-logs" {
		t.Errorf("daemon invocations = %v", daemon.invoked)
	}
	if len(direct) != 0 {
		t.Errorf("handler ran in-process: %v", direct)
	}
}

func TestRunStatefulInDaemonRuntimeStaysInProcess(t *testing.T) {
	var direct []string
	c, err := NewCatalog(invokerDefs(&direct))
	if err != nil {
		t.Fatal(err)
	}
	inv := NewInvoker(c, RuntimeDaemon, nil)

	if _, err := inv.Run(context.Background(), "capture-logs", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(direct) != 1 {
		t.Errorf("direct calls = %v, want the handler to run here", direct)
	}
}

func TestRunHandlerErrorIsBusinessResult(t *testing.T) {
	var direct []string
	c, err := NewCatalog(invokerDefs(&direct))
	if err != nil {
		t.Fatal(err)
	}
	inv := NewInvoker(c, RuntimeMCP, nil)

	result, err := inv.Run(context.Background(), "flaky", nil)
	if err != nil {
		t.Fatalf("handler failure surfaced as error: %v", err)
	}
	if !result.IsError || result.Content != "toolchain exploded" {
		t.Errorf("result = %+v", result)
	}
}

func TestRunTransportFailureIsInfraError(t *testing.T) {
	var direct []string
	c, err := NewCatalog(invokerDefs(&direct))
	if err != nil {
		t.Fatal(err)
	}
	daemon := &fakeDaemonCaller{err: fmt.Errorf("connect: no such file")}
	inv := NewInvoker(c, RuntimeCLI, daemon)

	_, err = inv.Run(context.Background(), "capture-logs", nil)
	if !IsInfra(err) {
		t.Fatalf("err = %v, want InfraError", err)
	}

	// Resolution failures are business-level, not infrastructure.
	_, err = inv.Run(context.Background(), "nope", nil)
	if IsInfra(err) {
		t.Error("not-found classified as infrastructure")
	}
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestRunBridgedAlwaysRoutesToDaemon(t *testing.T) {
	var direct []string
	c, err := NewCatalog(invokerDefs(&direct))
	if err != nil {
		t.Fatal(err)
	}
	daemon := &fakeDaemonCaller{}

	for _, rt := range []Runtime{RuntimeCLI, RuntimeMCP} {
		inv := NewInvoker(c, rt, daemon)
		result, err := inv.RunBridged(context.Background(), "ide-refresh", nil)
		if err != nil {
			t.Fatalf("runtime %s: %v", rt, err)
		}
		if result.Content != "bridged" {
			t.Errorf("runtime %s: content = %q", rt, result.Content)
		}
	}
	if len(daemon.bridged) != 2 {
		t.Errorf("bridged invocations = %v", daemon.bridged)
	}
}

func TestRunDirectNeverRoutes(t *testing.T) {
	var direct []string
	c, err := NewCatalog(invokerDefs(&direct))
	if err != nil {
		t.Fatal(err)
	}
	daemon := &fakeDaemonCaller{}
	inv := NewInvoker(c, RuntimeCLI, daemon)

	// The daemon server dispatches through RunDirect, which must not
	// re-enter the daemon-routing branch even for stateful tools.
	if _, err := inv.RunDirect(context.Background(), "capture-logs", nil); err != nil {
		t.Fatalf("RunDirect: %v", err)
	}
	if len(daemon.invoked) != 0 {
		t.Errorf("RunDirect routed to daemon: %v", daemon.invoked)
	}
	if len(direct) != 1 {
		t.Errorf("direct calls = %v", direct)
	}
}
