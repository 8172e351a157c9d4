package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/leonletto/anvil/internal/protocol"
	"github.com/leonletto/anvil/internal/tools"
)

func testInvoker(t *testing.T) *tools.Invoker {
	t.Helper()
	catalog, err := tools.NewCatalog([]tools.Definition{
		{
			CLIName:  "echo",
			MCPName:  "echo_text",
			Workflow: "demo",
			Handler: func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
				return protocol.ToolInvokeResult{Content: "echo:" + args["text"]}, nil
			},
		},
		{
			CLIName:  "sim-boot",
			MCPName:  "boot",
			Workflow: "simulator",
			Handler: func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
				return protocol.ToolInvokeResult{Content: "sim"}, nil
			},
		},
		{
			CLIName:  "device-boot",
			MCPName:  "boot",
			Workflow: "device",
			Handler: func(ctx context.Context, args map[string]string) (protocol.ToolInvokeResult, error) {
				return protocol.ToolInvokeResult{Content: "device"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return tools.NewInvoker(catalog, tools.RuntimeMCP, nil)
}

func testServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(Options{
		Invoker:   testInvoker(t),
		BridgeDir: t.TempDir(),
		Version:   "test",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestNewServer(t *testing.T) {
	s := testServer(t)
	if s.server == nil {
		t.Fatal("expected MCP server to be created")
	}
	if s.version != "test" {
		t.Errorf("version = %q, want %q", s.version, "test")
	}
}

func TestToolHandlerRunsCatalogTool(t *testing.T) {
	s := testServer(t)

	handler := s.makeToolHandler("echo")
	result, out, err := handler(context.Background(), nil, ToolInput{Args: map[string]string{"text": "hi"}})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result != nil {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if out.Content != "echo:hi" {
		t.Errorf("Content = %q, want %q", out.Content, "echo:hi")
	}
}

func TestToolHandlerUnknownToolIsError(t *testing.T) {
	s := testServer(t)

	handler := s.makeToolHandler("missing")
	if _, _, err := handler(context.Background(), nil, ToolInput{}); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestBridgeInvokeRequiresName(t *testing.T) {
	s := testServer(t)

	if _, _, err := s.handleBridgeInvoke(context.Background(), nil, BridgeInvokeInput{}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestBridgeListEmptyDirectory(t *testing.T) {
	s := testServer(t)

	_, out, err := s.handleBridgeList(context.Background(), nil, struct{}{})
	if err != nil {
		t.Fatalf("bridge list: %v", err)
	}
	if len(out.Tools) != 0 {
		t.Errorf("Tools = %v, want empty", out.Tools)
	}
}
