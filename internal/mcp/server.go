// Package mcp exposes the tool catalog to MCP clients over stdio. The MCP
// server is itself a long-lived process, so catalog tools run in-process;
// only bridged tools go through the workspace daemon.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leonletto/anvil/internal/bridge"
	"github.com/leonletto/anvil/internal/protocol"
	"github.com/leonletto/anvil/internal/tools"
)

// ToolInput carries the free-form string arguments every catalog tool takes.
type ToolInput struct {
	Args map[string]string `json:"args,omitempty"`
}

// ToolOutput mirrors the invocation result for MCP clients.
type ToolOutput struct {
	Content string `json:"content"`
}

// BridgeInvokeInput selects and parameterizes a bridged tool.
type BridgeInvokeInput struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// BridgeListOutput is the discovery result for bridged tools.
type BridgeListOutput struct {
	Tools []protocol.BridgeListEntry `json:"tools"`
}

// Server bridges the tool catalog onto the MCP protocol.
type Server struct {
	invoker   *tools.Invoker
	bridgeDir string
	version   string
	logger    *slog.Logger
	server    *gomcp.Server
}

// Options configure the MCP server.
type Options struct {
	Invoker   *tools.Invoker
	BridgeDir string
	Version   string
	Logger    *slog.Logger
}

// NewServer builds the MCP server and registers every catalog tool under
// its MCP name. When two workflows share an MCP name, later ones are
// registered workflow-qualified so each stays reachable.
func NewServer(opts Options) *Server {
	s := &Server{
		invoker:   opts.Invoker,
		bridgeDir: opts.BridgeDir,
		version:   opts.Version,
		logger:    opts.Logger,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "anvil",
			Version: s.version,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run serves MCP on stdin/stdout until the client disconnects or the
// context is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

func (s *Server) registerTools() {
	seen := make(map[string]bool)
	for _, def := range s.invoker.Catalog().Definitions() {
		name := def.MCPName
		if seen[name] {
			name = def.Workflow + "_" + def.MCPName
		}
		seen[name] = true

		gomcp.AddTool(s.server, &gomcp.Tool{
			Name:        name,
			Description: def.Description,
		}, s.makeToolHandler(def.CLIName))
	}

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "bridge_list",
		Description: "List tools an IDE companion has made available through the workspace bridge directory",
	}, s.handleBridgeList)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "bridge_invoke",
		Description: "Invoke a bridged IDE tool through the workspace daemon",
	}, s.handleBridgeInvoke)
}

// makeToolHandler binds one catalog tool. Tool failures come back as
// IsError results; only transport and resolution problems become MCP
// protocol errors.
func (s *Server) makeToolHandler(cliName string) func(context.Context, *gomcp.CallToolRequest, ToolInput) (*gomcp.CallToolResult, ToolOutput, error) {
	return func(ctx context.Context, req *gomcp.CallToolRequest, input ToolInput) (*gomcp.CallToolResult, ToolOutput, error) {
		result, err := s.invoker.Run(ctx, cliName, input.Args)
		if err != nil {
			return nil, ToolOutput{}, fmt.Errorf("invoke %s: %w", cliName, err)
		}
		if result.IsError {
			return &gomcp.CallToolResult{
				IsError: true,
				Content: []gomcp.Content{&gomcp.TextContent{Text: result.Content}},
			}, ToolOutput{Content: result.Content}, nil
		}
		return nil, ToolOutput{Content: result.Content}, nil
	}
}

func (s *Server) handleBridgeList(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input struct{},
) (*gomcp.CallToolResult, BridgeListOutput, error) {
	entries, err := bridge.List(s.bridgeDir)
	if err != nil {
		return nil, BridgeListOutput{}, fmt.Errorf("list bridged tools: %w", err)
	}
	return nil, BridgeListOutput{Tools: entries}, nil
}

func (s *Server) handleBridgeInvoke(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input BridgeInvokeInput,
) (*gomcp.CallToolResult, ToolOutput, error) {
	if input.Name == "" {
		return nil, ToolOutput{}, fmt.Errorf("'name' is required")
	}

	result, err := s.invoker.RunBridged(ctx, input.Name, input.Args)
	if err != nil {
		return nil, ToolOutput{}, fmt.Errorf("invoke bridged tool %s: %w", input.Name, err)
	}
	if result.IsError {
		return &gomcp.CallToolResult{
			IsError: true,
			Content: []gomcp.Content{&gomcp.TextContent{Text: result.Content}},
		}, ToolOutput{Content: result.Content}, nil
	}
	return nil, ToolOutput{Content: result.Content}, nil
}
