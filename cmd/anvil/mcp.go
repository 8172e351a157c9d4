package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leonletto/anvil/internal/cli"
	anvilmcp "github.com/leonletto/anvil/internal/mcp"
	"github.com/leonletto/anvil/internal/paths"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	cmd.AddCommand(mcpServeCmd())
	return cmd
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP stdio server",
		Long: `Starts an MCP server on stdin/stdout exposing the tool catalog.

Configure in an MCP client's settings:
  {
    "mcpServers": {
      "anvil": {
        "type": "stdio",
        "command": "anvil",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServe()
		},
	}
}

func runMCPServe() error {
	invoker, err := cli.NewMCPInvoker(flagWorkspace)
	if err != nil {
		return err
	}

	// Stdout belongs to the MCP transport; logs must never reach it.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if flagQuiet {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	server := anvilmcp.NewServer(anvilmcp.Options{
		Invoker:   invoker,
		BridgeDir: paths.BridgeDir(flagWorkspace),
		Version:   Version,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return server.Run(ctx)
}
