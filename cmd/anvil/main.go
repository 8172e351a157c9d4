package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/leonletto/anvil/internal/paths"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagWorkspace string
	flagJSON      bool
	flagQuiet     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "anvil",
		Short: "Per-workspace developer tool daemon",
		Long: `Anvil runs platform developer tools through a per-workspace daemon.

Stateless operations run directly; long-running sessions (log capture,
debugging) live in a background daemon that starts on demand and shuts
itself down when idle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "Workspace path")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "Suppress non-essential output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("anvil v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	// Resolve --workspace to the nearest workspace root (git-style
	// traversal) unless the user pinned it explicitly.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("workspace") {
			abs, err := filepath.Abs(flagWorkspace)
			if err != nil {
				return err
			}
			flagWorkspace = abs
			return nil
		}
		root, err := paths.FindWorkspaceRoot(flagWorkspace)
		if err != nil {
			return err
		}
		flagWorkspace = root
		return nil
	}

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printJSON writes v as indented JSON on stdout.
func printJSON(v any) {
	output, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(output))
}
