package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leonletto/anvil/internal/cli"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := cli.ToolsList(flagWorkspace)
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(entries)
			} else {
				fmt.Print(cli.FormatToolList(entries))
			}
			return nil
		},
	})

	cmd.AddCommand(toolsHistoryCmd())
	return cmd
}

func toolsHistoryCmd() *cobra.Command {
	var (
		flagTool  string
		flagLimit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tool invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := cli.ToolsHistory(cmd.Context(), flagWorkspace, flagTool, flagLimit)
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(entries)
			} else {
				fmt.Print(cli.FormatHistory(entries))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagTool, "tool", "", "Only show invocations of this tool")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum rows to show (0 = default)")
	return cmd
}

func runCmd() *cobra.Command {
	var flagArgs []string

	cmd := &cobra.Command{
		Use:   "run <tool>",
		Short: "Invoke a tool",
		Long: `Invoke a tool by name. Names are matched case-insensitively against
CLI names and tool aliases. Stateless tools run directly in this process;
stateful ones run inside the workspace daemon, which starts on demand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := cli.ParseArgs(flagArgs)
			if err != nil {
				return err
			}

			result, err := cli.RunTool(cmd.Context(), flagWorkspace, args[0], toolArgs)
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(result)
			} else if result.Content != "" {
				fmt.Println(result.Content)
			}

			// A failed tool run exits non-zero without the error being a
			// CLI usage problem.
			if result.IsError {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&flagArgs, "arg", nil, "Tool argument as key=value (repeatable)")
	return cmd
}
