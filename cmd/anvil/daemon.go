package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leonletto/anvil/internal/cli"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the workspace daemon",
	}

	cmd.AddCommand(daemonStartCmd())

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			stopped, err := cli.DaemonStop(cmd.Context(), flagWorkspace)
			if err != nil {
				return err
			}
			if !flagQuiet {
				if stopped {
					fmt.Println("Daemon stopped")
				} else {
					fmt.Println("Daemon was not running")
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.DaemonStatus(cmd.Context(), flagWorkspace)
			if err != nil {
				return err
			}

			if flagJSON {
				printJSON(result)
			} else {
				fmt.Print(cli.FormatDaemonStatus(result))
			}

			// Exit code 1 when not running, like systemctl status.
			if !result.Running {
				os.Exit(1)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.DaemonRestart(cmd.Context(), flagWorkspace); err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Println("Daemon restarted")
			}
			return nil
		},
	})

	cmd.AddCommand(daemonListCmd())
	cmd.AddCommand(daemonLogsCmd())
	cmd.AddCommand(daemonRunCmd())

	return cmd
}

func daemonStartCmd() *cobra.Command {
	var (
		flagForeground bool
		opts           cli.StartOptions
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon for this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagForeground {
				// Attached mode: run the daemon in this process and
				// block until it shuts down.
				return cli.RunDaemon(cmd.Context(), flagWorkspace, cli.RunDaemonOptions{
					Foreground: true,
					LogPath:    opts.LogPath,
					LogLevel:   opts.LogLevel,
					Version:    Version,
				})
			}

			started, err := cli.DaemonStart(cmd.Context(), flagWorkspace, opts)
			if err != nil {
				return err
			}
			if !flagQuiet {
				if started {
					fmt.Println("Daemon started")
				} else {
					fmt.Println("Daemon already running")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagForeground, "foreground", false, "Run attached to this terminal instead of in the background")
	cmd.Flags().StringVar(&opts.LogPath, "log-path", "", "Override the daemon log file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	return cmd
}

func daemonListCmd() *cobra.Command {
	var flagAll bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List daemons across all workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := cli.DaemonList(flagAll)
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(entries)
			} else {
				fmt.Print(cli.FormatDaemonList(entries))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "Include stale entries instead of pruning them")
	return cmd
}

func daemonLogsCmd() *cobra.Command {
	var flagTail int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := cli.DaemonLogs(flagWorkspace, flagTail)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no daemon log for this workspace")
				}
				return err
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagTail, "tail", 100, "Number of trailing lines to show")
	return cmd
}

func daemonRunCmd() *cobra.Command {
	opts := cli.RunDaemonOptions{}

	cmd := &cobra.Command{
		Use:    "run",
		Short:  "Run the daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Version = Version
			return cli.RunDaemon(cmd.Context(), flagWorkspace, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Foreground, "foreground", false, "Log to stderr instead of the daemon log file")
	cmd.Flags().StringVar(&opts.LogPath, "log-path", "", "Override the daemon log file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	return cmd
}
