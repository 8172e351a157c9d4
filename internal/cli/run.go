package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/leonletto/anvil/internal/activity"
	"github.com/leonletto/anvil/internal/config"
	"github.com/leonletto/anvil/internal/daemon"
	"github.com/leonletto/anvil/internal/history"
	"github.com/leonletto/anvil/internal/logging"
	"github.com/leonletto/anvil/internal/paths"
	"github.com/leonletto/anvil/internal/registry"
	"github.com/leonletto/anvil/internal/tools"
)

// RunDaemonOptions carry flag overrides for `daemon run`.
type RunDaemonOptions struct {
	// Foreground keeps logs on stderr instead of the daemon log file.
	Foreground bool
	LogPath    string
	LogLevel   string
	Version    string
}

// RunDaemon assembles and runs the workspace daemon in the current
// process. It blocks until shutdown.
func RunDaemon(ctx context.Context, workspaceRoot string, opts RunDaemonOptions) error {
	// Config warnings surface on stderr before the real logger exists.
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load(workspaceRoot, bootstrap)

	if opts.LogLevel != "" {
		level, err := config.ParseLevel(opts.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if opts.LogPath != "" {
		cfg.LogPath = opts.LogPath
	}

	if err := paths.EnsureDir(paths.DaemonDir(workspaceRoot)); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}

	logPath := cfg.LogPath
	if logPath == "" && !opts.Foreground {
		logPath = paths.LogPath(workspaceRoot)
	}
	logger, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		LogPath:   logPath,
		SentryDSN: cfg.SentryDSN,
		Version:   opts.Version,
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logger.Close()

	activityReg := activity.NewRegistry()
	catalog, err := tools.NewCatalog(tools.DefaultDefinitions(tools.Deps{
		Runner:        &tools.ExecRunner{Dir: workspaceRoot},
		Activity:      activityReg,
		WorkspaceRoot: workspaceRoot,
	}))
	if err != nil {
		return fmt.Errorf("build tool catalog: %w", err)
	}

	store, err := history.Open(paths.HistoryPath(workspaceRoot))
	if err != nil {
		// History is an accessory; the daemon serves tools without it.
		logger.Warn("invocation history disabled", "error", err)
		store = nil
	} else {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("close history store", "error", err)
			}
		}()
	}

	workspaceKey := paths.WorkspaceKey(workspaceRoot)
	socketPath := paths.SocketPath(workspaceRoot)
	server := daemon.NewServer(daemon.ServerOptions{
		SocketPath:    socketPath,
		WorkspaceRoot: workspaceRoot,
		WorkspaceKey:  workspaceKey,
		LogPath:       logPath,
		Version:       opts.Version,
		Invoker:       tools.NewInvoker(catalog, tools.RuntimeDaemon, nil),
		Activity:      activityReg,
		History:       store,
		BridgeDir:     paths.BridgeDir(workspaceRoot),
		BridgeRunner:  &tools.ExecRunner{Dir: workspaceRoot},
		Logger:        logger.Logger,
	})

	entry := registry.Entry{
		WorkspaceKey:     workspaceKey,
		WorkspaceRoot:    workspaceRoot,
		SocketPath:       socketPath,
		LogPath:          logPath,
		Version:          opts.Version,
		EnabledWorkflows: catalogWorkflows(catalog),
	}
	lifecycle := daemon.NewLifecycle(server, entry, paths.LockPath(workspaceRoot), cfg.IdleTimeout, logger.Logger)
	return lifecycle.Run(ctx)
}

func catalogWorkflows(catalog *tools.Catalog) []string {
	seen := make(map[string]bool)
	var workflows []string
	for _, def := range catalog.Definitions() {
		if !seen[def.Workflow] {
			seen[def.Workflow] = true
			workflows = append(workflows, def.Workflow)
		}
	}
	return workflows
}
