// Package config resolves daemon settings from the environment and the
// optional per-workspace .anvil/config.json file. Environment variables win
// over the file; the file wins over built-in defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Environment variable names. All of them are forwarded into a spawned
// daemon's environment so background daemons behave like foreground ones.
const (
	EnvIdleTimeoutMs = "ANVIL_IDLE_TIMEOUT_MS"
	EnvLogLevel      = "ANVIL_LOG_LEVEL"
	EnvLogPath       = "ANVIL_LOG_PATH"
	EnvSentryDSN     = "ANVIL_SENTRY_DSN"
)

// DefaultIdleTimeout is how long a daemon with no traffic, no in-flight
// requests, and no activity leases stays alive.
const DefaultIdleTimeout = 10 * time.Minute

// Config holds resolved daemon settings.
type Config struct {
	// IdleTimeout of 0 disables the idle monitor entirely.
	IdleTimeout time.Duration
	LogLevel    slog.Level
	LogPath     string
	SentryDSN   string
}

// fileConfig is the shape of .anvil/config.json.
type fileConfig struct {
	Daemon struct {
		IdleTimeoutMs *int64 `json:"idle_timeout_ms"`
		LogLevel      string `json:"log_level"`
		LogPath       string `json:"log_path"`
	} `json:"daemon"`
}

// Load resolves the effective config for a workspace. Invalid values never
// fail the load: they fall back to defaults with a warning on the logger.
func Load(workspaceRoot string, logger *slog.Logger) Config {
	cfg := Config{
		IdleTimeout: DefaultIdleTimeout,
		LogLevel:    slog.LevelInfo,
	}

	if fc, err := loadFile(workspaceRoot); err != nil {
		logger.Warn("ignoring unreadable workspace config", "error", err)
	} else if fc != nil {
		if fc.Daemon.IdleTimeoutMs != nil {
			applyIdleTimeout(&cfg, *fc.Daemon.IdleTimeoutMs, "config file", logger)
		}
		if fc.Daemon.LogLevel != "" {
			applyLogLevel(&cfg, fc.Daemon.LogLevel, "config file", logger)
		}
		if fc.Daemon.LogPath != "" {
			cfg.LogPath = fc.Daemon.LogPath
		}
	}

	if v := os.Getenv(EnvIdleTimeoutMs); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logger.Warn("invalid idle timeout, using default",
				"var", EnvIdleTimeoutMs, "value", v)
		} else {
			applyIdleTimeout(&cfg, ms, EnvIdleTimeoutMs, logger)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		applyLogLevel(&cfg, v, EnvLogLevel, logger)
	}
	if v := os.Getenv(EnvLogPath); v != "" {
		cfg.LogPath = v
	}
	cfg.SentryDSN = os.Getenv(EnvSentryDSN)

	return cfg
}

func applyIdleTimeout(cfg *Config, ms int64, source string, logger *slog.Logger) {
	if ms < 0 {
		logger.Warn("negative idle timeout, using default", "source", source, "ms", ms)
		return
	}
	cfg.IdleTimeout = time.Duration(ms) * time.Millisecond
}

func applyLogLevel(cfg *Config, value, source string, logger *slog.Logger) {
	level, err := ParseLevel(value)
	if err != nil {
		logger.Warn("invalid log level, using info", "source", source, "value", value)
		return
	}
	cfg.LogLevel = level
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug", "DEBUG":
		return slog.LevelDebug, nil
	case "info", "INFO":
		return slog.LevelInfo, nil
	case "warn", "warning", "WARN":
		return slog.LevelWarn, nil
	case "error", "ERROR":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func loadFile(workspaceRoot string) (*fileConfig, error) {
	path := filepath.Join(workspaceRoot, ".anvil", "config.json")
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path inside the workspace
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, nil
}

// DaemonEnv returns the overrides to inject into a spawned daemon's
// environment, so the child resolves the same settings the parent saw.
func DaemonEnv() []string {
	var env []string
	for _, key := range []string{EnvIdleTimeoutMs, EnvLogLevel, EnvLogPath, EnvSentryDSN} {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}
