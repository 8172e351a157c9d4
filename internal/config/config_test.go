package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvIdleTimeoutMs, EnvLogLevel, EnvLogPath, EnvSentryDSN} {
		t.Setenv(key, "")
		os.Unsetenv(key) //nolint:errcheck // restore handled by t.Setenv
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load(t.TempDir(), discard())
	if cfg.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("idle timeout = %v, want %v", cfg.IdleTimeout, DefaultIdleTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v, want info", cfg.LogLevel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvIdleTimeoutMs, "5000")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogPath, "/tmp/anvil.log")

	cfg := Load(t.TempDir(), discard())
	if cfg.IdleTimeout != 5*time.Second {
		t.Errorf("idle timeout = %v, want 5s", cfg.IdleTimeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", cfg.LogLevel)
	}
	if cfg.LogPath != "/tmp/anvil.log" {
		t.Errorf("log path = %q", cfg.LogPath)
	}
}

func TestLoadZeroDisablesIdle(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvIdleTimeoutMs, "0")
	cfg := Load(t.TempDir(), discard())
	if cfg.IdleTimeout != 0 {
		t.Errorf("idle timeout = %v, want 0 (disabled)", cfg.IdleTimeout)
	}
}

func TestLoadInvalidFallsBack(t *testing.T) {
	clearEnv(t)
	for _, bad := range []string{"abc", "-100", "10.5"} {
		t.Setenv(EnvIdleTimeoutMs, bad)
		cfg := Load(t.TempDir(), discard())
		if cfg.IdleTimeout != DefaultIdleTimeout {
			t.Errorf("value %q: idle timeout = %v, want default", bad, cfg.IdleTimeout)
		}
	}

	t.Setenv(EnvIdleTimeoutMs, "")
	t.Setenv(EnvLogLevel, "loud")
	cfg := Load(t.TempDir(), discard())
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v, want info fallback", cfg.LogLevel)
	}
}

func TestLoadWorkspaceFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".anvil"), 0700); err != nil {
		t.Fatal(err)
	}
	content := `{"daemon": {"idle_timeout_ms": 60000, "log_level": "warn"}}`
	if err := os.WriteFile(filepath.Join(root, ".anvil", "config.json"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := Load(root, discard())
	if cfg.IdleTimeout != time.Minute {
		t.Errorf("idle timeout = %v, want 1m", cfg.IdleTimeout)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("log level = %v, want warn", cfg.LogLevel)
	}

	// Environment still wins over the file.
	t.Setenv(EnvIdleTimeoutMs, "1000")
	cfg = Load(root, discard())
	if cfg.IdleTimeout != time.Second {
		t.Errorf("idle timeout = %v, want env override 1s", cfg.IdleTimeout)
	}
}

func TestDaemonEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvIdleTimeoutMs, "250")
	t.Setenv(EnvLogLevel, "debug")

	env := DaemonEnv()
	if len(env) != 2 {
		t.Fatalf("env = %v, want 2 entries", env)
	}
	if env[0] != EnvIdleTimeoutMs+"=250" {
		t.Errorf("env[0] = %q", env[0])
	}
}
