// Package logging builds the slog logger shared by the CLI and the daemon,
// with optional file output and optional Sentry error forwarding.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
)

// Options configure New.
type Options struct {
	Level     slog.Level
	LogPath   string // empty = stderr
	SentryDSN string // empty = no Sentry
	Version   string
}

// Logger wraps slog.Logger so callers can close the log file and flush
// Sentry on shutdown.
type Logger struct {
	*slog.Logger
	sentryEnabled bool
	logFile       *os.File
}

// New builds a logger per the options. The log file is opened in append
// mode; its directory is created if needed.
func New(opts Options) (*Logger, error) {
	sentryEnabled := false
	if opts.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     opts.SentryDSN,
			Release: opts.Version,
		})
		if err != nil {
			return nil, fmt.Errorf("sentry init: %w", err)
		}
		sentryEnabled = true
	}

	var output io.Writer = os.Stderr
	var logFile *os.File
	if opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0700); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304 - operator-chosen log path
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = f
		logFile = f
	}

	handler := &sentryHandler{
		Handler:       slog.NewTextHandler(output, &slog.HandlerOptions{Level: opts.Level}),
		sentryEnabled: sentryEnabled,
	}

	return &Logger{
		Logger:        slog.New(handler),
		sentryEnabled: sentryEnabled,
		logFile:       logFile,
	}, nil
}

// Close flushes Sentry and closes the log file. Call once on shutdown.
func (l *Logger) Close() {
	if l.sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
	if l.logFile != nil {
		_ = l.logFile.Sync()
		_ = l.logFile.Close()
	}
}

// sentryHandler forwards error-level records to Sentry when enabled.
type sentryHandler struct {
	slog.Handler
	sentryEnabled bool
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.sentryEnabled && r.Level >= slog.LevelError {
		sentry.CaptureMessage(r.Message)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{Handler: h.Handler.WithAttrs(attrs), sentryEnabled: h.sentryEnabled}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{Handler: h.Handler.WithGroup(name), sentryEnabled: h.sentryEnabled}
}

// TailFile returns the last n lines of the file at path. Used by
// `anvil daemon logs --tail`.
func TailFile(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - operator-chosen log path
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || n <= 0 {
		return nil, nil
	}

	lines := splitLines(string(data))
	if len(lines) <= n {
		return lines, nil
	}
	return lines[len(lines)-n:], nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
