// Package telemetry sets up structured logging for the coordination kernel.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NewLogger builds a JSON-handler slog.Logger writing to dir/kernel.jsonl
// (created if absent) and, unless quiet, also to stdout. Every record is
// tagged with component=kernel. Sensitive attribute values (api keys,
// tokens, socket auth secrets) are redacted before encoding.
func NewLogger(dir, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	logPath := filepath.Join(dir, "kernel.jsonl")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = file
	if !quiet {
		w = io.MultiWriter(os.Stdout, file)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if shouldRedactKey(a.Key) {
				return slog.String(a.Key, "[REDACTED]")
			}
			return a
		},
	})
	logger := slog.New(handler).With("component", "kernel")
	return logger, file, nil
}

// parseLevel accepts either a named level or a raw slog integer level, so
// config.Load's LogLevel field can be tuned finer than the four named
// buckets (e.g. "-8" for verbose-debug) without a code change.
func parseLevel(level string) slog.Level {
	trimmed := strings.ToLower(strings.TrimSpace(level))
	if n, err := strconv.Atoi(trimmed); err == nil {
		return slog.Level(n)
	}
	switch trimmed {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer", "dsn"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
