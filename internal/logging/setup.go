// Package logging builds the slog handlers used across the engine. The text
// handler is the human-facing one (charmbracelet/log); JSON is for shipping
// to collectors.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// SetupHandlerText returns a charmbracelet text handler at the given level.
// "trace" enables caller reporting on top of debug. A nil writer falls back
// to stderr.
func SetupHandlerText(level string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}

	opts := log.Options{Level: log.InfoLevel}
	switch strings.ToLower(level) {
	case "trace":
		opts.Level = log.DebugLevel
		opts.ReportCaller = true
		opts.ReportTimestamp = true
	case "debug":
		opts.Level = log.DebugLevel
		opts.ReportTimestamp = true
	case "warn", "warning":
		opts.Level = log.WarnLevel
	case "error":
		opts.Level = log.ErrorLevel
	}

	return log.NewWithOptions(writer, opts)
}

// SetupHandlerJSON returns a slog JSON handler at the given level. A nil
// writer falls back to stdout.
func SetupHandlerJSON(level string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slogLevel(level)}
	if strings.EqualFold(level, "trace") {
		opts.AddSource = true
	}

	return slog.NewJSONHandler(writer, opts)
}

func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
