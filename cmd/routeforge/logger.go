package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/routeforge/routeforge/internal/config"
	"github.com/routeforge/routeforge/internal/logging"
	"github.com/routeforge/routeforge/internal/logging/writers"
)

// setupLogHandler builds the slog handler selected by the configuration and
// installs it as the process default.
func setupLogHandler(cfg config.Logging) (slog.Handler, error) {
	var handler slog.Handler
	switch cfg.Format {
	case config.LogFormatJSON:
		writer, err := logWriter(cfg.Output, os.Stdout)
		if err != nil {
			return nil, err
		}
		handler = logging.SetupHandlerJSON(cfg.Level.String(), writer)
	default:
		writer, err := logWriter(cfg.Output, os.Stderr)
		if err != nil {
			return nil, err
		}
		handler = logging.SetupHandlerText(cfg.Level.String(), writer)
	}
	slog.SetDefault(slog.New(handler))
	return handler, nil
}

// logWriter resolves the configured log destination, keeping the handler's
// natural default stream when none is set.
func logWriter(output string, fallback io.Writer) (io.Writer, error) {
	if output == "" {
		return fallback, nil
	}
	writer, err := writers.CreateWriter(output)
	if err != nil {
		return nil, fmt.Errorf("opening log output %q: %w", output, err)
	}
	return writer, nil
}
