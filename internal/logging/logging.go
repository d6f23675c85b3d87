// Package logging builds the structured slog logger shared by the server and client binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/skypro1111/udp-quote-service/internal/config"
)

// New creates and configures the structured logger based on configuration
func New(cfg config.LoggingConfig) *slog.Logger {
	return slog.New(newHandler(cfg, openOutput(cfg.Output)))
}

// ParseLevel maps a configured level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(cfg config.LoggingConfig, output io.Writer) slog.Handler {
	level := ParseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(output, opts)
	default:
		return slog.NewTextHandler(output, opts)
	}
}

func openOutput(output string) io.Writer {
	switch output {
	case "stdout":
		return os.Stdout
	case "stderr", "":
		return os.Stderr
	}

	// Anything else is a file path
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", output, err)
		return os.Stderr
	}
	return file
}
