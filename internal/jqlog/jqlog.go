// Package jqlog builds this module's structured logger: tint for readable
// local output, JSON for anything running in production.
package jqlog

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the handler New builds.
type Format string

const (
	// FormatAuto picks Text for an interactive terminal and JSON otherwise.
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New builds a logger writing to stdout at level, using format. FormatAuto
// resolves to Text when stdout is a terminal, JSON otherwise — matching how
// a worker run from a shell wants colorized output while the same binary
// under a process supervisor wants machine-parseable lines.
func New(format Format, level slog.Level) *slog.Logger {
	if format == FormatAuto {
		format = FormatText
		if fi, err := os.Stdout.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) == 0 {
			format = FormatJSON
		}
	}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}

	return slog.New(handler)
}

// Level converts a LOG_LEVEL-style string into an slog.Level, defaulting to
// Info for anything unrecognized.
func Level(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
