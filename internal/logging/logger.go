// Package logging builds the process-wide slog.Logger for stratasim.
// Three formats are offered:
//   - "text": slog key=value lines (the default)
//   - "json": one JSON object per line, for log shippers
//   - "pretty": colourised, human-oriented output for terminals
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// LevelTrace is a custom slog level below Debug for per-agent output.
const LevelTrace = slog.LevelDebug - 4

// Formats lists the accepted output formats.
var Formats = []string{"text", "json", "pretty"}

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "trace", "debug", "info", "warn", "error" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w in the given format.
func NewLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "pretty":
		h := charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(lvl),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
		})
		return slog.New(h), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: %s)", format, strings.Join(Formats, ", "))
	}
}

// Discard returns a logger that drops everything, for tests and batch runs.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
