// Package logging builds the process logger: the slog API used throughout
// the module, rendered by zerolog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LevelTrace is below slog's debug level and maps to zerolog's trace level.
const LevelTrace = slog.Level(-8)

// LevelOff disables logging.
const LevelOff = slog.Level(64)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configure New.
type Options struct {
	Level   string
	Format  string
	NoColor bool
	Out     io.Writer
}

// ParseLevel accepts trace, debug, info, warn, error and off (plus a few
// aliases). The empty string means info.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace", "diagnostics":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "disabled", "disable", "off", "none":
		return LevelOff, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", raw)
}

// New returns a logger writing to opts.Out (stderr by default).
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	switch opts.Format {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	case FormatJSON:
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}
	zl := zerolog.New(out).Level(zerologLevel(level))
	return slog.New(NewHandler(zl, level)), nil
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= LevelOff:
		return zerolog.Disabled
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	case l >= slog.LevelDebug:
		return zerolog.DebugLevel
	}
	return zerolog.TraceLevel
}
