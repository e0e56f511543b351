// Package logging builds the process logger: zerolog to the console plus a
// debug log file, and an adapter that routes Wails' own log lines into it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// DebugLogName is the file created in os.TempDir().
const DebugLogName = "counter-deck-debug.log"

// Options configures New.
type Options struct {
	// Level is a zerolog level name; unknown names mean info.
	Level string
	// Console selects human-readable output instead of JSON.
	Console bool
	// Out defaults to os.Stderr.
	Out io.Writer
	// DebugFile, if set, receives every line regardless of Level.
	DebugFile io.Writer
	// Role is attached to every line ("host" or "window").
	Role string
}

// New returns the root logger.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	w := out
	if opts.DebugFile != nil {
		w = zerolog.MultiLevelWriter(&levelFilter{min: level, w: out}, opts.DebugFile)
		if level > zerolog.DebugLevel {
			level = zerolog.DebugLevel
		}
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if opts.Role != "" {
		ctx = ctx.Str("role", opts.Role)
	}
	return ctx.Logger()
}

// levelFilter drops lines below min, so the console honours the configured
// level while the debug file sees everything.
type levelFilter struct {
	min zerolog.Level
	w   io.Writer
}

func (f *levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *levelFilter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}

// OpenDebugFile creates (truncating) the debug log in os.TempDir() and
// writes a short banner.
func OpenDebugFile() (*os.File, error) {
	logPath := filepath.Join(os.TempDir(), DebugLogName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "=== counter-deck debug log ===\n")
	fmt.Fprintf(f, "Started: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(f, "Log file: %s\n\n", logPath)
	return f, nil
}

// Component returns a child logger tagged with component.
func Component(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
