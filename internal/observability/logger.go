package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions configures the process logger.
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	// File, when set, receives a rotated copy of every log line.
	File string
	// Output defaults to os.Stderr so that reports on stdout stay clean.
	Output io.Writer
}

// NewLogger builds a slog logger. The returned close function flushes and
// closes the log file, if any.
func NewLogger(opts LogOptions) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	closer := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(out, rotated)
		closer = rotated.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(handler), closer, nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
