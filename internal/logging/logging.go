package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	// File, when set, receives a copy of every record and is rotated once it
	// reaches MaxSizeMB, keeping MaxBackups old files.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New creates a *slog.Logger writing JSON to stderr and optionally to a
// rotating log file. It also sets the logger as the slog default so
// package-level slog calls work. The returned cleanup func closes the log
// file if one was opened; callers must defer it.
func New(opts Options) (*slog.Logger, func()) {
	return newLogger(os.Stderr, opts)
}

func newLogger(console io.Writer, opts Options) (*slog.Logger, func()) {
	writers := []io.Writer{console}
	cleanup := func() {}

	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			LocalTime:  true,
		}
		writers = append(writers, lj)
		cleanup = func() { _ = lj.Close() }
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, cleanup
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
