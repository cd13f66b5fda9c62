package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/natefinch/lumberjack"
)

// newLogger builds the process logger. With a log file set, output goes to
// both w and a size-rotated file; the returned closer releases the file.
func newLogger(w io.Writer, level, format, file string) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var closer io.Closer = nopCloser{}
	if file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     7,
			Compress:   true,
		}
		w = io.MultiWriter(w, rotated)
		closer = rotated
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", format)
	}

	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
