package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
)

// setupLogger creates a logger writing to stdout and, when path is set, to
// path as well. A log file that cannot be opened is reported and skipped.
func setupLogger(path string, verbose bool) (*clog.Logger, func()) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	cleanup := func() {}

	if path != "" {
		f, err := openLogFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: logging to stdout only: %v\n", err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			cleanup = func() { _ = f.Close() }
		}
	}

	logger := clog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return logger, cleanup
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
