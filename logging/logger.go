// Package logging builds the structured logger used across the runtime.
// It wraps log/slog with the handler, level and destination selected in
// config.LogConfig.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/najoast/robo/config"
)

// New builds a logger from cfg. The returned closer releases the log file
// when Output names one; it is a no-op for stdout and stderr.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	logger, err := NewWithWriter(writer, cfg)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.Level == config.LogLevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidLogFormat, cfg.Format)
	}

	return slog.New(handler), nil
}

// ParseLevel converts a configured level to slog.Level.
// Defaults to INFO if the level is not recognized.
func ParseLevel(level config.LogLevel) slog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, file, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
