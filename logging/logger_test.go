package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/robo/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input config.LogLevel
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, config.LogConfig{Level: config.LogLevelInfo, Format: "json"})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("unit started", "unit", "motor")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "unit started", entry["msg"])
	assert.Equal(t, "motor", entry["unit"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestNewWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, config.LogConfig{Level: config.LogLevelWarn, Format: "text"})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("bus full", "unit", "sensor")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "unit=sensor")
}

func TestNewWithWriterRejectsUnknownFormat(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, config.LogConfig{Format: "xml"})
	assert.ErrorIs(t, err, config.ErrInvalidLogFormat)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "robo.log")

	logger, closer, err := New(config.LogConfig{Level: config.LogLevelInfo, Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNewStdout(t *testing.T) {
	logger, closer, err := New(config.LogConfig{Output: "stdout"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}
