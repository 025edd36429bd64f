package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestConsoleOutputIsJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(LoggerConfig{Level: "debug"}, &buf)
	require.NoError(t, err)

	WithRequest(log, "req-1", "/tmp/in.jpg", "image").Info("attempt finished")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "attempt finished", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "image", entry["domain"])
	assert.Contains(t, entry, "timestamp")
}

func TestFileOnlyLoggerSkipsConsole(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, err := newLogger(LoggerConfig{Level: "info", FilePath: path, MaxSize: 1}, &buf)
	require.NoError(t, err)

	WithOperation(log, "compress").Info("hello")
	assert.Zero(t, buf.Len())
	assert.FileExists(t, path)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(LoggerConfig{Level: "warn"}, &buf)
	require.NoError(t, err)

	WithFile(log, "a.mp4").Info("ignored")
	assert.Zero(t, buf.Len())
	WithFields(log, nil).Warn("kept")
	assert.NotZero(t, buf.Len())
}
