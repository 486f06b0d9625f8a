package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput captures log output during a test
func captureOutput(f func()) string {
	var buf bytes.Buffer
	oldLogger := logger
	logger = newLogrus(&buf)
	defer func() { logger = oldLogger }()

	f()
	return buf.String()
}

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"WARN", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"unknown", LevelInfo}, // Default
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			setLogLevel(tt.level)
			assert.Equal(t, tt.expected, logLevel)
		})
	}
}

func TestDebug(t *testing.T) {
	logLevel = LevelDebug
	output := captureOutput(func() {
		Debug("Test debug message: %s", "value")
	})
	assert.Contains(t, output, "level=debug")
	assert.Contains(t, output, "Test debug message: value")

	logLevel = LevelInfo
	output = captureOutput(func() {
		Debug("This should not appear")
	})
	assert.Empty(t, output)
}

func TestInfo(t *testing.T) {
	logLevel = LevelInfo
	output := captureOutput(func() {
		Info("Test info message: %s", "value")
	})
	assert.Contains(t, output, "level=info")
	assert.Contains(t, output, "Test info message: value")

	logLevel = LevelError
	output = captureOutput(func() {
		Info("This should not appear")
	})
	assert.Empty(t, output)
}

func TestWarn(t *testing.T) {
	logLevel = LevelWarn
	output := captureOutput(func() {
		Warn("Test warn message: %s", "value")
	})
	assert.Contains(t, output, "level=warning")
	assert.Contains(t, output, "Test warn message: value")

	logLevel = LevelError
	output = captureOutput(func() {
		Warn("This should not appear")
	})
	assert.Empty(t, output)
}

func TestError(t *testing.T) {
	// Error should always be logged
	logLevel = LevelError
	output := captureOutput(func() {
		Error("Test error message: %s", "value")
	})
	assert.Contains(t, output, "level=error")
	assert.Contains(t, output, "Test error message: value")
}

func TestErrorWithStack(t *testing.T) {
	logLevel = LevelInfo
	err := errors.New("test error")
	output := captureOutput(func() {
		ErrorWithStack(err)
	})
	assert.Contains(t, output, "level=error")
	assert.Contains(t, output, "test error")
	assert.Contains(t, output, "goroutine")

	output = captureOutput(func() {
		ErrorWithStack(nil)
	})
	assert.Empty(t, output)
}

func TestWithField(t *testing.T) {
	logLevel = LevelInfo
	output := captureOutput(func() {
		WithField("connection_id", "abc").Info("opened")
	})
	assert.Contains(t, output, "connection_id=abc")
	assert.Contains(t, output, "opened")
}

func TestInitializeWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	require.NoError(t, InitializeWithFile("info", path))
	Info("written to file %d", 42)
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file 42")
}

func TestInitializeWithFileBadPath(t *testing.T) {
	err := InitializeWithFile("info", filepath.Join(t.TempDir(), "missing", "server.log"))
	assert.Error(t, err)
	assert.NoError(t, Close())
}
