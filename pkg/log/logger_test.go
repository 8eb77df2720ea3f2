package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelWarn)
	l.SetOutput(&buf)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "shown 2")
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelDebug)
	l.SetOutput(&buf)

	l.With("artifact").Debug("persisted %d entries", 3)

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "[DEBUG]")
	assert.Contains(t, line, "[artifact] persisted 3 entries")
	assert.Contains(t, line, "logger_test.go")
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
