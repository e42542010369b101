package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	assert.Empty(t, buf.String())

	l.Warn("warn %d", 3)
	l.Error("error %d", 4)
	out := buf.String()
	assert.Contains(t, out, "warn 3")
	assert.Contains(t, out, "error 4")
	assert.Contains(t, out, `"component":"hdlc"`)

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestFrame(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelDebug)
	frame := []byte{0x03, 0x93, 0x8C, 0x11}

	SetFrameDebug(false)
	Frame(l, "TX", frame)
	assert.Empty(t, buf.String())

	SetFrameDebug(true)
	defer SetFrameDebug(false)
	assert.True(t, FrameDebugEnabled())
	Frame(l, "TX", frame)
	assert.True(t, strings.Contains(buf.String(), "03 93 8c 11"), buf.String())

	// Nil logger is tolerated
	Frame(nil, "RX", frame)
}

func TestDefault(t *testing.T) {
	prev := GetDefault()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewLogger(&buf, LevelInfo))
	GetDefault().Info("hello %s", "world")
	GetDefault().Debug("hidden")
	assert.Contains(t, buf.String(), "hello world")
	assert.NotContains(t, buf.String(), "hidden")

	SetDefault(NewNoOpLogger())
	GetDefault().Error("dropped")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
