package logger

import (
	"encoding/hex"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// zerologLevel maps a Level onto the zerolog level of the same severity
func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// DefaultLogger writes leveled messages through zerolog
type DefaultLogger struct {
	level Level
	zl    zerolog.Logger
}

// NewDefaultLogger creates a new default logger writing to stdout
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}, level)
}

// NewLogger creates a logger writing to w
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	zl := zerolog.New(w).With().Timestamp().Str("component", "hdlc").Logger()
	return &DefaultLogger{
		level: level,
		zl:    zl.Level(level.zerologLevel()),
	}
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	if l.level <= LevelDebug {
		l.zl.Debug().Msgf(format, args...)
	}
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	if l.level <= LevelInfo {
		l.zl.Info().Msgf(format, args...)
	}
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	if l.level <= LevelWarn {
		l.zl.Warn().Msgf(format, args...)
	}
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	if l.level <= LevelError {
		l.zl.Error().Msgf(format, args...)
	}
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.level = level
	l.zl = l.zl.Level(level.zerologLevel())
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug does nothing
func (l *NoOpLogger) Debug(format string, args ...interface{}) {}

// Info does nothing
func (l *NoOpLogger) Info(format string, args ...interface{}) {}

// Warn does nothing
func (l *NoOpLogger) Warn(format string, args ...interface{}) {}

// Error does nothing
func (l *NoOpLogger) Error(format string, args ...interface{}) {}

// SetLevel does nothing
func (l *NoOpLogger) SetLevel(level Level) {}

// Global default logger
var defaultLogger Logger = NewDefaultLogger(LevelInfo)

// frameDebug toggles hex dumps of every frame
var frameDebug atomic.Bool

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger
}

// SetFrameDebug enables or disables frame hex dumps
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebugEnabled reports whether frame hex dumps are enabled
func FrameDebugEnabled() bool {
	return frameDebug.Load()
}

// Frame logs a hex dump of a frame at debug level when frame debugging is on
func Frame(l Logger, direction string, data []byte) {
	if !frameDebug.Load() || l == nil {
		return
	}
	l.Debug("%s %d bytes:\n%s", direction, len(data), hex.Dump(data))
}
