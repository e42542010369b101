package hdlc

import (
	"github.com/hedi22/cosemlib/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel replaces the default logger with one at the given level.
// Managers created afterwards use it.
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// EnableFrameDebug enables or disables hex dumps of every frame sent and
// received. Dumps are logged at debug level.
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// ParseLogLevel converts a level name to a LogLevel
func ParseLogLevel(name string) (LogLevel, bool) {
	switch name {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}
