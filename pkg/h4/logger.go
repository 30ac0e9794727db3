package h4

import (
	"avaneesh/h4-go/pkg/internal/logger"
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

// ParseLogLevel parses "debug", "info", "warn" or "error"
func ParseLogLevel(s string) (LogLevel, error) {
	level, err := logger.ParseLevel(s)
	return LogLevel(level), err
}

// SetLogLevel sets the global logging level
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// EnableFrameDebug enables or disables hex dumps of every chunk
// received and frame sent
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// DefaultLogger returns the logger configured by SetLogLevel, for
// callers that share it with sinks and the monitor
func DefaultLogger() logger.Logger {
	return logger.GetDefault()
}
