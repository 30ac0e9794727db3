package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
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

// ParseLevel converts a level name to a Level
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO", "":
		return LevelInfo, nil
	case "warn", "WARN", "warning":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
	With(key string, value interface{}) Logger
}

// DefaultLogger writes structured records through zerolog
type DefaultLogger struct {
	zl zerolog.Logger
}

// NewDefaultLogger creates a logger on stdout.
// Terminals get console output, anything else gets JSON lines.
func NewDefaultLogger(level Level) *DefaultLogger {
	var w io.Writer = os.Stdout
	if isatty.IsTerminal(os.Stdout.Fd()) {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWriterLogger(w, level)
}

// NewWriterLogger creates a JSON logger writing to w
func NewWriterLogger(w io.Writer, level Level) *DefaultLogger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(level.zerolog())
	return &DefaultLogger{zl: zl}
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.zl = l.zl.Level(level.zerolog())
}

// With returns a child logger that adds key to every record
func (l *DefaultLogger) With(key string, value interface{}) Logger {
	return &DefaultLogger{zl: l.zl.With().Interface(key, value).Logger()}
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

// With returns the same logger
func (l *NoOpLogger) With(key string, value interface{}) Logger { return l }

// Global default logger
var defaultLogger Logger = NewDefaultLogger(LevelInfo)

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger
}

// Helper functions using default logger

// Debug logs debug message using default logger
func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

// Info logs info message using default logger
func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

// Warn logs warning message using default logger
func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

// Error logs error message using default logger
func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}

// frameDebug enables hex dumps of received frames
var frameDebug bool

// SetFrameDebug enables or disables frame hex dumps
func SetFrameDebug(enable bool) {
	frameDebug = enable
}

// FrameDebug reports whether frame hex dumps are enabled
func FrameDebug() bool {
	return frameDebug
}
