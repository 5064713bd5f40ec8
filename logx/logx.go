// Package logx provides the standard logger implementation used by the
// client and its transport and pipeline layers.
package logx

import (
	"log"
	"os"
	"sync"

	"github.com/ripplegraph/dbrpc/rpc"
	"github.com/ripplegraph/dbrpc/types"
)

// Logger defines the interface for logging, gated by a configurable level.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	SetLevel(level rpc.LoggingLevel)
	IsLevelEnabled(level rpc.LoggingLevel) bool
}

// DefaultLogger provides a basic logger implementation using the standard
// log package.
type DefaultLogger struct {
	logger *log.Logger
	level  rpc.LoggingLevel
	mu     sync.Mutex
}

// NewDefaultLogger creates a new logger writing to stderr with standard
// flags, defaulting to INFO level.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "[dbrpc] ", log.LstdFlags|log.Ltime|log.Lmsgprefix),
		level:  rpc.LogLevelInfo,
	}
}

// NewLogger creates a new logger instance for the named level ("debug",
// "info", "warn"/"warning", or "error"). Unrecognized names default to
// INFO.
func NewLogger(logType string) Logger {
	logger := &DefaultLogger{
		logger: log.New(os.Stderr, "[dbrpc] ", log.LstdFlags|log.Ltime|log.Lmsgprefix),
		level:  rpc.LogLevelInfo,
	}

	switch logType {
	case "debug":
		logger.level = rpc.LogLevelDebug
	case "info":
		logger.level = rpc.LogLevelInfo
	case "warning", "warn":
		logger.level = rpc.LogLevelWarn
	case "error":
		logger.level = rpc.LogLevelError
	}

	return logger
}

// Debug logs a message at DEBUG level.
func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	if !l.IsLevelEnabled(rpc.LogLevelDebug) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("DEBUG: "+msg, args...)
}

// Info logs a message at INFO level.
func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	if !l.IsLevelEnabled(rpc.LogLevelInfo) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("INFO: "+msg, args...)
}

// Warn logs a message at WARN level.
func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	if !l.IsLevelEnabled(rpc.LogLevelWarn) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("WARN: "+msg, args...)
}

// Error logs a message at ERROR level. Errors are always logged regardless
// of the configured level.
func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("ERROR: "+msg, args...)
}

// levelToSeverity maps a level to an internal severity number where a
// higher number is more permissive (logs more). debug is the most
// permissive; error is the least.
func levelToSeverity(level rpc.LoggingLevel) int {
	switch level {
	case rpc.LogLevelDebug:
		return 100
	case rpc.LogLevelInfo:
		return 80
	case rpc.LogLevelWarn:
		return 50
	case rpc.LogLevelError:
		return 40
	default:
		return 80
	}
}

// IsLevelEnabled reports whether a message at level would be logged given
// the logger's configured level.
func (l *DefaultLogger) IsLevelEnabled(level rpc.LoggingLevel) bool {
	return levelToSeverity(l.level) >= levelToSeverity(level)
}

// SetLevel updates the logging level.
func (l *DefaultLogger) SetLevel(level rpc.LoggingLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetLogLevelFromString sets a Logger's level from its string
// representation, defaulting to INFO for an unrecognized name.
func SetLogLevelFromString(logger Logger, levelStr string) {
	var level rpc.LoggingLevel
	switch levelStr {
	case "debug":
		level = rpc.LogLevelDebug
	case "warn", "warning":
		level = rpc.LogLevelWarn
	case "error":
		level = rpc.LogLevelError
	default:
		level = rpc.LogLevelInfo
	}
	logger.SetLevel(level)
}

// StandardLoggerAdapter adapts a standard log.Logger to implement Logger.
type StandardLoggerAdapter struct {
	logger *log.Logger
	level  rpc.LoggingLevel
	mu     sync.Mutex
}

// NewStandardLoggerAdapter wraps an existing *log.Logger, defaulting to a
// stderr logger if none is given.
func NewStandardLoggerAdapter(logger *log.Logger) Logger {
	if logger == nil {
		logger = log.New(os.Stderr, "[dbrpc] ", log.LstdFlags)
	}
	return &StandardLoggerAdapter{
		logger: logger,
		level:  rpc.LogLevelInfo,
	}
}

func (a *StandardLoggerAdapter) Debug(format string, v ...interface{}) {
	if !a.IsLevelEnabled(rpc.LogLevelDebug) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Printf("DEBUG: "+format, v...)
}

func (a *StandardLoggerAdapter) Info(format string, v ...interface{}) {
	if !a.IsLevelEnabled(rpc.LogLevelInfo) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Printf("INFO: "+format, v...)
}

func (a *StandardLoggerAdapter) Warn(format string, v ...interface{}) {
	if !a.IsLevelEnabled(rpc.LogLevelWarn) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Printf("WARN: "+format, v...)
}

func (a *StandardLoggerAdapter) Error(format string, v ...interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Printf("ERROR: "+format, v...)
}

func (a *StandardLoggerAdapter) SetLevel(level rpc.LoggingLevel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.level = level
}

func (a *StandardLoggerAdapter) IsLevelEnabled(level rpc.LoggingLevel) bool {
	return levelToSeverity(a.level) >= levelToSeverity(level)
}

var (
	_ types.Logger = (*DefaultLogger)(nil)
	_ Logger       = (*StandardLoggerAdapter)(nil)
)
