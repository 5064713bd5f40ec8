package rpc

// LoggingLevel mirrors the level names used throughout the client and its
// logger, independent of any particular logging backend.
type LoggingLevel string

const (
	LogLevelDebug LoggingLevel = "debug"
	LogLevelInfo  LoggingLevel = "info"
	LogLevelWarn  LoggingLevel = "warn"
	LogLevelError LoggingLevel = "error"
)
