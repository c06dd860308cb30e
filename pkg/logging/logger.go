package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int

// LogLevel constants represent the various log levels
const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

const (
	logLevelTrace = "TRACE"
	logLevelDebug = "DEBUG"
	logLevelInfo  = "INFO"
	logLevelWarn  = "WARN"
	logLevelError = "ERROR"
)

// Environment variables read by the logging package
const (
	EnvLogLevel  = "LAUNCHPAD_LOG_LEVEL"
	EnvLogFormat = "LAUNCHPAD_LOG_FORMAT"
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return logLevelTrace
	case DEBUG:
		return logLevelDebug
	case INFO:
		return logLevelInfo
	case WARN:
		return logLevelWarn
	case ERROR:
		return logLevelError
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case logLevelTrace:
		return TRACE
	case logLevelDebug:
		return DEBUG
	case logLevelWarn, "WARNING":
		return WARN
	case logLevelError:
		return ERROR
	default:
		return INFO
	}
}

var minLevel = newMinLevel()

func newMinLevel() *atomic.Int32 {
	v := new(atomic.Int32)
	v.Store(int32(ParseLevel(os.Getenv(EnvLogLevel))))
	return v
}

// SetLevel changes the minimum level of every logger, including the
// component loggers
func SetLevel(level LogLevel) {
	minLevel.Store(int32(level))
	handlerLevel.Set(toSlogLevel(level))
}

// Logger provides structured logging with context
type Logger struct {
	component  string
	slogLogger *SlogLogger
}

// NewLogger creates a new logger for a specific component
func NewLogger(component string) *Logger {
	return &Logger{
		component:  component,
		slogLogger: NewSlogLogger(component),
	}
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// logf logs a message at the specified level
func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if level < LogLevel(minLevel.Load()) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	switch level {
	case TRACE, DEBUG:
		l.slogLogger.DebugMsg(msg)
	case INFO:
		l.slogLogger.InfoMsg(msg)
	case WARN:
		l.slogLogger.WarnMsg(msg)
	case ERROR:
		l.slogLogger.ErrorMsg(msg)
	}
}

// Debug logs a debug-level message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(DEBUG, format, args...)
}

// Info logs an info-level message
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(INFO, format, args...)
}

// Warn logs a warning-level message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(WARN, format, args...)
}

// Error logs an error-level message
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(ERROR, format, args...)
}

// WithContext logs with the correlation id carried by ctx
func (l *Logger) WithContext(ctx context.Context, level LogLevel, format string, args ...interface{}) {
	if level < LogLevel(minLevel.Load()) {
		return
	}

	contextLogger := l.slogLogger.WithContext(ctx)
	msg := fmt.Sprintf(format, args...)
	switch level {
	case TRACE, DEBUG:
		contextLogger.DebugMsg(msg)
	case INFO:
		contextLogger.InfoMsg(msg)
	case WARN:
		contextLogger.WarnMsg(msg)
	case ERROR:
		contextLogger.ErrorMsg(msg)
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return LogLevel(minLevel.Load()) <= DEBUG
}

// Success logs a completed operation with the correlation id of ctx
func (l *Logger) Success(ctx context.Context, operation string, details ...interface{}) {
	l.slogLogger.WithContext(ctx).Success(ctx, operation, details...)
}

// Failure logs a failed operation with the correlation id of ctx
func (l *Logger) Failure(ctx context.Context, operation string, err error) {
	l.slogLogger.WithContext(ctx).Failure(ctx, operation, err)
}

// WithCorrelationID returns a context carrying id for log correlation
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// CorrelationID returns the id stored by WithCorrelationID
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}
