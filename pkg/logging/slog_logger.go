package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

// CorrelationIDKey is the context key for correlation IDs
const CorrelationIDKey contextKey = "correlationID"

// SlogLogger provides structured logging using slog
type SlogLogger struct {
	logger    *slog.Logger
	component string
}

// NewSlogLogger creates a new logger using slog backend
func NewSlogLogger(component string) *SlogLogger {
	return NewSlogLoggerWithWriter(component, os.Stderr)
}

// NewSlogLoggerWithWriter creates a logger writing to w. Stdout is left to
// command output so logs go to stderr by default.
func NewSlogLoggerWithWriter(component string, w io.Writer) *SlogLogger {
	return &SlogLogger{
		logger:    slog.New(createHandler(w)),
		component: component,
	}
}

// createHandler creates an appropriate slog handler based on environment variables
func createHandler(output io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       handlerLevel,
		ReplaceAttr: replaceAttr,
	}

	switch strings.ToUpper(os.Getenv(EnvLogFormat)) {
	case "JSON":
		return slog.NewJSONHandler(output, opts)
	default:
		return slog.NewTextHandler(output, opts)
	}
}

// handlerLevel is shared by every handler so SetLevel reaches loggers created at init
var handlerLevel = newHandlerLevel()

func newHandlerLevel() *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(toSlogLevel(ParseLevel(os.Getenv(EnvLogLevel))))
	return v
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case TRACE, DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// replaceAttr renders levels as upper-case names and durations as strings
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindDuration:
		return slog.String(a.Key, a.Value.Duration().Round(time.Millisecond).String())
	case slog.KindAny:
		if level, ok := a.Value.Any().(slog.Level); ok && a.Key == slog.LevelKey {
			return slog.String(a.Key, level.String())
		}
	}
	return a
}

// WithContext returns a logger with context information
func (l *SlogLogger) WithContext(ctx context.Context) *SlogLogger {
	if corrID, ok := ctx.Value(CorrelationIDKey).(string); ok && corrID != "" {
		return l.WithCorrelation(corrID)
	}
	return l
}

// WithCorrelation returns a logger with correlation ID
func (l *SlogLogger) WithCorrelation(correlationID string) *SlogLogger {
	return &SlogLogger{
		logger:    l.logger.With("correlation_id", correlationID),
		component: l.component,
	}
}

// Success logs a successful operation
func (l *SlogLogger) Success(ctx context.Context, operation string, details ...interface{}) {
	args := []interface{}{"component", l.component, "operation", operation, "status", "success"}
	if len(details) > 0 {
		args = append(args, "details", details[0])
	}

	l.logger.InfoContext(ctx, "Operation completed successfully", args...)
}

// Failure logs a failed operation
func (l *SlogLogger) Failure(ctx context.Context, operation string, err error) {
	l.logger.ErrorContext(ctx, "Operation failed",
		"component", l.component,
		"operation", operation,
		"status", "failed",
		"error", err)
}

// InfoMsg logs a preformatted info message
func (l *SlogLogger) InfoMsg(msg string) {
	l.logger.Info(msg, "component", l.component)
}

// DebugMsg logs a preformatted debug message
func (l *SlogLogger) DebugMsg(msg string) {
	l.logger.Debug(msg, "component", l.component)
}

// WarnMsg logs a preformatted warning message
func (l *SlogLogger) WarnMsg(msg string) {
	l.logger.Warn(msg, "component", l.component)
}

// ErrorMsg logs a preformatted error message
func (l *SlogLogger) ErrorMsg(msg string) {
	l.logger.Error(msg, "component", l.component)
}

// StageCompleted logs one executed remote operation
func (l *SlogLogger) StageCompleted(target, stage, operation string, exitCode int, took time.Duration) {
	level := slog.LevelInfo
	status := "success"
	if exitCode != 0 {
		level = slog.LevelWarn
		status = "failed"
	}
	l.logger.Log(context.Background(), level, "Remote operation finished",
		"component", l.component,
		"target", target,
		"stage", stage,
		"operation", operation,
		"exit_code", exitCode,
		"duration", took,
		"status", status)
}

// RunSummary logs the aggregated outcome of a run
func (l *SlogLogger) RunSummary(runID, status string, succeeded, total int) {
	if succeeded == total {
		l.logger.Info("Deployment run finished",
			"component", l.component,
			"run_id", runID,
			"status", status,
			"succeeded", succeeded,
			"total", total)
		return
	}
	l.logger.Warn("Deployment run finished with failures",
		"component", l.component,
		"run_id", runID,
		"status", status,
		"succeeded", succeeded,
		"total", total)
}
