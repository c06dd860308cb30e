// Package logging gives the API server and the CLI printf-style loggers on
// top of the structured logger in pkg/logging.
package logging

import (
	"context"
	"fmt"
	"os"

	mainlogging "github.com/lattiam/launchpad/pkg/logging"
)

// EnvTestMode silences everything below errors, for test runs
const EnvTestMode = "LAUNCHPAD_TEST_MODE"

// Logger logs preformatted messages for one component
type Logger struct {
	slog  *mainlogging.SlogLogger
	quiet bool
}

// NewLogger creates a logger for component. The level is the one shared by
// every launchpad logger; see mainlogging.SetLevel.
func NewLogger(component string) *Logger {
	return &Logger{
		slog:  mainlogging.NewSlogLogger(component),
		quiet: os.Getenv(EnvTestMode) == "true",
	}
}

// For returns a logger tagged with the correlation id carried by ctx, if any
func (l *Logger) For(ctx context.Context) *Logger {
	return &Logger{slog: l.slog.WithContext(ctx), quiet: l.quiet}
}

// Debugf logs a debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.quiet {
		l.slog.DebugMsg(fmt.Sprintf(format, args...))
	}
}

// Infof logs an info message
func (l *Logger) Infof(format string, args ...interface{}) {
	if !l.quiet {
		l.slog.InfoMsg(fmt.Sprintf(format, args...))
	}
}

// Warnf logs a warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	if !l.quiet {
		l.slog.WarnMsg(fmt.Sprintf(format, args...))
	}
}

// Errorf logs an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.slog.ErrorMsg(fmt.Sprintf(format, args...))
}

// RunSummary logs the outcome of a deployment run
func (l *Logger) RunSummary(runID, status string, succeeded, total int) {
	if !l.quiet {
		l.slog.RunSummary(runID, status, succeeded, total)
	}
}
