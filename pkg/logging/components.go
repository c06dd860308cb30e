// Package logging provides structured logging support for launchpad
package logging

import "time"

// Component-specific loggers

// Registry logger for target registry operations
var Registry = NewLogger("registry")

// Stager logger for artifact staging
var Stager = NewLogger("stager")

// Remote logger for SSH execution
var Remote = NewLogger("remote")

// Orchestrator logger for deployment runs
var Orchestrator = NewLogger("orchestrator")

// Health logger for readiness probes
var Health = NewLogger("health")

// Trigger logger for webhook and queue consumption
var Trigger = NewLogger("trigger")

// Queue logger for queue backends
var Queue = NewLogger("queue")

// Config logger for configuration operations
var Config = NewLogger("config")

// Retry logger for retry operations
var Retry = NewLogger("retry")

// StageResult logs the outcome of one remote operation
func StageResult(target, stage, operation string, exitCode int, took time.Duration) {
	Remote.slogLogger.StageCompleted(target, stage, operation, exitCode, took)
}

// PhaseChange logs a per-target phase transition
func PhaseChange(runID, target, from, to string) {
	Orchestrator.Info("run=%s target=%s phase %s -> %s", runID, target, from, to)
}

// RunFinished logs the aggregated outcome of a run
func RunFinished(runID, status string, succeeded, total int) {
	Orchestrator.slogLogger.RunSummary(runID, status, succeeded, total)
}

// RetryScheduled logs a retry of a stage after a retryable failure
func RetryScheduled(target, stage string, attempt int, delay time.Duration, err error) {
	Retry.Warn("target=%s stage=%s attempt=%d retry_in=%s error=%v", target, stage, attempt, delay, err)
}
