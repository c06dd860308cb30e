package interfaces

import "time"

// SystemMetrics provides metrics about deployment activity
type SystemMetrics struct {
	RunsSubmitted      int64         `json:"runs_submitted"`
	RunsSucceeded      int64         `json:"runs_succeeded"`
	RunsFailed         int64         `json:"runs_failed"`
	RunsRolledBack     int64         `json:"runs_rolled_back"`
	RunsCanceled       int64         `json:"runs_canceled"`
	StageRetries       int64         `json:"stage_retries"`
	AverageRunDuration time.Duration `json:"average_run_duration"`
	ActiveRuns         int64         `json:"active_runs"`
	SystemUptime       time.Duration `json:"system_uptime"`
}

// HealthStatus represents the overall health status
type HealthStatus string

const (
	// HealthStatusHealthy indicates system is operating normally
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded indicates system has issues but is functional
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy indicates system is not functioning properly
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)
