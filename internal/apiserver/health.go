package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// healthCheckTimeout bounds each store probe of the health endpoint
const healthCheckTimeout = 5 * time.Second

// componentHealth represents the health status of a system component
type componentHealth struct {
	Details map[string]interface{}
	Healthy bool
}

func healthy(details map[string]interface{}) componentHealth {
	details["status"] = string(interfaces.HealthStatusHealthy)
	return componentHealth{Details: details, Healthy: true}
}

func unhealthy(message string) componentHealth {
	return componentHealth{Details: map[string]interface{}{
		"status":  string(interfaces.HealthStatusUnhealthy),
		"message": message,
	}}
}

// getQueueMetrics returns trigger queue metrics
// @Summary Get queue metrics
// @Description Get metrics about the trigger queue
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Queue metrics"
// @Router /queue/metrics [get]
func (s *APIServer) getQueueMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := s.queue.GetMetrics()

	response := map[string]interface{}{
		"total_enqueued":    metrics.TotalEnqueued,
		"total_dequeued":    metrics.TotalDequeued,
		"total_failed":      metrics.TotalFailed,
		"current_depth":     metrics.CurrentDepth,
		"average_wait_time": metrics.AverageWaitTime.String(),
	}
	if !metrics.OldestRequest.IsZero() {
		response["oldest_request"] = metrics.OldestRequest.Format(time.RFC3339)
	}
	WriteJSON(w, http.StatusOK, response)
}

// getSystemHealth returns component health and deployment metrics
// @Summary Health check
// @Description Check the stores, the trigger queue, and the worker pool
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Service is healthy"
// @Success 503 {object} map[string]interface{} "Service unhealthy"
// @Router /system/health [get]
func (s *APIServer) getSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]componentHealth{
		"queue":      s.checkQueueHealth(),
		"registry":   s.checkRegistryHealth(ctx),
		"runStore":   s.checkRunStoreHealth(ctx),
		"workerPool": s.checkWorkerPoolHealth(),
	}

	overall := true
	details := make(map[string]interface{}, len(components))
	for name, c := range components {
		overall = overall && c.Healthy
		details[name] = c.Details
	}

	metrics := s.system.Metrics.GetSystemMetrics()
	status := interfaces.HealthStatusHealthy
	statusCode := http.StatusOK
	if !overall {
		status = interfaces.HealthStatusDegraded
		statusCode = http.StatusServiceUnavailable
	}

	WriteJSON(w, statusCode, map[string]interface{}{
		"status":     status,
		"time":       time.Now().Format(time.RFC3339),
		"components": details,
		"deployments": map[string]interface{}{
			"runs_submitted":       metrics.RunsSubmitted,
			"runs_succeeded":       metrics.RunsSucceeded,
			"runs_failed":          metrics.RunsFailed,
			"runs_rolled_back":     metrics.RunsRolledBack,
			"runs_canceled":        metrics.RunsCanceled,
			"stage_retries":        metrics.StageRetries,
			"active_runs":          s.system.Orchestrator.ActiveRuns(),
			"average_run_duration": metrics.AverageRunDuration.String(),
		},
		"system": s.getSystemMetrics(),
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		"version": map[string]interface{}{
			"api": APIVersion,
		},
	})
}

func (s *APIServer) checkQueueHealth() componentHealth {
	metrics := s.queue.GetMetrics()
	c := healthy(map[string]interface{}{
		"depth":    metrics.CurrentDepth,
		"enqueued": metrics.TotalEnqueued,
		"dequeued": metrics.TotalDequeued,
		"failed":   metrics.TotalFailed,
	})
	if b, ok := s.queue.(interface{ BreakerState() string }); ok {
		state := b.BreakerState()
		c.Details["circuit"] = state
		if state == "open" {
			c.Details["status"] = string(interfaces.HealthStatusUnhealthy)
			c.Details["message"] = "Redis is unreachable"
			c.Healthy = false
			return c
		}
	}
	if metrics.CurrentDepth > QueueDepthWarning {
		c.Details["status"] = "warning"
		c.Details["message"] = "Queue depth is high"
		c.Healthy = false
	}
	return c
}

func (s *APIServer) checkRegistryHealth(ctx context.Context) componentHealth {
	records, err := s.system.Registry.List(ctx, interfaces.Selector{All: true})
	if err != nil {
		return unhealthy(fmt.Sprintf("Failed to query registry: %v", err))
	}
	busy := 0
	for _, rec := range records {
		if rec.ActiveRun != "" {
			busy++
		}
	}
	return healthy(map[string]interface{}{
		"type":    s.config.Registry.Type,
		"targets": len(records),
		"busy":    busy,
	})
}

func (s *APIServer) checkRunStoreHealth(ctx context.Context) componentHealth {
	recent, err := s.system.Runs.List(ctx, interfaces.RunFilter{CreatedAfter: time.Now().Add(-time.Hour)})
	if err != nil {
		return unhealthy(fmt.Sprintf("Failed to query run store: %v", err))
	}
	return healthy(map[string]interface{}{
		"type":        s.config.Runs.Type,
		"recent_runs": len(recent),
	})
}

func (s *APIServer) checkWorkerPoolHealth() componentHealth {
	if s.workerPool == nil {
		return healthy(map[string]interface{}{"mode": "external"})
	}
	return healthy(map[string]interface{}{"mode": s.config.Queue.Type})
}

// getSystemMetrics returns current process metrics
func (s *APIServer) getSystemMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"gc_count": m.NumGC,
		},
	}
}
