package apiserver

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/lattiam/launchpad/internal/utils/fsutil"
)

// getConfig returns the sanitized server configuration
// @Summary Get server configuration
// @Description Get the current server configuration without paths or secrets
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Server configuration"
// @Router /system/config [get]
func (s *APIServer) getConfig(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, s.config.GetSanitized())
}

// getRuntimeInfo returns runtime information about the server
// @Summary Get runtime information
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Runtime information"
// @Router /system/runtime [get]
func (s *APIServer) getRuntimeInfo(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"go_version":     runtime.Version(),
		"num_goroutines": runtime.NumGoroutine(),
		"num_cpu":        runtime.NumCPU(),
		"memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"gc_runs":        m.NumGC,
		},
		"config": map[string]interface{}{
			"port":        s.config.Port,
			"debug":       s.config.Debug,
			"queue_type":  s.config.Queue.Type,
			"parallelism": s.config.Deploy.Parallelism,
		},
		"active_runs": s.system.Orchestrator.ActiveRuns(),
	})
}

// getDiskUsage reports usage of the data and artifact directories without
// exposing their paths
// @Summary Get disk usage
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Disk usage information"
// @Router /system/disk-usage [get]
func (s *APIServer) getDiskUsage(w http.ResponseWriter, _ *http.Request) {
	areas := map[string]string{
		"data":      s.config.DataDir,
		"artifacts": s.config.Artifacts.WorkDir,
	}

	storage := make(map[string]interface{}, len(areas))
	alerts := []map[string]interface{}{}
	for name, path := range areas {
		if path == "" {
			continue
		}
		usage, err := fsutil.GetDiskUsage(path)
		if err != nil {
			storage[name] = map[string]interface{}{"status": "unknown"}
			continue
		}

		level := usage.Level(DiskUsageWarning, DiskUsageCritical)
		storage[name] = map[string]interface{}{
			"used_percent": usage.UsedPercent,
			"writable":     fsutil.IsWritable(path),
			"status":       level,
		}
		if level != "healthy" {
			alerts = append(alerts, map[string]interface{}{
				"storage": name,
				"level":   level,
				"percent": usage.UsedPercent,
				"message": fmt.Sprintf("%s storage is %.1f%% full", name, usage.UsedPercent),
			})
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"storage": storage,
		"thresholds": map[string]float64{
			"warning":  DiskUsageWarning,
			"critical": DiskUsageCritical,
		},
		"alerts":      alerts,
		"alert_count": len(alerts),
	})
}
