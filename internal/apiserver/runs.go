package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/system"
)

// createRun stages a source tree on the server and starts a run
// @Summary Create run
// @Description Stage a server-side source tree and deploy it to the selected targets
// @Tags runs
// @Accept json
// @Produce json
// @Param run body system.DeployRequest true "Source path, application, and target selector"
// @Success 202 {object} interfaces.DeploymentRun "Run started"
// @Failure 400 {object} ErrorResponse "Bad request"
// @Failure 404 {object} ErrorResponse "Unknown application or target"
// @Failure 409 {object} ErrorResponse "A target is busy"
// @Router /runs [post]
func (s *APIServer) createRun(w http.ResponseWriter, r *http.Request) {
	var req system.DeployRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			WriteDomainError(w, err)
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("Invalid JSON in request body: %v", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = middleware.GetReqID(r.Context())
	}

	run, err := s.system.Deploy(r.Context(), req)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, run)
}

// getRun returns a run snapshot
// @Summary Get run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} interfaces.DeploymentRun "Run"
// @Failure 404 {object} ErrorResponse "Unknown run"
// @Router /runs/{id} [get]
func (s *APIServer) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.system.Orchestrator.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// listRuns lists runs, newest first
// @Summary List runs
// @Tags runs
// @Produce json
// @Param status query string false "Comma-separated statuses"
// @Param target query string false "Only runs including this target"
// @Param created_after query string false "RFC3339 lower bound"
// @Param limit query int false "Maximum number of runs"
// @Success 200 {object} map[string]interface{} "Runs"
// @Failure 400 {object} ErrorResponse "Bad filter"
// @Router /runs [get]
func (s *APIServer) listRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	runs, err := s.system.Orchestrator.List(r.Context(), filter)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []*interfaces.DeploymentRun{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// cancelRun asks an executing run to stop
// @Summary Cancel run
// @Description Targets that have not started their next stage stop; the others finish
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]string "Cancellation requested"
// @Failure 400 {object} ErrorResponse "Run already finished"
// @Failure 404 {object} ErrorResponse "Unknown run"
// @Router /runs/{id}/cancel [post]
func (s *APIServer) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.system.Orchestrator.Cancel(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": "cancel_requested",
	})
}

// rollbackRun starts a run that restores the artifacts a finished run replaced
// @Summary Roll back run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 202 {object} interfaces.DeploymentRun "Rollback run started"
// @Failure 400 {object} ErrorResponse "Nothing to roll back"
// @Failure 404 {object} ErrorResponse "Unknown run"
// @Failure 409 {object} ErrorResponse "A target is busy"
// @Router /runs/{id}/rollback [post]
func (s *APIServer) rollbackRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.system.Orchestrator.Rollback(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, run)
}

func parseRunFilter(r *http.Request) (interfaces.RunFilter, error) {
	q := r.URL.Query()
	filter := interfaces.RunFilter{
		Target: q.Get("target"),
		Limit:  DefaultRunListLimit,
	}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := interfaces.RunStatus(strings.TrimSpace(part))
			if !status.Valid() {
				return filter, fmt.Errorf("unknown run status %q", part)
			}
			filter.Status = append(filter.Status, status)
		}
	}
	if raw := q.Get("created_after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("created_after must be RFC3339: %w", err)
		}
		filter.CreatedAfter = t
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
