package apiserver

import (
	"net/http"
)

// listTargets lists registered targets
// @Summary List targets
// @Tags targets
// @Produce json
// @Param selector query string false "all, id1,id2, or role=web,env=prod"
// @Success 200 {object} map[string]interface{} "Targets"
// @Failure 400 {object} ErrorResponse "Bad selector"
// @Router /targets [get]
func (s *APIServer) listTargets(w http.ResponseWriter, r *http.Request) {
	records, err := s.system.Targets(r.Context(), r.URL.Query().Get("selector"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"targets": records,
		"count":   len(records),
	})
}

// reloadTargets re-reads the inventory and syncs the registry
// @Summary Reload inventory
// @Description Targets removed from the inventory but held by a run are retained until released
// @Tags targets
// @Produce json
// @Success 200 {object} registry.SyncResult "Sync result"
// @Failure 400 {object} ErrorResponse "Invalid inventory"
// @Router /targets/reload [post]
func (s *APIServer) reloadTargets(w http.ResponseWriter, r *http.Request) {
	result, err := s.system.Reload(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
