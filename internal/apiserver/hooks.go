package apiserver

import (
	"fmt"
	"io"
	"net/http"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/trigger"
)

// receivePush queues a push delivery for deployment
// @Summary Push webhook
// @Description Accepts generic {repository, revision} payloads and GitHub push events
// @Tags hooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Queued request id, or pong for pings"
// @Failure 400 {object} ErrorResponse "Malformed payload"
// @Failure 401 {object} ErrorResponse "Bad signature"
// @Failure 404 {object} ErrorResponse "No application for the repository"
// @Failure 503 {object} ErrorResponse "Queue unavailable"
// @Router /hooks/push [post]
func (s *APIServer) receivePush(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	req, err := s.gateway.Accept(r.Context(), trigger.Delivery{
		Event:     r.Header.Get(HeaderGitHubEvent),
		ID:        r.Header.Get(HeaderGitHubDelivery),
		Signature: r.Header.Get(trigger.SignatureHeader),
		Body:      body,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if req == nil {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}
	s.logger.For(r.Context()).Infof("Queued push %s for %s at %s", req.ID, req.Application, req.Revision)

	WriteJSON(w, http.StatusOK, map[string]string{
		"id":          req.ID,
		"status":      "queued",
		"application": req.Application,
		"revision":    req.Revision,
	})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "empty request body")
	}
	return body, nil
}
