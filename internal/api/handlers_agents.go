package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/raphaelgruber/shadowops/internal/service"
)

type AgentHandler struct {
	svc    *service.AgentService
	logger *slog.Logger
}

func NewAgentHandler(svc *service.AgentService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{svc: svc, logger: logger}
}

// Generate handles POST /api/agents/{id}/generate
func (h *AgentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	spec, err := h.svc.Generate(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, service.ErrWorkflowNotFound) {
			writeError(w, http.StatusNotFound, "Workflow not found")
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// Run handles POST /api/agents/{id}/run. Browser runs answer with status
// "running" and are polled through RunStatus.
func (h *AgentHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req models.ExecutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}

	result, err := h.svc.Run(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RunStatus handles GET /api/agents/{id}/run/{run_id}
func (h *AgentHandler) RunStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.RunStatus(chi.URLParam(r, "id"), chi.URLParam(r, "run_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
