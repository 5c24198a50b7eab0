package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/shadowops/internal/service"
)

type WorkflowHandler struct {
	svc    *service.WorkflowService
	logger *slog.Logger
}

func NewWorkflowHandler(svc *service.WorkflowService, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{svc: svc, logger: logger}
}

// Infer handles POST /api/infer/{id}
func (h *WorkflowHandler) Infer(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.Infer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// List handles GET /api/workflows
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.List()
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// Get handles GET /api/workflows/{id}
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// Approve handles POST /api/workflows/{id}/approve
func (h *WorkflowHandler) Approve(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Approve(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": true})
}
