package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/raphaelgruber/shadowops/internal/agent"
	"github.com/raphaelgruber/shadowops/internal/inference"
	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/raphaelgruber/shadowops/internal/server"
	"github.com/raphaelgruber/shadowops/internal/service"
	"github.com/raphaelgruber/shadowops/internal/storage"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	server.WriteDetail(w, status, msg)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeServiceError maps domain errors onto status codes and details.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		verr *models.ValidationError
		perr *agent.ParameterError
		uerr *inference.UpstreamError
	)

	// Upstream errors may wrap a validation error from model output, so
	// they are matched first.
	switch {
	case errors.As(err, &uerr):
		logger.Error("upstream failure", "path", r.URL.Path, "request_id", server.GetRequestID(r.Context()), "error", err)
		writeError(w, http.StatusBadGateway, uerr.Message)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.As(err, &perr):
		writeError(w, http.StatusBadRequest, perr.Message)
	case errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid id")
	case errors.Is(err, service.ErrNotApproved):
		writeError(w, http.StatusBadRequest, "Workflow must be approved before generating an agent")
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, service.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, "workflow not found")
	case errors.Is(err, service.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "Agent not found; generate the agent first")
	case errors.Is(err, service.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	default:
		logger.Error("request failed", "path", r.URL.Path, "request_id", server.GetRequestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
