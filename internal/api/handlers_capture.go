package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/raphaelgruber/shadowops/internal/service"
)

// multipartOverhead is the allowance for multipart framing on top of the file.
const multipartOverhead = 1 << 20

type CaptureHandler struct {
	svc    *service.CaptureService
	logger *slog.Logger
}

func NewCaptureHandler(svc *service.CaptureService, logger *slog.Logger) *CaptureHandler {
	return &CaptureHandler{svc: svc, logger: logger}
}

// StoreSession handles POST /api/capture/sessions
func (h *CaptureHandler) StoreSession(w http.ResponseWriter, r *http.Request) {
	var session models.CaptureSession
	if err := decodeJSON(w, r, &session); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.svc.StoreSession(session)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /api/capture/sessions/{id}
func (h *CaptureHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ReceiptHint handles GET /api/capture/receipt
func (h *CaptureHandler) ReceiptHint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Use POST with multipart/form-data and 'file' field to upload a receipt.",
	})
}

// UploadReceipt handles POST /api/capture/receipt
func (h *CaptureHandler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxReceiptBytes+multipartOverhead)
	if err := r.ParseMultipartForm(service.MaxReceiptBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("File too large. Max size: %dMB", service.MaxReceiptBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data with a 'file' field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, service.MaxReceiptBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}

	result, err := h.svc.ProcessReceipt(r.Context(), service.ReceiptUpload{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
