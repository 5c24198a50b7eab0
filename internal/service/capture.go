// Package service implements the capture, workflow and agent operations
// behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/raphaelgruber/shadowops/internal/inference"
	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/raphaelgruber/shadowops/internal/storage"
)

// MaxReceiptBytes is the largest accepted receipt upload.
const MaxReceiptBytes = 10 << 20

var allowedReceiptTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ReceiptUpload is an uploaded receipt image.
type ReceiptUpload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// CaptureService stores capture sessions and turns receipts into sessions.
type CaptureService struct {
	store     *storage.Store
	blobs     storage.BlobStore
	inference *inference.Service
	logger    *slog.Logger
}

// NewCaptureService creates a capture service. blobs may be nil, in which
// case receipt images are not kept.
func NewCaptureService(store *storage.Store, blobs storage.BlobStore, inf *inference.Service, logger *slog.Logger) *CaptureService {
	return &CaptureService{store: store, blobs: blobs, inference: inf, logger: logger}
}

// StoreSession validates and persists a session, replacing any earlier one
// with the same id.
func (s *CaptureService) StoreSession(session models.CaptureSession) (models.StoreSessionResponse, error) {
	if err := session.Validate(); err != nil {
		s.logger.Warn("capture session rejected", "session_id", session.SessionID, "reason", err)
		return models.StoreSessionResponse{}, err
	}
	if err := s.store.Put(storage.KindSession, session.SessionID, session); err != nil {
		return models.StoreSessionResponse{}, fmt.Errorf("store session: %w", err)
	}
	s.logger.Info("capture session stored", "session_id", session.SessionID, "steps", len(session.Steps))
	return models.StoreSessionResponse{SessionID: session.SessionID, Stored: true}, nil
}

// GetSession loads a stored session.
func (s *CaptureService) GetSession(id string) (models.CaptureSession, error) {
	return loadSession(s.store, id)
}

// ProcessReceipt extracts expense fields from a receipt image, records a
// synthetic capture session for it and infers its workflow.
func (s *CaptureService) ProcessReceipt(ctx context.Context, upload ReceiptUpload) (models.ReceiptExtractionResult, error) {
	mediaType := normalizeMediaType(upload.ContentType)
	if !allowedReceiptTypes[mediaType] {
		return models.ReceiptExtractionResult{}, &models.ValidationError{
			Field:   "file",
			Message: "Invalid content type. Allowed: " + strings.Join(sortedKeys(allowedReceiptTypes), ", "),
		}
	}
	if len(upload.Data) > MaxReceiptBytes {
		return models.ReceiptExtractionResult{}, &models.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("File too large. Max size: %dMB", MaxReceiptBytes>>20),
		}
	}
	s.logger.Info("receipt upload received", "bytes", len(upload.Data), "media_type", mediaType)

	fields, err := s.inference.ExtractReceipt(ctx, upload.Data, mediaType)
	if err != nil {
		return models.ReceiptExtractionResult{}, err
	}

	metadata := map[string]any{
		"source":     "receipt_upload",
		"media_type": mediaType,
	}
	if upload.Filename != "" {
		metadata["filename"] = upload.Filename
	}
	if s.blobs != nil {
		ref, err := s.storeImage(ctx, upload.Data, mediaType)
		if err != nil {
			return models.ReceiptExtractionResult{}, fmt.Errorf("store receipt image: %w", err)
		}
		metadata["receipt_ref"] = ref
	}

	session := models.CaptureSession{
		SessionID: "receipt_" + shortHex(12),
		Steps:     receiptSteps(fields),
		Metadata:  metadata,
	}
	if err := s.store.Put(storage.KindSession, session.SessionID, session); err != nil {
		return models.ReceiptExtractionResult{}, fmt.Errorf("store session: %w", err)
	}

	wf, err := s.inference.Infer(ctx, session)
	if err != nil {
		return models.ReceiptExtractionResult{}, err
	}
	if err := s.store.Put(storage.KindWorkflow, session.SessionID, wf); err != nil {
		return models.ReceiptExtractionResult{}, fmt.Errorf("store workflow: %w", err)
	}

	s.logger.Info("receipt pipeline complete", "session_id", session.SessionID)
	return models.ReceiptExtractionResult{
		SessionID:        session.SessionID,
		Extracted:        fields,
		WorkflowInferred: true,
	}, nil
}

// storeImage writes a receipt image unless identical bytes are already stored.
func (s *CaptureService) storeImage(ctx context.Context, data []byte, mediaType string) (string, error) {
	ref := storage.ContentRef(data)
	exists, err := s.blobs.Exists(ctx, ref)
	if err != nil {
		return "", err
	}
	if exists {
		s.logger.Debug("receipt image already stored", "receipt_ref", ref)
		return ref, nil
	}
	return s.blobs.Put(ctx, data, mediaType)
}

// receiptSteps builds the capture steps a person would have recorded while
// typing the receipt into the expense form.
func receiptSteps(f models.ReceiptFields) []models.CaptureStep {
	field := func(i int, action, label string, value *string) models.CaptureStep {
		v := ""
		if value != nil {
			v = *value
		}
		return models.CaptureStep{
			StepIndex:     i,
			URL:           "/expense/new",
			Action:        action,
			FieldLabel:    models.StrPtr(label),
			ValueRedacted: models.StrPtr(v),
		}
	}
	return []models.CaptureStep{
		{StepIndex: 0, URL: "/expense/dashboard", Action: "navigate"},
		field(1, "type", "amount", f.Amount),
		field(2, "type", "merchant", f.Merchant),
		field(3, "type", "date", f.Date),
		field(4, "select", "category", f.Category),
	}
}

func normalizeMediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func loadSession(store *storage.Store, id string) (models.CaptureSession, error) {
	var session models.CaptureSession
	if err := store.Get(storage.KindSession, id, &session); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.CaptureSession{}, ErrSessionNotFound
		}
		return models.CaptureSession{}, err
	}
	return session, nil
}
