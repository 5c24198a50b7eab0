// Package inference turns capture sessions and receipt images into
// structured expense workflows using a language model.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/shadowops/internal/config"
	"github.com/raphaelgruber/shadowops/internal/llm"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/raphaelgruber/shadowops/internal/inference"

// Service runs workflow inference and receipt extraction.
// In mock mode the model is never called and may be nil.
type Service struct {
	mode      config.Mode
	model     llm.Model
	collector *metrics.Collector
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewService creates an inference service.
func NewService(mode config.Mode, model llm.Model, collector *metrics.Collector, logger *slog.Logger) *Service {
	return &Service{
		mode:      mode,
		model:     model,
		collector: collector,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Infer produces a workflow for session. The returned workflow's session id
// always equals session.SessionID.
func (s *Service) Infer(ctx context.Context, session models.CaptureSession) (models.InferredWorkflow, error) {
	ctx, span := s.tracer.Start(ctx, "inference.Infer", trace.WithAttributes(
		attribute.String("session.id", session.SessionID),
		attribute.Int("session.steps", len(session.Steps)),
		attribute.String("inference.mode", string(s.mode)),
	))
	defer span.End()

	start := time.Now()
	var (
		wf  models.InferredWorkflow
		err error
	)
	if s.mode == config.ModeReal {
		wf, err = s.inferReal(ctx, session)
	} else {
		wf = mockWorkflow(session.SessionID)
	}
	if err != nil {
		s.collector.RecordFailure(metrics.OpInference)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.InferredWorkflow{}, err
	}
	s.collector.RecordTiming(metrics.OpInference, time.Since(start))

	s.logger.Info("workflow inferred",
		"session_id", session.SessionID,
		"mode", s.mode,
		"steps", len(wf.Steps),
		"parameters", len(wf.Parameters),
		"duration_ms", time.Since(start).Milliseconds())
	return wf, nil
}

func (s *Service) inferReal(ctx context.Context, session models.CaptureSession) (models.InferredWorkflow, error) {
	if s.model == nil {
		return models.InferredWorkflow{}, &UpstreamError{Message: "Inference service unavailable", Err: errors.New("no model configured")}
	}

	prompt, err := buildInferencePrompt(session)
	if err != nil {
		return models.InferredWorkflow{}, err
	}

	wf, err := s.attempt(ctx, session.SessionID, prompt)
	if err == nil {
		return wf, nil
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return models.InferredWorkflow{}, err
	}

	s.logger.Warn("inference output unusable, retrying with strict prompt",
		"session_id", session.SessionID, "error", err)

	wf, err = s.attempt(ctx, session.SessionID, prompt+strictSuffix)
	if err == nil {
		return wf, nil
	}
	if errors.As(err, &upstream) {
		return models.InferredWorkflow{}, err
	}

	var perr *llm.ParseError
	if errors.As(err, &perr) {
		return models.InferredWorkflow{}, &UpstreamError{
			Message: fmt.Sprintf("Inference returned invalid JSON. Preview: %q", perr.Preview),
			Err:     err,
		}
	}
	return models.InferredWorkflow{}, &UpstreamError{
		Message: fmt.Sprintf("Inference output did not match the workflow schema: %v", err),
		Err:     err,
	}
}

// attempt runs one model call. Transport failures come back as
// *UpstreamError; decode and validation failures are returned as-is so the
// caller can retry.
func (s *Service) attempt(ctx context.Context, sessionID, prompt string) (models.InferredWorkflow, error) {
	raw, err := s.model.Generate(ctx, prompt)
	if err != nil {
		return models.InferredWorkflow{}, &UpstreamError{Message: "Inference service unavailable", Err: err}
	}
	s.logger.Debug("inference output received", "session_id", sessionID, "chars", len(raw))

	var wf models.InferredWorkflow
	if err := llm.DecodeObject(raw, &wf); err != nil {
		return models.InferredWorkflow{}, err
	}
	wf.SessionID = sessionID
	wf.Normalize()
	if err := wf.Validate(); err != nil {
		return models.InferredWorkflow{}, err
	}
	return wf, nil
}

// mockWorkflow is the fixed expense workflow returned in mock mode.
func mockWorkflow(sessionID string) models.InferredWorkflow {
	return models.InferredWorkflow{
		SessionID:   sessionID,
		Title:       "Submit expense (inferred)",
		Description: "Creates a new expense, uploads receipt, fills amount, date, category and description, then submits and confirms. Inferred from capture session.",
		Parameters: []models.WorkflowParameter{
			{Name: "amount", Type: "number", Required: true, Example: models.StrPtr("125.50")},
			{Name: "date", Type: "date", Required: true, Example: models.StrPtr("2025-02-20")},
			{Name: "category", Type: "string", Required: true, Example: models.StrPtr("Travel")},
			{Name: "description", Type: "string", Required: false, Example: models.StrPtr("Client meeting")},
			{Name: "receipt_file", Type: "string", Required: true, Example: models.StrPtr("receipt.pdf")},
		},
		Steps: []models.WorkflowStep{
			{Order: 1, Intent: "navigate", Instruction: "Navigate to the expense application entry URL", UsesParameters: []string{}},
			{Order: 2, Intent: "open_form", Instruction: "Open the new expense form (e.g. click 'New expense')", UsesParameters: []string{}},
			{Order: 3, Intent: "upload_receipt", Instruction: "Upload or attach the receipt file", UsesParameters: []string{"receipt_file"}},
			{Order: 4, Intent: "fill_field", Instruction: "Fill amount, date, category, and description fields", UsesParameters: []string{"amount", "date", "category", "description"}},
			{Order: 5, Intent: "submit_form", Instruction: "Submit the expense form", UsesParameters: []string{}},
			{Order: 6, Intent: "confirmation", Instruction: "Confirm submission if a confirmation step is shown", UsesParameters: []string{}},
		},
		RiskLevel:        "low",
		TimeSavedMinutes: 5,
	}
}
