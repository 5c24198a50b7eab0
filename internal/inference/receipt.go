package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/raphaelgruber/shadowops/internal/config"
	"github.com/raphaelgruber/shadowops/internal/llm"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExtractReceipt reads expense fields from a receipt image.
func (s *Service) ExtractReceipt(ctx context.Context, image []byte, mediaType string) (models.ReceiptFields, error) {
	ctx, span := s.tracer.Start(ctx, "inference.ExtractReceipt", trace.WithAttributes(
		attribute.String("receipt.media_type", mediaType),
		attribute.Int("receipt.bytes", len(image)),
	))
	defer span.End()

	if s.mode != config.ModeReal {
		return mockReceipt(), nil
	}

	start := time.Now()
	fields, err := s.extractReal(ctx, image, mediaType)
	if err != nil {
		s.collector.RecordFailure(metrics.OpReceiptExtraction)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.ReceiptFields{}, err
	}
	s.collector.RecordTiming(metrics.OpReceiptExtraction, time.Since(start))
	s.logger.Info("receipt extracted", "confidence", fields.Confidence, "duration_ms", time.Since(start).Milliseconds())
	return fields, nil
}

func (s *Service) extractReal(ctx context.Context, image []byte, mediaType string) (models.ReceiptFields, error) {
	if s.model == nil {
		return models.ReceiptFields{}, &UpstreamError{Message: "Receipt extraction service unavailable.", Err: errors.New("no model configured")}
	}

	raw, err := s.model.GenerateWithImage(ctx, receiptPrompt(), image, mediaType)
	if err != nil {
		return models.ReceiptFields{}, &UpstreamError{Message: "Receipt extraction service unavailable.", Err: err}
	}

	var obj map[string]any
	if err := llm.DecodeObject(raw, &obj); err != nil {
		var perr *llm.ParseError
		switch {
		case errors.Is(err, llm.ErrNotObject):
			return models.ReceiptFields{}, &UpstreamError{Message: "Receipt extraction did not return a JSON object.", Err: err}
		case errors.As(err, &perr):
			return models.ReceiptFields{}, &UpstreamError{
				Message: fmt.Sprintf("Receipt extraction returned invalid JSON. Preview: %q", perr.Preview),
				Err:     err,
			}
		default:
			return models.ReceiptFields{}, &UpstreamError{Message: "Receipt extraction returned invalid JSON.", Err: err}
		}
	}

	return models.ReceiptFields{
		Amount:     textField(obj["amount"]),
		Merchant:   textField(obj["merchant"]),
		Date:       textField(obj["date"]),
		Category:   textField(obj["category"]),
		Currency:   textField(obj["currency"]),
		Confidence: confidence(obj["confidence"]),
	}, nil
}

// textField renders scalar model values as strings. Null, objects and
// arrays yield nil.
func textField(v any) *string {
	switch x := v.(type) {
	case string:
		return &x
	case json.Number:
		s := x.String()
		return &s
	case bool:
		s := strconv.FormatBool(x)
		return &s
	default:
		return nil
	}
}

func confidence(v any) float64 {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func mockReceipt() models.ReceiptFields {
	return models.ReceiptFields{
		Amount:     models.StrPtr("45.50"),
		Merchant:   models.StrPtr("Demo Cafe"),
		Date:       models.StrPtr("2025-02-20"),
		Category:   models.StrPtr("Meals"),
		Currency:   models.StrPtr("USD"),
		Confidence: 0.95,
	}
}
