package api

import (
	"fmt"
	"net/http"

	"github.com/raphaelgruber/shadowops/internal/config"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
)

const serviceTitle = "Shadow Ops – Expense Report Shadow"

type MetaHandler struct {
	cfg       config.Config
	collector *metrics.Collector
	version   string
}

func NewMetaHandler(cfg config.Config, collector *metrics.Collector, version string) *MetaHandler {
	return &MetaHandler{cfg: cfg, collector: collector, version: version}
}

// Root handles GET /
func (h *MetaHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": serviceTitle,
		"docs":    "/api/schemas",
		"health":  "/api/health",
	})
}

// Health handles GET /api/health
func (h *MetaHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Mode:    string(h.cfg.NovaMode),
		ActMode: string(h.cfg.ActMode),
		Version: h.version,
	})
}

// Stats handles GET /api/stats
func (h *MetaHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Snapshot())
}

// Schemas handles GET /api/schemas with example payloads for the core records.
func (h *MetaHandler) Schemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"CaptureSession":   exampleCaptureSession(),
		"InferredWorkflow": exampleInferredWorkflow(),
	})
}

func exampleCaptureSession() models.CaptureSession {
	step := func(i int, action string, elementText, fieldLabel, value *string, ts string) models.CaptureStep {
		return models.CaptureStep{
			StepIndex:      i,
			URL:            "https://expense.example.com/new",
			Action:         action,
			ElementText:    elementText,
			FieldLabel:     fieldLabel,
			ValueRedacted:  value,
			ScreenshotPath: models.StrPtr(fmt.Sprintf("/captures/cap_001_step_%d.png", i)),
			Timestamp:      models.StrPtr(ts),
		}
	}
	return models.CaptureSession{
		SessionID: "cap_20250220_001",
		Steps: []models.CaptureStep{
			step(0, "click", models.StrPtr("New expense"), nil, nil, "2025-02-20T10:00:00Z"),
			step(1, "type", models.StrPtr(""), models.StrPtr("Amount"), models.StrPtr("***"), "2025-02-20T10:00:15Z"),
			step(2, "click", models.StrPtr("Submit"), nil, nil, "2025-02-20T10:00:45Z"),
		},
		Metadata: map[string]any{"app_version": "2.1", "tenant_id": "acme"},
	}
}

func exampleInferredWorkflow() models.InferredWorkflow {
	return models.InferredWorkflow{
		SessionID: "cap_20250220_001",
		Title:     "Submit travel expense",
		Description: "Creates a new travel expense, fills amount and category, " +
			"attaches receipt, and submits for approval.",
		Parameters: []models.WorkflowParameter{
			{Name: "expense_amount", Type: "number", Required: true, Example: models.StrPtr("125.50")},
			{Name: "category", Type: "string", Required: true, Example: models.StrPtr("Travel")},
		},
		Steps: []models.WorkflowStep{
			{Order: 1, Intent: "navigate", Instruction: "Open the new expense form", SelectorHint: models.StrPtr("a[href='/new']"), UsesParameters: []string{}},
			{Order: 2, Intent: "fill_field", Instruction: "Enter the expense amount in the Amount field", SelectorHint: models.StrPtr("input[name='amount']"), UsesParameters: []string{"expense_amount"}},
			{Order: 3, Intent: "fill_field", Instruction: "Select the expense category", SelectorHint: models.StrPtr("select[name='category']"), UsesParameters: []string{"category"}},
			{Order: 4, Intent: "submit_form", Instruction: "Click Submit to send the expense for approval", SelectorHint: models.StrPtr("button[type='submit']"), UsesParameters: []string{}},
		},
		RiskLevel:        "low",
		TimeSavedMinutes: 5,
	}
}
