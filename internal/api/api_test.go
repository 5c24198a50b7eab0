package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/shadowops/internal/agent"
	"github.com/raphaelgruber/shadowops/internal/config"
	"github.com/raphaelgruber/shadowops/internal/inference"
	"github.com/raphaelgruber/shadowops/internal/llm"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/raphaelgruber/shadowops/internal/server"
	"github.com/raphaelgruber/shadowops/internal/service"
	"github.com/raphaelgruber/shadowops/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type downModel struct{}

func (downModel) Generate(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (downModel) GenerateWithImage(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("connection refused")
}

func (downModel) Name() string { return "down" }

var _ llm.Model = downModel{}

func newTestRouter(t *testing.T, inf *inference.Service, limiter *server.RateLimiter) http.Handler {
	t.Helper()
	dir := t.TempDir()
	logger := discardLogger()
	collector := metrics.NewCollector()

	store := storage.NewStore(dir)
	blobs, err := storage.NewFileBlobStore(filepath.Join(dir, "receipts"))
	require.NoError(t, err)

	if inf == nil {
		inf = inference.NewService(config.ModeMock, nil, collector, logger)
	}
	workflows := service.NewWorkflowService(store, inf, logger)
	agents := service.NewAgentService(service.AgentServiceConfig{
		Store:     store,
		Workflows: workflows,
		Mock:      agent.NewMockRunner(logger),
		ActMode:   config.ModeMock,
		Collector: collector,
		Logger:    logger,
	})

	return NewRouter(Deps{
		Capture:   service.NewCaptureService(store, blobs, inf, logger),
		Workflows: workflows,
		Agents:    agents,
		Collector: collector,
		Limiter:   limiter,
		Config: config.Config{
			NovaMode:    config.ModeMock,
			ActMode:     config.ModeMock,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Version: "0.1.0",
		Logger:  logger,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["detail"]
}

func captureBody(id string) map[string]any {
	return map[string]any{
		"session_id": id,
		"steps": []map[string]any{
			{"step_index": 0, "url": "https://expense.example.com", "action": "navigate"},
			{"step_index": 1, "url": "https://expense.example.com/new", "action": "click", "element_text": "New expense"},
		},
	}
}

func TestHealthAndRoot(t *testing.T) {
	h := newTestRouter(t, nil, nil)

	rec := do(t, h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","mode":"mock","act_mode":"mock","version":"0.1.0"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(server.RequestIDHeader))

	rec = do(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/health")

	rec = do(t, h, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", detail(t, rec))
}

func TestFullWorkflow(t *testing.T) {
	h := newTestRouter(t, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/capture/sessions", captureBody("cap_001"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"session_id":"cap_001","stored":true}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/capture/sessions/cap_001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session models.CaptureSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Len(t, session.Steps, 2)

	rec = do(t, h, http.MethodPost, "/api/infer/cap_001", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var wf models.InferredWorkflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	assert.Equal(t, "cap_001", wf.SessionID)
	assert.NotEmpty(t, wf.Steps)

	rec = do(t, h, http.MethodGet, "/api/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []models.WorkflowSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "cap_001", summaries[0].SessionID)

	rec = do(t, h, http.MethodPost, "/api/agents/cap_001/generate", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Workflow must be approved before generating an agent", detail(t, rec))

	rec = do(t, h, http.MethodPost, "/api/workflows/cap_001/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"approved":true}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/agents/cap_001/run", map[string]any{"parameters": map[string]any{}})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Agent not found; generate the agent first", detail(t, rec))

	rec = do(t, h, http.MethodPost, "/api/agents/cap_001/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var spec models.ActAgentSpec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	assert.True(t, strings.HasPrefix(spec.AgentID, "agent_cap_001_"))

	rec = do(t, h, http.MethodPost, "/api/agents/cap_001/run", map[string]any{
		"parameters": map[string]any{"amount": "42.00", "category": "Meals"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result models.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, models.StatusCompleted, result.Status)
	require.NotNil(t, result.ConfirmationID)

	rec = do(t, h, http.MethodGet, "/api/agents/cap_001/run/"+result.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state models.RunState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, result.RunID, state.RunID)
	assert.Equal(t, models.StatusCompleted, state.Status)
	assert.Nil(t, state.StepsDone)

	rec = do(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.NotNil(t, stats.Inference)
	assert.Equal(t, int64(1), stats.Inference.Count)
}

func TestErrorMapping(t *testing.T) {
	h := newTestRouter(t, nil, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantDetail string
	}{
		{"empty steps", http.MethodPost, "/api/capture/sessions", map[string]any{"session_id": "x", "steps": []any{}}, http.StatusBadRequest, "steps must not be empty"},
		{"unsafe id", http.MethodPost, "/api/capture/sessions", captureBody("../etc"), http.StatusBadRequest, `invalid session id "../etc"`},
		{"missing session", http.MethodGet, "/api/capture/sessions/none", nil, http.StatusNotFound, "session not found"},
		{"infer missing session", http.MethodPost, "/api/infer/none", nil, http.StatusNotFound, "session not found"},
		{"missing workflow", http.MethodGet, "/api/workflows/none", nil, http.StatusNotFound, "workflow not found"},
		{"approve missing workflow", http.MethodPost, "/api/workflows/none/approve", nil, http.StatusNotFound, "workflow not found"},
		{"run missing agent", http.MethodPost, "/api/agents/none/run", map[string]any{}, http.StatusNotFound, "Agent not found; generate the agent first"},
		{"missing run", http.MethodGet, "/api/agents/none/run/run_000000000000", nil, http.StatusNotFound, "run not found"},
		{"invalid run id", http.MethodGet, "/api/agents/none/run/bad..id", nil, http.StatusBadRequest, "invalid id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantDetail, detail(t, rec))
		})
	}
}

func TestInvalidJSONBody(t *testing.T) {
	h := newTestRouter(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/capture/sessions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", detail(t, rec))
}

func TestGenerateApprovedWithoutWorkflow(t *testing.T) {
	dir := t.TempDir()
	logger := discardLogger()
	collector := metrics.NewCollector()
	store := storage.NewStore(dir)
	inf := inference.NewService(config.ModeMock, nil, collector, logger)
	workflows := service.NewWorkflowService(store, inf, logger)
	h := NewRouter(Deps{
		Workflows: workflows,
		Agents: service.NewAgentService(service.AgentServiceConfig{
			Store: store, Workflows: workflows, Mock: agent.NewMockRunner(logger),
			ActMode: config.ModeMock, Collector: collector, Logger: logger,
		}),
		Collector: collector,
		Logger:    logger,
	})
	require.NoError(t, store.Put(storage.KindApproval, "cap_x", models.Approval{Approved: true}))

	rec := do(t, h, http.MethodPost, "/api/agents/cap_x/generate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Workflow not found", detail(t, rec))
}

func TestInferUpstreamFailure(t *testing.T) {
	logger := discardLogger()
	inf := inference.NewService(config.ModeReal, downModel{}, metrics.NewCollector(), logger)
	h := newTestRouter(t, inf, nil)

	rec := do(t, h, http.MethodPost, "/api/capture/sessions", captureBody("cap_001"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/infer/cap_001", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Inference service unavailable", detail(t, rec))
}

func multipartRequest(t *testing.T, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="receipt.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/capture/receipt", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestReceiptUpload(t *testing.T) {
	h := newTestRouter(t, nil, nil)

	t.Run("hint", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/capture/receipt", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "multipart/form-data")
	})

	t.Run("accepted", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, multipartRequest(t, "image/png", []byte("\x89PNG fake")))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var result models.ReceiptExtractionResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, strings.HasPrefix(result.SessionID, "receipt_"))
		assert.True(t, result.WorkflowInferred)

		rec = do(t, h, http.MethodGet, "/api/workflows/"+result.SessionID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, multipartRequest(t, "application/pdf", []byte("%PDF")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid content type. Allowed: image/gif, image/jpeg, image/png, image/webp", detail(t, rec))
	})

	t.Run("too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, multipartRequest(t, "image/png", bytes.Repeat([]byte{0}, service.MaxReceiptBytes+1)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "File too large. Max size: 10MB", detail(t, rec))
	})

	t.Run("body over request limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, multipartRequest(t, "image/png", bytes.Repeat([]byte{0}, 13<<20)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "File too large. Max size: 10MB", detail(t, rec))
	})

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("note", "no file"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/capture/receipt", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "file is required", detail(t, rec))
	})
}

func TestSchemas(t *testing.T) {
	h := newTestRouter(t, nil, nil)
	rec := do(t, h, http.MethodGet, "/api/schemas", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		CaptureSession   models.CaptureSession
		InferredWorkflow models.InferredWorkflow
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NoError(t, body.CaptureSession.Validate())
	assert.NoError(t, body.InferredWorkflow.Validate())
	assert.Equal(t, body.CaptureSession.SessionID, body.InferredWorkflow.SessionID)
}

func TestRateLimitedEndpoints(t *testing.T) {
	h := newTestRouter(t, nil, server.NewRateLimiter(0.001, 1))

	rec := do(t, h, http.MethodPost, "/api/infer/none", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/infer/none", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Unlimited routes are unaffected.
	rec = do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
