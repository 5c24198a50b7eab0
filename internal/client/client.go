// Package client provides a REST client for the Shadow Ops server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
)

// DefaultEndpoint is used when neither an endpoint nor SHADOWOPS_SERVER_URL is set.
const DefaultEndpoint = "http://localhost:8000/api"

// Client is a REST client for the Shadow Ops server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new client.
// If endpoint is empty, uses SHADOWOPS_SERVER_URL env var or defaults to localhost:8000/api.
// Timeout can be configured via SHADOWOPS_CLIENT_TIMEOUT env var (default 5m for synchronous inference).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("SHADOWOPS_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("SHADOWOPS_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the API base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Detail)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: errorDetail(data, resp.Status)}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, result)
}

// errorDetail extracts {"detail": ...} from an error body, falling back to
// the raw body or the status line.
func errorDetail(body []byte, status string) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(payload.Detail)
		return string(b)
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return status
}

func seg(s string) string {
	return url.PathEscape(s)
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var resp models.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StoreSession uploads a capture session.
func (c *Client) StoreSession(ctx context.Context, session models.CaptureSession) (*models.StoreSessionResponse, error) {
	var resp models.StoreSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/capture/sessions", session, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSession fetches a stored capture session.
func (c *Client) GetSession(ctx context.Context, id string) (*models.CaptureSession, error) {
	var resp models.CaptureSession
	if err := c.doJSON(ctx, http.MethodGet, "/capture/sessions/"+seg(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadReceipt posts a receipt image as multipart form field "file".
func (c *Client) UploadReceipt(ctx context.Context, filename, mediaType string, data []byte) (*models.ReceiptExtractionResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	hdr.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	var resp models.ReceiptExtractionResult
	if err := c.do(ctx, http.MethodPost, "/capture/receipt", &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Infer runs workflow inference for a stored session.
func (c *Client) Infer(ctx context.Context, sessionID string) (*models.InferredWorkflow, error) {
	var resp models.InferredWorkflow
	if err := c.doJSON(ctx, http.MethodPost, "/infer/"+seg(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWorkflows returns summaries of all stored workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]models.WorkflowSummary, error) {
	var resp []models.WorkflowSummary
	if err := c.doJSON(ctx, http.MethodGet, "/workflows", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetWorkflow fetches one workflow.
func (c *Client) GetWorkflow(ctx context.Context, sessionID string) (*models.InferredWorkflow, error) {
	var resp models.InferredWorkflow
	if err := c.doJSON(ctx, http.MethodGet, "/workflows/"+seg(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve marks a workflow approved.
func (c *Client) Approve(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/workflows/"+seg(sessionID)+"/approve", nil, nil)
}

// GenerateAgent builds the agent spec for an approved workflow.
func (c *Client) GenerateAgent(ctx context.Context, sessionID string) (*models.ActAgentSpec, error) {
	var resp models.ActAgentSpec
	if err := c.doJSON(ctx, http.MethodPost, "/agents/"+seg(sessionID)+"/generate", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunAgent starts a run. Browser runs come back with status "running".
func (c *Client) RunAgent(ctx context.Context, sessionID string, req models.ExecutionRequest) (*models.ExecutionResult, error) {
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	var resp models.ExecutionResult
	if err := c.doJSON(ctx, http.MethodPost, "/agents/"+seg(sessionID)+"/run", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunStatus polls a run.
func (c *Client) RunStatus(ctx context.Context, sessionID, runID string) (*models.RunState, error) {
	var resp models.RunState
	if err := c.doJSON(ctx, http.MethodGet, "/agents/"+seg(sessionID)+"/run/"+seg(runID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Schemas returns example payloads keyed by record name.
func (c *Client) Schemas(ctx context.Context) (map[string]json.RawMessage, error) {
	var resp map[string]json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/schemas", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stats returns server runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var resp metrics.Snapshot
	if err := c.doJSON(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ErrRunTimeout is returned by WaitRun when the run is still going at the deadline.
var ErrRunTimeout = errors.New("run did not finish in time")

// WaitRun polls a run every interval until it is terminal or maxWait has
// elapsed. onPoll, if set, sees every state including the last.
func (c *Client) WaitRun(ctx context.Context, sessionID, runID string, interval, maxWait time.Duration, onPoll func(*models.RunState)) (*models.RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := c.RunStatus(ctx, sessionID, runID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrRunTimeout
			}
			return nil, err
		}
		if onPoll != nil {
			onPoll(state)
		}
		if state.Terminal() {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return state, ErrRunTimeout
		case <-ticker.C:
		}
	}
}
