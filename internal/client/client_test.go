package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/shadowops/internal/models"
)

func TestNewEndpoint(t *testing.T) {
	t.Setenv("SHADOWOPS_SERVER_URL", "")
	assert.Equal(t, DefaultEndpoint, New("").Endpoint())

	t.Setenv("SHADOWOPS_SERVER_URL", "http://shadow:9000/api/")
	assert.Equal(t, "http://shadow:9000/api", New("").Endpoint())
	assert.Equal(t, "http://explicit/api", New("http://explicit/api").Endpoint())
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/workflows/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"workflow not found"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()
	c := New(srv.URL + "/api")

	_, err := c.GetWorkflow(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "workflow not found", apiErr.Detail)
	assert.True(t, IsNotFound(err))

	_, err = c.Infer(context.Background(), "x")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Detail)
	assert.False(t, IsNotFound(err))
}

func TestStoreSessionAndRun(t *testing.T) {
	var gotSession models.CaptureSession
	var gotRun models.ExecutionRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/capture/sessions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotSession))
		_, _ = w.Write([]byte(`{"session_id":"cap_001","stored":true}`))
	})
	mux.HandleFunc("POST /api/agents/cap_001/run", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRun))
		_, _ = w.Write([]byte(`{"status":"running","confirmation_id":null,"run_id":"run_abc","run_log":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := New(srv.URL + "/api")

	resp, err := c.StoreSession(context.Background(), models.CaptureSession{
		SessionID: "cap_001",
		Steps:     []models.CaptureStep{{URL: "https://expense.example.com", Action: "navigate"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Stored)
	assert.Equal(t, "cap_001", gotSession.SessionID)

	result, err := c.RunAgent(context.Background(), "cap_001", models.ExecutionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, result.Status)
	assert.NotNil(t, gotRun.Parameters, "parameters are always sent")
}

func TestUploadReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		assert.Equal(t, "receipt.png", header.Filename)
		assert.Equal(t, "png-bytes", string(data))
		_, _ = w.Write([]byte(`{"session_id":"receipt_abc","extracted":{"confidence":0.9},"workflow_inferred":true}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).UploadReceipt(context.Background(), "/tmp/receipt.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "receipt_abc", res.SessionID)
	assert.InDelta(t, 0.9, res.Extracted.Confidence, 1e-9)
}

func TestWaitRun(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"status":"running","confirmation_id":null,"run_id":"run_1","run_log":[],"steps_done":1,"steps_total":6}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"completed","confirmation_id":"EXP-2026-000001","run_id":"run_1","run_log":["done"]}`))
	}))
	defer srv.Close()

	var seen []string
	state, err := New(srv.URL).WaitRun(context.Background(), "cap_001", "run_1", time.Millisecond, time.Second, func(s *models.RunState) {
		seen = append(seen, s.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, state.Status)
	assert.Equal(t, []string{"running", "running", "completed"}, seen)
}

func TestWaitRunTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running","confirmation_id":null,"run_id":"run_1","run_log":[]}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).WaitRun(context.Background(), "cap_001", "run_1", 5*time.Millisecond, 30*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrRunTimeout)
}
