package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/shadowops/internal/agent"
	"github.com/raphaelgruber/shadowops/internal/config"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/raphaelgruber/shadowops/internal/storage"
)

const receiptFileParam = "receipt_file"

// AgentService generates agent specs from approved workflows and runs them.
type AgentService struct {
	store     *storage.Store
	workflows *WorkflowService
	runs      *RunManager
	mock      agent.Runner
	actMode   config.Mode
	collector *metrics.Collector
	logger    *slog.Logger
}

// AgentServiceConfig wires an AgentService.
type AgentServiceConfig struct {
	Store     *storage.Store
	Workflows *WorkflowService
	// Runs executes browser runs; required when ActMode is real.
	Runs      *RunManager
	Mock      agent.Runner
	ActMode   config.Mode
	Collector *metrics.Collector
	Logger    *slog.Logger
}

// NewAgentService creates an agent service.
func NewAgentService(cfg AgentServiceConfig) *AgentService {
	return &AgentService{
		store:     cfg.Store,
		workflows: cfg.Workflows,
		runs:      cfg.Runs,
		mock:      cfg.Mock,
		actMode:   cfg.ActMode,
		collector: cfg.Collector,
		logger:    cfg.Logger,
	}
}

// Generate builds and stores the agent spec for an approved workflow.
func (s *AgentService) Generate(sessionID string) (models.ActAgentSpec, error) {
	approved, err := s.workflows.IsApproved(sessionID)
	if err != nil {
		return models.ActAgentSpec{}, err
	}
	if !approved {
		s.logger.Info("agent generate rejected, workflow not approved", "session_id", sessionID)
		return models.ActAgentSpec{}, ErrNotApproved
	}

	wf, err := s.workflows.Get(sessionID)
	if err != nil {
		return models.ActAgentSpec{}, err
	}

	spec, err := agent.BuildSpec(wf)
	if err != nil {
		return models.ActAgentSpec{}, fmt.Errorf("build agent spec: %w", err)
	}
	if err := s.store.Put(storage.KindAgent, sessionID, spec); err != nil {
		return models.ActAgentSpec{}, fmt.Errorf("store agent: %w", err)
	}
	s.logger.Info("agent generated", "session_id", sessionID, "agent_id", spec.AgentID)
	return spec, nil
}

// Run executes the session's agent. Browser runs (real act mode without
// simulate) start in the background and return a running result; everything
// else runs the mock synchronously and returns the terminal result.
func (s *AgentService) Run(ctx context.Context, sessionID string, req models.ExecutionRequest) (models.ExecutionResult, error) {
	var spec models.ActAgentSpec
	if err := s.store.Get(storage.KindAgent, sessionID, &spec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.ExecutionResult{}, ErrAgentNotFound
		}
		return models.ExecutionResult{}, err
	}

	async := s.actMode == config.ModeReal && !req.SimulateUIChange && s.runs != nil
	params, err := agent.ValidateParameters(spec, s.withReceiptRef(sessionID, spec, req.Parameters), async)
	if err != nil {
		return models.ExecutionResult{}, err
	}

	in := agent.RunInput{
		RunID:      agent.NewRunID(),
		Spec:       spec,
		Parameters: params,
		Simulate:   req.SimulateUIChange,
	}

	if async {
		s.runs.Start(ctx, sessionID, in)
		return models.ExecutionResult{
			Status: models.StatusRunning,
			RunID:  in.RunID,
			RunLog: []string{},
		}, nil
	}

	start := time.Now()
	result, err := s.mock.Run(ctx, in)
	if err != nil {
		s.collector.RecordFailure(metrics.OpAgentRun)
		return models.ExecutionResult{}, fmt.Errorf("run agent: %w", err)
	}
	s.collector.RecordTiming(metrics.OpAgentRun, time.Since(start))

	if err := s.store.Put(storage.KindRun, result.RunID, result); err != nil {
		return models.ExecutionResult{}, fmt.Errorf("store run: %w", err)
	}
	s.logger.Info("agent run stored", "session_id", sessionID, "run_id", result.RunID)
	return result, nil
}

// withReceiptRef fills an unset receipt_file parameter with the image stored
// for a receipt session.
func (s *AgentService) withReceiptRef(sessionID string, spec models.ActAgentSpec, params map[string]any) map[string]any {
	props, _ := spec.ParameterSchema["properties"].(map[string]any)
	if _, ok := props[receiptFileParam]; !ok {
		return params
	}
	if v, ok := params[receiptFileParam]; ok && v != nil && v != "" {
		return params
	}
	session, err := loadSession(s.store, sessionID)
	if err != nil {
		return params
	}
	ref, _ := session.Metadata["receipt_ref"].(string)
	if ref == "" {
		return params
	}

	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[receiptFileParam] = ref
	s.logger.Debug("using stored receipt image", "session_id", sessionID, "receipt_ref", ref)
	return out
}

// RunStatus returns the state of a run. A persisted result is
// authoritative; otherwise an in-flight run reports its progress.
func (s *AgentService) RunStatus(sessionID, runID string) (models.RunState, error) {
	result, err := loadRunResult(s.store, runID)
	if err == nil {
		return models.RunState{ExecutionResult: result}, nil
	}
	if !errors.Is(err, ErrRunNotFound) {
		return models.RunState{}, err
	}

	if s.runs != nil {
		if run := s.runs.Get(runID); run != nil {
			return run.State(), nil
		}
	}
	s.logger.Debug("run not found", "session_id", sessionID, "run_id", runID)
	return models.RunState{}, ErrRunNotFound
}
