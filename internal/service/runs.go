package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/shadowops/internal/agent"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/raphaelgruber/shadowops/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Run is a background agent execution.
type Run struct {
	ID         string
	SessionID  string
	AgentID    string
	Status     string
	StepsDone  int
	StepsTotal int
	StartedAt  time.Time
	Result     *models.ExecutionResult

	mu sync.RWMutex
}

// State returns the poll view of the run.
func (r *Run) State() models.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Result != nil {
		return models.RunState{ExecutionResult: *r.Result}
	}
	done, total := r.StepsDone, r.StepsTotal
	return models.RunState{
		ExecutionResult: models.ExecutionResult{
			Status: r.Status,
			RunID:  r.ID,
			RunLog: []string{},
		},
		StepsDone:  &done,
		StepsTotal: &total,
	}
}

// RunManager executes agent runs in the background and tracks them in memory.
// The result file under runs/ is written before a run is marked terminal.
type RunManager struct {
	runs      map[string]*Run
	mu        sync.RWMutex
	wg        sync.WaitGroup
	store     *storage.Store
	runner    agent.Runner
	collector *metrics.Collector
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewRunManager creates a run manager that executes runs with runner.
func NewRunManager(store *storage.Store, runner agent.Runner, collector *metrics.Collector, logger *slog.Logger) *RunManager {
	return &RunManager{
		runs:      make(map[string]*Run),
		store:     store,
		runner:    runner,
		collector: collector,
		logger:    logger,
		tracer:    otel.Tracer("github.com/raphaelgruber/shadowops/internal/service"),
	}
}

// Start registers the run and launches it. The run is visible to Get
// before Start returns. ctx only carries trace data; cancelling it does not
// stop the run.
func (m *RunManager) Start(ctx context.Context, sessionID string, in agent.RunInput) *Run {
	run := &Run{
		ID:         in.RunID,
		SessionID:  sessionID,
		AgentID:    in.Spec.AgentID,
		Status:     models.StatusRunning,
		StepsTotal: len(agent.OrderedSteps(in.Spec)),
		StartedAt:  time.Now(),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	m.collector.RunStarted()
	m.wg.Add(1)
	go m.execute(context.WithoutCancel(ctx), run, in)

	m.logger.Info("run started", "run_id", run.ID, "session_id", sessionID, "agent_id", run.AgentID)
	return run
}

// Get returns a tracked run or nil.
func (m *RunManager) Get(id string) *Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[id]
}

// Wait blocks until all started runs have finished or ctx is done.
func (m *RunManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *RunManager) execute(ctx context.Context, run *Run, in agent.RunInput) {
	defer m.wg.Done()
	defer m.collector.RunFinished()

	ctx, span := m.tracer.Start(ctx, "agent.Run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("session.id", run.SessionID),
	))
	defer span.End()

	in.Progress = func(done, total int) {
		run.mu.Lock()
		run.StepsDone = done
		run.StepsTotal = total
		run.mu.Unlock()
	}

	start := time.Now()
	result, err := m.runSafely(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.collector.RecordFailure(metrics.OpAgentRun)
	} else {
		m.collector.RecordTiming(metrics.OpAgentRun, time.Since(start))
	}
	m.finish(run, result, err)
}

// runSafely converts a runner panic into an error.
func (m *RunManager) runSafely(ctx context.Context, in agent.RunInput) (result models.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("run goroutine panicked", "run_id", in.RunID, "panic", r)
			err = fmt.Errorf("internal panic: %v", r)
		}
	}()
	return m.runner.Run(ctx, in)
}

func (m *RunManager) finish(run *Run, result models.ExecutionResult, err error) {
	result.RunID = run.ID
	if result.RunLog == nil {
		result.RunLog = []string{}
	}
	if err != nil {
		result.Status = models.StatusFailed
		result.RunLog = append(result.RunLog, "Error: "+err.Error())
	} else if !result.Terminal() {
		result.Status = models.StatusCompleted
	}

	if perr := m.store.Put(storage.KindRun, run.ID, result); perr != nil {
		m.logger.Error("failed to persist run result", "run_id", run.ID, "error", perr)
	}

	run.mu.Lock()
	run.Status = result.Status
	run.Result = &result
	run.mu.Unlock()

	if err != nil {
		m.logger.Error("run failed", "run_id", run.ID, "error", err)
		return
	}
	m.logger.Info("run completed", "run_id", run.ID, "status", result.Status,
		"duration_ms", time.Since(run.StartedAt).Milliseconds())
}

// loadRunResult reads a persisted result, mapping a missing file to
// ErrRunNotFound.
func loadRunResult(store *storage.Store, runID string) (models.ExecutionResult, error) {
	var result models.ExecutionResult
	if err := store.Get(storage.KindRun, runID, &result); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.ExecutionResult{}, ErrRunNotFound
		}
		return models.ExecutionResult{}, err
	}
	return result, nil
}
