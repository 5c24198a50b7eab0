package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/shadowops/internal/inference"
	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/raphaelgruber/shadowops/internal/storage"
)

// WorkflowService infers, lists and approves workflows.
type WorkflowService struct {
	store     *storage.Store
	inference *inference.Service
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorkflowService creates a workflow service.
func NewWorkflowService(store *storage.Store, inf *inference.Service, logger *slog.Logger) *WorkflowService {
	return &WorkflowService{store: store, inference: inf, logger: logger, now: time.Now}
}

// Infer runs inference on a stored session and stores the result,
// overwriting any earlier workflow for the session.
func (s *WorkflowService) Infer(ctx context.Context, sessionID string) (models.InferredWorkflow, error) {
	session, err := loadSession(s.store, sessionID)
	if err != nil {
		return models.InferredWorkflow{}, err
	}
	s.logger.Info("inference session loaded", "session_id", sessionID, "steps", len(session.Steps))

	wf, err := s.inference.Infer(ctx, session)
	if err != nil {
		return models.InferredWorkflow{}, err
	}
	if err := s.store.Put(storage.KindWorkflow, sessionID, wf); err != nil {
		return models.InferredWorkflow{}, fmt.Errorf("store workflow: %w", err)
	}
	s.logger.Info("workflow stored", "session_id", sessionID)
	return wf, nil
}

// List returns summaries of all stored workflows sorted by session id.
// Unreadable records are skipped.
func (s *WorkflowService) List() ([]models.WorkflowSummary, error) {
	ids, err := s.store.IDs(storage.KindWorkflow)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	summaries := make([]models.WorkflowSummary, 0, len(ids))
	for _, id := range ids {
		var wf models.InferredWorkflow
		if err := s.store.Get(storage.KindWorkflow, id, &wf); err != nil {
			s.logger.Warn("skipping unreadable workflow", "session_id", id, "error", err)
			continue
		}
		sum := wf.Summary()
		sum.SessionID = id
		summaries = append(summaries, sum)
	}
	s.logger.Debug("workflows listed", "count", len(summaries))
	return summaries, nil
}

// Get loads one workflow.
func (s *WorkflowService) Get(sessionID string) (models.InferredWorkflow, error) {
	return loadWorkflow(s.store, sessionID)
}

// Approve records a human approval for an existing workflow.
func (s *WorkflowService) Approve(sessionID string) (models.Approval, error) {
	exists, err := s.store.Exists(storage.KindWorkflow, sessionID)
	if err != nil {
		return models.Approval{}, err
	}
	if !exists {
		return models.Approval{}, ErrWorkflowNotFound
	}

	approval := models.Approval{
		Approved:  true,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Put(storage.KindApproval, sessionID, approval); err != nil {
		return models.Approval{}, fmt.Errorf("store approval: %w", err)
	}
	s.logger.Info("workflow approved", "session_id", sessionID)
	return approval, nil
}

// IsApproved reports whether an approval record exists for the session.
func (s *WorkflowService) IsApproved(sessionID string) (bool, error) {
	return s.store.Exists(storage.KindApproval, sessionID)
}

func loadWorkflow(store *storage.Store, id string) (models.InferredWorkflow, error) {
	var wf models.InferredWorkflow
	if err := store.Get(storage.KindWorkflow, id, &wf); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.InferredWorkflow{}, ErrWorkflowNotFound
		}
		return models.InferredWorkflow{}, err
	}
	return wf, nil
}
