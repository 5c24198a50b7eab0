package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/raphaelgruber/shadowops/internal/models"
)

// MockRunner produces a deterministic run log without touching a browser.
type MockRunner struct {
	logger *slog.Logger
}

// NewMockRunner creates a MockRunner.
func NewMockRunner(logger *slog.Logger) *MockRunner {
	return &MockRunner{logger: logger}
}

// Run implements Runner.
func (r *MockRunner) Run(ctx context.Context, in RunInput) (models.ExecutionResult, error) {
	mode := "execute"
	if in.Simulate {
		mode = "simulate"
	}

	steps := OrderedSteps(in.Spec)
	log := []string{
		fmt.Sprintf("[%s] Starting agent: %s", mode, in.Spec.Name),
		fmt.Sprintf("[%s] Run ID: %s", mode, in.RunID),
		fmt.Sprintf("[%s] Parameters: %s", mode, formatParameters(in.Parameters)),
	}
	for i, s := range steps {
		log = append(log, stepLine(mode, i+1, s))
		in.report(i+1, len(steps))
	}
	log = append(log, fmt.Sprintf("[%s] All steps completed.", mode))

	confirmation := MockConfirmationID(in.RunID)
	log = append(log, fmt.Sprintf("[%s] Confirmation ID: %s", mode, confirmation))

	r.logger.Info("agent run completed",
		"run_id", in.RunID,
		"agent_id", in.Spec.AgentID,
		"confirmation_id", confirmation,
		"mode", mode)

	return models.ExecutionResult{
		Status:         models.StatusCompleted,
		ConfirmationID: &confirmation,
		RunID:          in.RunID,
		RunLog:         log,
	}, nil
}

// MockConfirmationID derives an EXP-2026-NNNNNN id from the run id.
func MockConfirmationID(runID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return fmt.Sprintf("EXP-2026-%06d", h.Sum32()%1000000)
}
