package models

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ActAgentSpec is the executable form of an approved workflow.
type ActAgentSpec struct {
	AgentID         string           `json:"agent_id"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	ParameterSchema map[string]any   `json:"parameter_schema"`
	Steps           []map[string]any `json:"steps"`
}

// ExecutionRequest asks for one run of an agent.
type ExecutionRequest struct {
	Parameters       map[string]any `json:"parameters"`
	SimulateUIChange bool           `json:"simulate_ui_change"`
}

// ExecutionResult is the terminal (or immediate) outcome of a run.
type ExecutionResult struct {
	Status         string   `json:"status"`
	ConfirmationID *string  `json:"confirmation_id"`
	RunID          string   `json:"run_id"`
	RunLog         []string `json:"run_log"`
}

// Terminal reports whether the run has finished.
func (r ExecutionResult) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// RunState is the poll response. Progress fields are only set while running.
type RunState struct {
	ExecutionResult
	StepsDone  *int `json:"steps_done,omitempty"`
	StepsTotal *int `json:"steps_total,omitempty"`
}
