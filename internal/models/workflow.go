package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// WorkflowParameter is a named input the workflow accepts at execution.
type WorkflowParameter struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Required bool    `json:"required"`
	Example  *string `json:"example,omitempty"`
}

// UnmarshalJSON defaults Required to true and accepts scalar examples of any
// JSON type, since model output is not always careful about quoting.
func (p *WorkflowParameter) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Required *bool  `json:"required"`
		Example  any    `json:"example"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Name = raw.Name
	p.Type = raw.Type
	p.Required = raw.Required == nil || *raw.Required
	p.Example = nil

	switch ex := raw.Example.(type) {
	case nil:
	case string:
		p.Example = &ex
	case float64:
		s := strconv.FormatFloat(ex, 'f', -1, 64)
		p.Example = &s
	case bool:
		s := strconv.FormatBool(ex)
		p.Example = &s
	default:
		return fmt.Errorf("parameter %q: example must be a scalar", raw.Name)
	}
	return nil
}

// WorkflowStep is one agent-executable step.
type WorkflowStep struct {
	Order          int      `json:"order"`
	Intent         string   `json:"intent"`
	Instruction    string   `json:"instruction"`
	SelectorHint   *string  `json:"selector_hint,omitempty"`
	UsesParameters []string `json:"uses_parameters"`
}

// InferredWorkflow is the structured plan produced from a capture session.
type InferredWorkflow struct {
	SessionID        string              `json:"session_id"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Parameters       []WorkflowParameter `json:"parameters"`
	Steps            []WorkflowStep      `json:"steps"`
	RiskLevel        string              `json:"risk_level"`
	TimeSavedMinutes int                 `json:"time_saved_minutes"`
}

// Normalize replaces nil slices with empty ones so records serialize as [].
func (w *InferredWorkflow) Normalize() {
	if w.Parameters == nil {
		w.Parameters = []WorkflowParameter{}
	}
	for i := range w.Steps {
		if w.Steps[i].UsesParameters == nil {
			w.Steps[i].UsesParameters = []string{}
		}
	}
	for i := range w.Parameters {
		if w.Parameters[i].Type == "" {
			w.Parameters[i].Type = "string"
		}
	}
}

// Validate checks the workflow against the shape the rest of the system relies on.
func (w InferredWorkflow) Validate() error {
	if w.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if w.Description == "" {
		return &ValidationError{Field: "description", Message: "description is required"}
	}
	if w.RiskLevel == "" {
		return &ValidationError{Field: "risk_level", Message: "risk_level is required"}
	}
	if w.TimeSavedMinutes < 0 {
		return &ValidationError{Field: "time_saved_minutes", Message: "must not be negative"}
	}
	if len(w.Steps) == 0 {
		return &ValidationError{Field: "steps", Message: "at least one step is required"}
	}
	for i, s := range w.Steps {
		if s.Intent == "" {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].intent", i), Message: "intent is required"}
		}
		if s.Instruction == "" {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].instruction", i), Message: "instruction is required"}
		}
	}
	seen := make(map[string]bool, len(w.Parameters))
	for i, p := range w.Parameters {
		if p.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("parameters[%d].name", i), Message: "name is required"}
		}
		if seen[p.Name] {
			return &ValidationError{Field: fmt.Sprintf("parameters[%d].name", i), Message: fmt.Sprintf("duplicate parameter %q", p.Name)}
		}
		seen[p.Name] = true
	}
	return nil
}

// WorkflowSummary is the list view of a stored workflow.
type WorkflowSummary struct {
	SessionID        string `json:"session_id"`
	Title            string `json:"title"`
	RiskLevel        string `json:"risk_level"`
	TimeSavedMinutes int    `json:"time_saved_minutes"`
}

// Summary returns the list view of w.
func (w InferredWorkflow) Summary() WorkflowSummary {
	return WorkflowSummary{
		SessionID:        w.SessionID,
		Title:            w.Title,
		RiskLevel:        w.RiskLevel,
		TimeSavedMinutes: w.TimeSavedMinutes,
	}
}

// Approval marks a workflow as reviewed by a human.
type Approval struct {
	Approved  bool   `json:"approved"`
	Timestamp string `json:"timestamp"`
}
