// Package agent converts approved workflows into executable agent specs and
// runs them, either as a deterministic mock or against a real browser.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/raphaelgruber/shadowops/internal/models"
)

// BuildSpec converts an inferred workflow into an agent spec. Only the
// agent id suffix is random.
func BuildSpec(wf models.InferredWorkflow) (models.ActAgentSpec, error) {
	steps, err := stepMaps(wf.Steps)
	if err != nil {
		return models.ActAgentSpec{}, err
	}
	return models.ActAgentSpec{
		AgentID:         fmt.Sprintf("agent_%s_%s", wf.SessionID, shortID(8)),
		Name:            wf.Title,
		Description:     wf.Description,
		ParameterSchema: ParameterSchema(wf.Parameters),
		Steps:           steps,
	}, nil
}

// ParameterSchema builds the JSON Schema object describing the workflow inputs.
func ParameterSchema(params []models.WorkflowParameter) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]any, 0, len(params))
	for _, p := range params {
		prop := map[string]any{
			"type":        schemaType(p.Type),
			"description": "Parameter: " + p.Name,
		}
		if strings.EqualFold(p.Type, "date") {
			prop["format"] = "date"
		}
		if p.Example != nil {
			prop["example"] = *p.Example
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// schemaType maps a workflow parameter type to a JSON Schema type.
func schemaType(t string) string {
	switch strings.ToLower(t) {
	case "number", "float", "decimal", "currency":
		return "number"
	case "integer", "int":
		return "integer"
	case "boolean", "bool":
		return "boolean"
	default:
		return "string"
	}
}

func stepMaps(steps []models.WorkflowStep) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(steps))
	for _, s := range steps {
		data, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal step %d: %w", s.Order, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal step %d: %w", s.Order, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
