package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/raphaelgruber/shadowops/internal/models"
)

// RunInput describes one execution of an agent spec.
type RunInput struct {
	RunID      string
	Spec       models.ActAgentSpec
	Parameters map[string]any
	Simulate   bool
	// Progress, if set, is called with the number of finished steps.
	Progress func(done, total int)
}

func (in RunInput) report(done, total int) {
	if in.Progress != nil {
		in.Progress(done, total)
	}
}

// Runner executes agent specs. On error the returned result still carries
// the log written so far.
type Runner interface {
	Run(ctx context.Context, in RunInput) (models.ExecutionResult, error)
}

// NewRunID returns an id of the form run_<12 hex>.
func NewRunID() string {
	return "run_" + shortID(12)
}

// Step is the typed view of one entry in ActAgentSpec.Steps.
type Step struct {
	Order          int
	Intent         string
	Instruction    string
	SelectorHint   string
	UsesParameters []string
}

// OrderedSteps returns the spec steps that carry an "order" key, sorted by it.
func OrderedSteps(spec models.ActAgentSpec) []Step {
	steps := make([]Step, 0, len(spec.Steps))
	for _, m := range spec.Steps {
		order, ok := toInt(m["order"])
		if !ok {
			continue
		}
		s := Step{
			Order:       order,
			Intent:      stringValue(m["intent"], "step"),
			Instruction: stringValue(m["instruction"], ""),
		}
		s.SelectorHint = stringValue(m["selector_hint"], "")
		if uses, ok := m["uses_parameters"].([]any); ok {
			for _, u := range uses {
				if name, ok := u.(string); ok {
					s.UsesParameters = append(s.UsesParameters, name)
				}
			}
		}
		steps = append(steps, s)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func stringValue(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// formatParameters renders parameters for the run log with sorted keys.
func formatParameters(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%q", fmt.Sprint(params[k])))
		}
		parts = append(parts, fmt.Sprintf("%q: %s", k, v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func stepLine(prefix string, i int, s Step) string {
	return fmt.Sprintf("[%s] Step %d: %s – %s", prefix, i, s.Intent, s.Instruction)
}
