package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/shadowops/internal/client"
	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/spf13/cobra"
)

// Polling cadence for --wait, matching the dashboard.
const (
	pollInterval = 3 * time.Second
	maxRunWait   = 8 * time.Minute
)

func (a *app) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <session-id>",
		Short: "Generate an agent from an approved workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := a.client.GenerateAgent(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("generate agent: %w", err)
			}
			fmt.Fprintf(a.out, "Generated agent %s (%d steps)\n", spec.AgentID, len(spec.Steps))
			return nil
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	var (
		params   []string
		simulate bool
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "run <session-id>",
		Short: "Run the agent for a session",
		Long: `Run the generated agent. Browser runs start in the background; use
--wait to poll until they finish.

Examples:
  shadowops run cap_001 --param amount=125.50 --param category=Travel
  shadowops run cap_001 --simulate
  shadowops run cap_001 --param amount=42 --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			result, err := a.client.RunAgent(cmd.Context(), args[0], models.ExecutionRequest{
				Parameters:       parsed,
				SimulateUIChange: simulate,
			})
			if err != nil {
				return fmt.Errorf("run agent: %w", err)
			}

			if result.Status == models.StatusRunning {
				if !wait {
					fmt.Fprintf(a.out, "Run %s started. Check with 'shadowops status %s %s'.\n", result.RunID, args[0], result.RunID)
					return nil
				}
				state, err := a.waitForRun(cmd.Context(), args[0], result.RunID)
				if err != nil {
					return err
				}
				if state == nil {
					return nil
				}
				result = &state.ExecutionResult
			}
			return a.printResult(result)
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "simulate a UI change (mock run)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for a background run to finish")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id> <run-id>",
		Short: "Show the state of a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.client.RunStatus(cmd.Context(), args[0], args[1])
			if client.IsNotFound(err) {
				return fmt.Errorf("run %s not found; it may not have started yet", args[1])
			}
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if state.Status == models.StatusRunning {
				fmt.Fprintf(a.out, "Run %s: running", state.RunID)
				if state.StepsDone != nil && state.StepsTotal != nil {
					fmt.Fprintf(a.out, " (%d/%d steps)", *state.StepsDone, *state.StepsTotal)
				}
				fmt.Fprintln(a.out)
				return nil
			}
			return a.printResult(&state.ExecutionResult)
		},
	}
}

// waitForRun polls until the run is terminal, with a progress bar on a
// terminal and plain progress lines otherwise.
func (a *app) waitForRun(ctx context.Context, sessionID, runID string) (*models.RunState, error) {
	if a.interactive() {
		return RunProgress(a.client, sessionID, runID)
	}

	last := ""
	state, err := a.client.WaitRun(ctx, sessionID, runID, a.pollEvery, maxRunWait, func(s *models.RunState) {
		if s.StepsDone == nil || s.StepsTotal == nil {
			return
		}
		line := fmt.Sprintf("  %d/%d steps", *s.StepsDone, *s.StepsTotal)
		if line != last {
			fmt.Fprintln(a.out, line)
			last = line
		}
	})
	if errors.Is(err, client.ErrRunTimeout) {
		return nil, fmt.Errorf("run %s still running after %s; check later with 'shadowops status %s %s'", runID, maxRunWait, sessionID, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("poll run: %w", err)
	}
	return state, nil
}

func (a *app) printResult(r *models.ExecutionResult) error {
	fmt.Fprintf(a.out, "Run %s: %s\n", r.RunID, r.Status)
	if r.ConfirmationID != nil {
		fmt.Fprintf(a.out, "Confirmation ID: %s\n", *r.ConfirmationID)
	}
	if len(r.RunLog) > 0 {
		fmt.Fprintln(a.out, "\nLog:")
		for _, line := range r.RunLog {
			fmt.Fprintf(a.out, "  %s\n", line)
		}
	}
	if r.Status == models.StatusFailed {
		return fmt.Errorf("run %s failed", r.RunID)
	}
	return nil
}

// parseParams turns key=value pairs into a parameter map. Values stay
// strings; the server coerces them by parameter type.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
