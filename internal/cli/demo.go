package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/spf13/cobra"
)

const (
	healthRetries = 3
	healthDelay   = time.Second
)

func (a *app) demoCmd() *cobra.Command {
	var (
		params   []string
		simulate bool
	)
	cmd := &cobra.Command{
		Use:   "demo <session-file>",
		Short: "Run the full flow: capture, infer, approve, generate, run",
		Long: `Run the end-to-end demo against a server. Parameters default to the
examples in the inferred workflow; --param overrides them.

Examples:
  shadowops demo demo/sample_logs.json
  shadowops demo session.yaml --param amount=99.00`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseParams(params)
			if err != nil {
				return err
			}
			session, err := loadSessionFile(args[0])
			if err != nil {
				return err
			}
			return a.runDemo(cmd.Context(), session, overrides, simulate)
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter override as key=value (repeatable)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "simulate a UI change (mock run)")
	return cmd
}

func (a *app) runDemo(ctx context.Context, session models.CaptureSession, overrides map[string]any, simulate bool) error {
	fmt.Fprintf(a.out, "Server: %s\n", a.client.Endpoint())

	fmt.Fprintln(a.out, "0) Checking server health...")
	if err := a.waitForHealth(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "   ok")

	fmt.Fprintln(a.out, "1) Posting capture session...")
	if _, err := a.client.StoreSession(ctx, session); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	fmt.Fprintf(a.out, "   session_id: %s\n", session.SessionID)

	fmt.Fprintln(a.out, "2) Inferring workflow...")
	wf, err := a.client.Infer(ctx, session.SessionID)
	if err != nil {
		return fmt.Errorf("infer workflow: %w", err)
	}
	fmt.Fprintf(a.out, "   %s (%d steps)\n", wf.Title, len(wf.Steps))

	fmt.Fprintln(a.out, "3) Approving workflow...")
	if err := a.client.Approve(ctx, session.SessionID); err != nil {
		return fmt.Errorf("approve workflow: %w", err)
	}
	fmt.Fprintln(a.out, "   done")

	fmt.Fprintln(a.out, "4) Generating agent...")
	spec, err := a.client.GenerateAgent(ctx, session.SessionID)
	if err != nil {
		return fmt.Errorf("generate agent: %w", err)
	}
	fmt.Fprintf(a.out, "   agent_id: %s\n", spec.AgentID)

	fmt.Fprintln(a.out, "5) Running agent...")
	result, err := a.client.RunAgent(ctx, session.SessionID, models.ExecutionRequest{
		Parameters:       demoParameters(wf, overrides),
		SimulateUIChange: simulate,
	})
	if err != nil {
		return fmt.Errorf("run agent: %w", err)
	}
	if result.Status == models.StatusRunning {
		state, err := a.waitForRun(ctx, session.SessionID, result.RunID)
		if err != nil {
			return err
		}
		if state == nil {
			return nil
		}
		result = &state.ExecutionResult
	}
	fmt.Fprintf(a.out, "   %s\n", result.Status)

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "--- Demo complete ---")
	confirmation := "-"
	if result.ConfirmationID != nil {
		confirmation = *result.ConfirmationID
	}
	fmt.Fprintf(a.out, "  confirmation_id: %s\n", confirmation)
	fmt.Fprintf(a.out, "  run_id:          %s\n", result.RunID)
	if result.Status == models.StatusFailed {
		return fmt.Errorf("run %s failed", result.RunID)
	}
	return nil
}

func (a *app) waitForHealth(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= healthRetries; attempt++ {
		if _, err = a.client.Health(ctx); err == nil {
			return nil
		}
		if attempt < healthRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(healthDelay):
			}
		}
	}
	return fmt.Errorf("server not ready after %d attempts: %w", healthRetries, err)
}

// demoParameters fills each workflow parameter from its example, then
// applies overrides.
func demoParameters(wf *models.InferredWorkflow, overrides map[string]any) map[string]any {
	params := make(map[string]any, len(wf.Parameters)+len(overrides))
	for _, p := range wf.Parameters {
		if p.Example != nil {
			params[p.Name] = *p.Example
		}
	}
	for k, v := range overrides {
		params[k] = v
	}
	return params
}
