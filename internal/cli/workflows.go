package cli

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/spf13/cobra"
)

func (a *app) inferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infer <session-id>",
		Short: "Infer a workflow from a stored capture session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := a.client.Infer(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("infer workflow: %w", err)
			}
			a.printWorkflow(wf)
			return nil
		},
	}
}

func (a *app) workflowsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "workflows [session-id]",
		Short: "List workflows or show one",
		Long: `List all inferred workflows or show a specific one.

Examples:
  shadowops workflows            # List all workflows
  shadowops workflows cap_001    # Show the workflow for cap_001`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				wf, err := a.client.GetWorkflow(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get workflow: %w", err)
				}
				if asJSON {
					return a.printJSON(wf)
				}
				a.printWorkflow(wf)
				return nil
			}

			summaries, err := a.client.ListWorkflows(cmd.Context())
			if err != nil {
				return fmt.Errorf("list workflows: %w", err)
			}
			if asJSON {
				return a.printJSON(summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(a.out, "No workflows found")
				return nil
			}

			fmt.Fprintf(a.out, "%-28s %-6s %-6s %s\n", "SESSION", "RISK", "SAVED", "TITLE")
			fmt.Fprintln(a.out, strings.Repeat("-", 72))
			for _, s := range summaries {
				fmt.Fprintf(a.out, "%-28s %-6s %-6s %s\n", s.SessionID, s.RiskLevel, fmt.Sprintf("%dm", s.TimeSavedMinutes), s.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func (a *app) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <session-id>",
		Short: "Approve an inferred workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Approve(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("approve workflow: %w", err)
			}
			fmt.Fprintf(a.out, "Approved %s\n", args[0])
			return nil
		},
	}
}

func (a *app) printWorkflow(wf *models.InferredWorkflow) {
	fmt.Fprintf(a.out, "%s\n", wf.Title)
	fmt.Fprintf(a.out, "  Session: %s\n", wf.SessionID)
	fmt.Fprintf(a.out, "  Risk: %s, saves ~%d min\n", wf.RiskLevel, wf.TimeSavedMinutes)
	fmt.Fprintf(a.out, "  %s\n", wf.Description)

	if len(wf.Parameters) > 0 {
		fmt.Fprintln(a.out, "\nParameters:")
		for _, p := range wf.Parameters {
			req := ""
			if p.Required {
				req = " (required)"
			}
			example := ""
			if p.Example != nil {
				example = fmt.Sprintf(" e.g. %s", *p.Example)
			}
			fmt.Fprintf(a.out, "  - %s: %s%s%s\n", p.Name, p.Type, req, example)
		}
	}

	fmt.Fprintln(a.out, "\nSteps:")
	for _, s := range wf.Steps {
		fmt.Fprintf(a.out, "  %d. [%s] %s\n", s.Order, s.Intent, s.Instruction)
	}
}
