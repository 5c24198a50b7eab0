package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/spf13/cobra"
)

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health and integration modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			fmt.Fprintf(a.out, "Server %s at %s\n", h.Status, a.client.Endpoint())
			fmt.Fprintf(a.out, "  Version:    %s\n", h.Version)
			fmt.Fprintf(a.out, "  Inference:  %s\n", h.Mode)
			fmt.Fprintf(a.out, "  Automation: %s\n", h.ActMode)
			return nil
		},
	}
}

func (a *app) schemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas [name]",
		Short: "Print example payloads for capture sessions and workflows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemas, err := a.client.Schemas(cmd.Context())
			if err != nil {
				return fmt.Errorf("get schemas: %w", err)
			}
			if len(args) == 0 {
				return a.printJSON(schemas)
			}
			example, ok := schemas[args[0]]
			if !ok {
				return fmt.Errorf("unknown schema %q (have %s)", args[0], strings.Join(slices.Sorted(maps.Keys(schemas)), ", "))
			}
			return a.printJSON(example)
		},
	}
}

func (a *app) usageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show server runtime statistics",
		Long: `Show in-memory server statistics: model calls and token usage,
inference and receipt extraction timings, agent runs and browser steps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.client.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("get server stats: %w", err)
			}
			printServerStats(a.out, stats)
			return nil
		},
	}
}

// printServerStats displays server runtime statistics.
func printServerStats(w io.Writer, stats *metrics.Snapshot) {
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %s\n", (time.Duration(stats.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(w, "Runs in flight: %d\n", stats.RunsInFlight)

	sections := []struct {
		title  string
		op     *metrics.OperationSnapshot
		tokens bool
	}{
		{"LLM Generate", stats.LLMGenerate, true},
		{"Inference", stats.Inference, false},
		{"Receipt Extraction", stats.ReceiptExtraction, false},
		{"Agent Runs", stats.AgentRun, false},
		{"Browser Steps", stats.BrowserStep, false},
	}
	for _, s := range sections {
		if s.op == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", s.title)
		printOpStats(w, s.op)
		if s.tokens {
			printTokenStats(w, s.op)
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token usage if the operation recorded any.
func printTokenStats(w io.Writer, op *metrics.OperationSnapshot) {
	if op.Tokens == nil {
		return
	}
	for _, r := range []struct {
		label string
		rng   metrics.TokenRange
	}{
		{"Tokens In: ", op.Tokens.Input},
		{"Tokens Out:", op.Tokens.Output},
	} {
		fmt.Fprintf(w, "  %s %d total, avg %.0f, min %d, max %d\n",
			r.label, r.rng.Total, r.rng.Avg, r.rng.Min, r.rng.Max)
	}
}
