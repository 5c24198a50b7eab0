// Package cli provides the command-line interface for shadowops.
package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/raphaelgruber/shadowops/internal/client"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// app carries per-invocation state shared by subcommands.
type app struct {
	serverURL string
	client    *client.Client
	out       io.Writer
	// interactive enables the progress UI for --wait.
	interactive func() bool
	pollEvery   time.Duration
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{interactive: stdoutIsTerminal, pollEvery: pollInterval}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shadowops",
		Short: "Operate the Shadow Ops expense workflow server",
		Long: `shadowops talks to a running Shadow Ops server.

Upload a recorded capture session or a receipt image, infer the workflow,
approve it, generate an agent and run it.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.client = client.New(a.serverURL)
			a.out = cmd.OutOrStdout()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.serverURL, "server", "",
		"API base URL (default $SHADOWOPS_SERVER_URL or "+client.DefaultEndpoint+")")

	root.AddCommand(
		a.healthCmd(),
		a.captureCmd(),
		a.sessionCmd(),
		a.receiptCmd(),
		a.inferCmd(),
		a.workflowsCmd(),
		a.approveCmd(),
		a.generateCmd(),
		a.runCmd(),
		a.statusCmd(),
		a.usageCmd(),
		a.schemasCmd(),
		a.demoCmd(),
	)
	return root
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
