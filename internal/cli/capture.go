package cli

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) captureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture <file>",
		Short: "Upload a recorded capture session",
		Long: `Upload a capture session from a JSON or YAML file.

Examples:
  shadowops capture demo/sample_logs.json
  shadowops capture session.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := loadSessionFile(args[0])
			if err != nil {
				return err
			}
			resp, err := a.client.StoreSession(cmd.Context(), session)
			if err != nil {
				return fmt.Errorf("store session: %w", err)
			}
			fmt.Fprintf(a.out, "Stored session %s (%d steps)\n", resp.SessionID, len(session.Steps))
			return nil
		},
	}
}

func (a *app) sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <id>",
		Short: "Show a stored capture session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}
			return a.printJSON(session)
		},
	}
}

func (a *app) receiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <image>",
		Short: "Upload a receipt image and infer its workflow",
		Long: `Upload a receipt image (jpeg, png, gif or webp, max 10MB). The server
extracts the expense fields, records a capture session and infers a workflow.

Examples:
  shadowops receipt ~/Downloads/lunch.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read receipt: %w", err)
			}
			res, err := a.client.UploadReceipt(cmd.Context(), args[0], detectMediaType(args[0], data), data)
			if err != nil {
				return fmt.Errorf("upload receipt: %w", err)
			}

			fmt.Fprintf(a.out, "Session: %s\n", res.SessionID)
			f := res.Extracted
			fmt.Fprintf(a.out, "  Amount:     %s\n", orDash(f.Amount))
			fmt.Fprintf(a.out, "  Currency:   %s\n", orDash(f.Currency))
			fmt.Fprintf(a.out, "  Merchant:   %s\n", orDash(f.Merchant))
			fmt.Fprintf(a.out, "  Date:       %s\n", orDash(f.Date))
			fmt.Fprintf(a.out, "  Category:   %s\n", orDash(f.Category))
			fmt.Fprintf(a.out, "  Confidence: %.2f\n", f.Confidence)
			if res.WorkflowInferred {
				fmt.Fprintf(a.out, "Workflow inferred. Review with 'shadowops workflows %s'.\n", res.SessionID)
			}
			return nil
		},
	}
}

// loadSessionFile reads a capture session from JSON or YAML. YAML is
// converted through JSON so both formats share the same field names.
func loadSessionFile(path string) (models.CaptureSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.CaptureSession{}, fmt.Errorf("read session file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return models.CaptureSession{}, fmt.Errorf("parse yaml: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return models.CaptureSession{}, fmt.Errorf("convert yaml: %w", err)
		}
	}

	var session models.CaptureSession
	if err := json.Unmarshal(data, &session); err != nil {
		return models.CaptureSession{}, fmt.Errorf("parse session: %w", err)
	}
	return session, nil
}

func detectMediaType(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return http.DetectContentType(data)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
