package inference

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/raphaelgruber/shadowops/internal/models"
)

//go:embed prompts/inference.txt
var inferencePromptText string

//go:embed prompts/receipt.txt
var receiptPromptText string

var inferenceTemplate = template.Must(template.New("inference").Parse(inferencePromptText))

// strictSuffix is appended to the prompt on the single retry.
const strictSuffix = "\n\nIMPORTANT: Your previous answer could not be used. Respond with ONLY the JSON object. " +
	"No markdown, no code fences, no explanation before or after it."

func buildInferencePrompt(session models.CaptureSession) (string, error) {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	var sb strings.Builder
	err = inferenceTemplate.Execute(&sb, struct {
		SessionID   string
		SessionJSON string
	}{
		SessionID:   session.SessionID,
		SessionJSON: string(data),
	})
	if err != nil {
		return "", fmt.Errorf("render inference prompt: %w", err)
	}
	return sb.String(), nil
}

func receiptPrompt() string {
	return strings.TrimSpace(receiptPromptText)
}
