// Package llm provides text and multimodal generation over Bedrock or langchaingo
// providers, plus recovery of JSON objects from free-form model output.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/shadowops/internal/config"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model generates text from a prompt, optionally with an attached image.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithImage(ctx context.Context, prompt string, image []byte, mediaType string) (string, error)
	Name() string
}

// NewModel creates the model selected by cfg.LLMProvider.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector, logger *slog.Logger) (Model, error) {
	if cfg.LLMProvider == config.ProviderBedrock {
		return NewBedrockModel(ctx, BedrockConfig{
			Region:    cfg.AWSRegion,
			ModelID:   cfg.LLMModel,
			Timeout:   cfg.LLMTimeout,
			MaxTokens: cfg.LLMMaxTokens,
		}, collector, logger)
	}

	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &LangChainModel{
		llm:       model,
		modelName: cfg.LLMModel,
		timeout:   cfg.LLMTimeout,
		maxTokens: cfg.LLMMaxTokens,
		collector: collector,
		logger:    logger,
	}, nil
}

// LangChainModel wraps a langchaingo model.
type LangChainModel struct {
	llm       llms.Model
	modelName string
	timeout   time.Duration
	maxTokens int
	collector *metrics.Collector
	logger    *slog.Logger
}

// Generate implements Model.
func (m *LangChainModel) Generate(ctx context.Context, prompt string) (string, error) {
	return m.generate(ctx, []llms.ContentPart{llms.TextPart(prompt)})
}

// GenerateWithImage implements Model.
func (m *LangChainModel) GenerateWithImage(ctx context.Context, prompt string, image []byte, mediaType string) (string, error) {
	return m.generate(ctx, []llms.ContentPart{
		llms.BinaryPart(mediaType, image),
		llms.TextPart(prompt),
	})
}

// Name implements Model.
func (m *LangChainModel) Name() string {
	return m.modelName
}

func (m *LangChainModel) generate(ctx context.Context, parts []llms.ContentPart) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: parts}}
	opts := []llms.CallOption{llms.WithTemperature(0)}
	if m.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(m.maxTokens))
	}

	m.logger.Info("model invoke start", "model", m.modelName)
	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages, opts...)
	duration := time.Since(start)
	if err != nil {
		m.collector.RecordFailure(metrics.OpLLMGenerate)
		m.logger.Warn("model invoke failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return "", fmt.Errorf("generate: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		m.collector.RecordFailure(metrics.OpLLMGenerate)
		return "", fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	in := tokenCount(choice.GenerationInfo, "PromptTokens", "InputTokens", "prompt_eval_count")
	out := tokenCount(choice.GenerationInfo, "CompletionTokens", "OutputTokens", "eval_count")
	m.collector.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out)

	logOutput(m.logger, m.modelName, choice.Content, duration)
	return choice.Content, nil
}

// tokenCount reads the first present usage key. Providers report usage under
// different names and types.
func tokenCount(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

func logOutput(logger *slog.Logger, model, text string, duration time.Duration) {
	if strings.TrimSpace(text) == "" {
		logger.Warn("model returned empty output", "model", model, "duration_ms", duration.Milliseconds())
		return
	}
	logger.Info("model invoke success", "model", model, "output_length", len(text), "duration_ms", duration.Milliseconds())
}
