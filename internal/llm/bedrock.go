package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/raphaelgruber/shadowops/internal/metrics"
)

// bedrockMaxAttempts is the initial call plus one retry.
const bedrockMaxAttempts = 2

// BedrockConfig configures the Bedrock Converse client.
type BedrockConfig struct {
	Region    string
	ModelID   string
	Timeout   time.Duration
	MaxTokens int
}

// converser is the subset of the Bedrock runtime client we call.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockModel calls a Bedrock model (Nova 2 Lite by default) through the Converse API.
type BedrockModel struct {
	client    converser
	modelID   string
	maxTokens int
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewBedrockModel loads the default AWS credential chain for cfg.Region.
func NewBedrockModel(ctx context.Context, cfg BedrockConfig, collector *metrics.Collector, logger *slog.Logger) (*BedrockModel, error) {
	awsCfg, err := loadBedrockAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &BedrockModel{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		modelID:   cfg.ModelID,
		maxTokens: cfg.MaxTokens,
		collector: collector,
		logger:    logger,
	}, nil
}

func loadBedrockAWSConfig(ctx context.Context, cfg BedrockConfig) (aws.Config, error) {
	httpClient := awshttp.NewBuildableClient().WithTimeout(cfg.Timeout)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithRetryMaxAttempts(bedrockMaxAttempts),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// Generate implements Model.
func (m *BedrockModel) Generate(ctx context.Context, prompt string) (string, error) {
	return m.converse(ctx, []types.ContentBlock{
		&types.ContentBlockMemberText{Value: prompt},
	})
}

// GenerateWithImage implements Model.
func (m *BedrockModel) GenerateWithImage(ctx context.Context, prompt string, image []byte, mediaType string) (string, error) {
	format, err := imageFormat(mediaType)
	if err != nil {
		return "", err
	}
	return m.converse(ctx, []types.ContentBlock{
		&types.ContentBlockMemberImage{Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: image},
		}},
		&types.ContentBlockMemberText{Value: prompt},
	})
}

// Name implements Model.
func (m *BedrockModel) Name() string {
	return m.modelID
}

func (m *BedrockModel) converse(ctx context.Context, content []types.ContentBlock) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(m.modelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: content,
		}},
	}
	if m.maxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(m.maxTokens)),
			Temperature: aws.Float32(0),
		}
	}

	m.logger.Info("model invoke start", "model", m.modelID)
	start := time.Now()
	output, err := m.client.Converse(ctx, input)
	duration := time.Since(start)
	if err != nil {
		m.collector.RecordFailure(metrics.OpLLMGenerate)
		m.logger.Warn("model invoke failed", "model", m.modelID, "duration_ms", duration.Milliseconds(), "error", err)
		return "", fmt.Errorf("converse: %w", wrapFatalError(err))
	}

	var in, out int64
	if output.Usage != nil {
		in = int64(aws.ToInt32(output.Usage.InputTokens))
		out = int64(aws.ToInt32(output.Usage.OutputTokens))
	}
	m.collector.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out)

	text := outputText(output)
	logOutput(m.logger, m.modelID, text, duration)
	return text, nil
}

// outputText concatenates the text blocks of the reply. Missing or non-text
// output yields "".
func outputText(output *bedrockruntime.ConverseOutput) string {
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(t.Value)
		}
	}
	return sb.String()
}

func imageFormat(mediaType string) (types.ImageFormat, error) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, nil
	case "image/png":
		return types.ImageFormatPng, nil
	case "image/gif":
		return types.ImageFormatGif, nil
	case "image/webp":
		return types.ImageFormatWebp, nil
	default:
		return "", fmt.Errorf("unsupported image media type: %s", mediaType)
	}
}
