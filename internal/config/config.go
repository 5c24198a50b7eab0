// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects between the deterministic mock and the external service.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeReal Mode = "real"
)

// Provider names for the inference model.
const (
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Receipt blob backends.
const (
	ReceiptStoreFile = "file"
	ReceiptStoreS3   = "s3"
)

// Config holds all configuration values.
type Config struct {
	// HTTP
	Host  string
	Port  int
	Debug bool

	// Storage
	DataDir       string
	ReceiptStore  string
	ReceiptBucket string
	ReceiptPrefix string
	S3Endpoint    string

	// Inference
	NovaMode        Mode
	LLMProvider     string
	LLMModel        string
	AWSRegion       string
	NovaModelID     string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string
	LLMTimeout      time.Duration
	LLMMaxTokens    int

	// Browser automation
	ActMode        Mode
	ActStartURL    string
	ActHeadless    bool
	ActStepTimeout time.Duration
	ActBrowserBin  string

	// HTTP middleware
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	// Logging
	LogFile   string
	LogLevel  slog.Level
	LogFormat string

	// Tracing
	TracesExporter string
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from environment variables and an optional .env file
// in the working directory. Environment variables win over the file.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read .env: %w", err)
		}
	}
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8000)
	v.SetDefault("DEBUG", false)

	v.SetDefault("SHADOWOPS_DATA_DIR", "demo")
	v.SetDefault("RECEIPT_STORE", ReceiptStoreFile)
	v.SetDefault("RECEIPT_BUCKET", "")
	v.SetDefault("RECEIPT_PREFIX", "receipts/")
	v.SetDefault("S3_ENDPOINT", "")

	v.SetDefault("NOVA_MODE", string(ModeMock))
	v.SetDefault("LLM_PROVIDER", ProviderBedrock)
	v.SetDefault("LLM_MODEL", "")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("NOVA_MODEL_ID", "us.amazon.nova-2-lite-v1:0")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("OLLAMA_HOST", "http://localhost:11434")
	v.SetDefault("LLM_TIMEOUT", "300s")
	v.SetDefault("LLM_MAX_TOKENS", 4096)

	v.SetDefault("ACT_MODE", string(ModeMock))
	v.SetDefault("ACT_START_URL", "")
	v.SetDefault("ACT_HEADLESS", true)
	v.SetDefault("ACT_STEP_TIMEOUT", "30s")
	v.SetDefault("ACT_BROWSER_BIN", "")

	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("RATE_LIMIT_RPS", 2.0)
	v.SetDefault("RATE_LIMIT_BURST", 5)

	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("LOG_FORMAT", "auto")
	v.SetDefault("SHADOWOPS_LOG_FILE", "")

	v.SetDefault("OTEL_TRACES_EXPORTER", "none")
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Host:  v.GetString("HOST"),
		Port:  v.GetInt("PORT"),
		Debug: v.GetBool("DEBUG"),

		DataDir:       v.GetString("SHADOWOPS_DATA_DIR"),
		ReceiptStore:  strings.ToLower(v.GetString("RECEIPT_STORE")),
		ReceiptBucket: v.GetString("RECEIPT_BUCKET"),
		ReceiptPrefix: v.GetString("RECEIPT_PREFIX"),
		S3Endpoint:    v.GetString("S3_ENDPOINT"),

		NovaMode:        Mode(strings.ToLower(v.GetString("NOVA_MODE"))),
		LLMProvider:     strings.ToLower(v.GetString("LLM_PROVIDER")),
		LLMModel:        v.GetString("LLM_MODEL"),
		AWSRegion:       v.GetString("AWS_REGION"),
		NovaModelID:     v.GetString("NOVA_MODEL_ID"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		OllamaHost:      v.GetString("OLLAMA_HOST"),
		LLMTimeout:      v.GetDuration("LLM_TIMEOUT"),
		LLMMaxTokens:    v.GetInt("LLM_MAX_TOKENS"),

		ActMode:        Mode(strings.ToLower(v.GetString("ACT_MODE"))),
		ActStartURL:    v.GetString("ACT_START_URL"),
		ActHeadless:    v.GetBool("ACT_HEADLESS"),
		ActStepTimeout: v.GetDuration("ACT_STEP_TIMEOUT"),
		ActBrowserBin:  v.GetString("ACT_BROWSER_BIN"),

		CORSOrigins:    splitList(v.GetString("CORS_ORIGINS")),
		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		LogFile:   v.GetString("SHADOWOPS_LOG_FILE"),
		LogLevel:  parseLogLevel(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),

		TracesExporter: strings.ToLower(v.GetString("OTEL_TRACES_EXPORTER")),
	}

	if cfg.Debug {
		cfg.LogLevel = slog.LevelDebug
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = defaultModel(cfg.LLMProvider, cfg.NovaModelID)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("SHADOWOPS_DATA_DIR must not be empty"))
	}
	if c.NovaMode != ModeMock && c.NovaMode != ModeReal {
		errs = append(errs, fmt.Errorf("NOVA_MODE must be mock or real, got %q", c.NovaMode))
	}
	if c.ActMode != ModeMock && c.ActMode != ModeReal {
		errs = append(errs, fmt.Errorf("ACT_MODE must be mock or real, got %q", c.ActMode))
	}
	switch c.LLMProvider {
	case ProviderBedrock, ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER: %s", c.LLMProvider))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT must be positive"))
	}
	if c.ActStepTimeout <= 0 {
		errs = append(errs, errors.New("ACT_STEP_TIMEOUT must be positive"))
	}
	switch c.ReceiptStore {
	case ReceiptStoreFile:
	case ReceiptStoreS3:
		if c.ReceiptBucket == "" {
			errs = append(errs, errors.New("RECEIPT_BUCKET is required when RECEIPT_STORE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("RECEIPT_STORE must be file or s3, got %q", c.ReceiptStore))
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be auto, text or json, got %q", c.LogFormat))
	}
	switch c.TracesExporter {
	case "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("OTEL_TRACES_EXPORTER must be none or stdout, got %q", c.TracesExporter))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}

	return errors.Join(errs...)
}

func defaultModel(provider, novaModelID string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	case ProviderOllama:
		return "llava"
	default:
		return novaModelID
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
