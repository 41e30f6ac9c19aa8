package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Mistral    MistralConfig    `yaml:"mistral" mapstructure:"mistral"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// MistralConfig holds Mistral OCR and chat settings.
type MistralConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	OCRModel  string `yaml:"ocr_model" mapstructure:"ocr_model"`
	ChatModel string `yaml:"chat_model" mapstructure:"chat_model"`
}

// OpenRouterConfig holds the OpenAI-compatible gateway used for Gemini.
type OpenRouterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds direct Google Gemini settings. When Key is set the
// agentic backend calls Gemini directly instead of through OpenRouter.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PipelineConfig configures extraction, verification and the final decision.
type PipelineConfig struct {
	AutoApproveThreshold       int     `yaml:"auto_approve_threshold" mapstructure:"auto_approve_threshold"`
	EnterpriseAutoApprove      bool    `yaml:"enterprise_auto_approve" mapstructure:"enterprise_auto_approve"`
	ReconciliationTrigger      float64 `yaml:"reconciliation_trigger" mapstructure:"reconciliation_trigger"`
	VerificationPassConfidence float64 `yaml:"verification_pass_confidence" mapstructure:"verification_pass_confidence"`
	VerificationChunkSize      int     `yaml:"verification_chunk_size" mapstructure:"verification_chunk_size"`
	VerificationModelPass      bool    `yaml:"verification_model_pass" mapstructure:"verification_model_pass"`
	ExtractionChunkSize        int     `yaml:"extraction_chunk_size" mapstructure:"extraction_chunk_size"`
	DefaultReceiver            string  `yaml:"default_receiver" mapstructure:"default_receiver"`
	CustomInstructions         string  `yaml:"custom_instructions" mapstructure:"custom_instructions"`
	SynonymsFile               string  `yaml:"synonyms_file" mapstructure:"synonyms_file"`
	Weights                    Weights `yaml:"weights" mapstructure:"weights"`
}

// Weights tunes the document confidence aggregation.
type Weights struct {
	Extraction     float64 `yaml:"extraction" mapstructure:"extraction"`
	Verification   float64 `yaml:"verification" mapstructure:"verification"`
	Reconciliation float64 `yaml:"reconciliation" mapstructure:"reconciliation"`
	ErrorPenalty   float64 `yaml:"error_penalty" mapstructure:"error_penalty"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int     `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
	RequestsPerSecond      float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WASTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "waste.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_documents", 3)
	v.SetDefault("batch.requests_per_second", 2.0)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("mistral.base_url", "https://api.mistral.ai/v1")
	v.SetDefault("mistral.ocr_model", "mistral-ocr-latest")
	v.SetDefault("mistral.chat_model", "mistral-large-latest")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "google/gemini-3-flash-preview")
	v.SetDefault("gemini.model", "gemini-3-flash-preview")
	v.SetDefault("ocr.provider", "mistral")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("pipeline.auto_approve_threshold", 80)
	v.SetDefault("pipeline.enterprise_auto_approve", false)
	v.SetDefault("pipeline.reconciliation_trigger", 0.80)
	v.SetDefault("pipeline.verification_pass_confidence", 0.70)
	v.SetDefault("pipeline.verification_chunk_size", 25)
	v.SetDefault("pipeline.verification_model_pass", true)
	v.SetDefault("pipeline.extraction_chunk_size", 50)
	v.SetDefault("pipeline.weights.extraction", 0.2)
	v.SetDefault("pipeline.weights.verification", 0.8)
	v.SetDefault("pipeline.weights.reconciliation", 1.0)
	v.SetDefault("pipeline.weights.error_penalty", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
