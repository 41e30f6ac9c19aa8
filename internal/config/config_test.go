package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Batch.MaxConcurrentDocuments)
	assert.Equal(t, 80, cfg.Pipeline.AutoApproveThreshold)
	assert.False(t, cfg.Pipeline.EnterpriseAutoApprove)
	assert.InDelta(t, 0.80, cfg.Pipeline.ReconciliationTrigger, 0.001)
	assert.InDelta(t, 0.70, cfg.Pipeline.VerificationPassConfidence, 0.001)
	assert.Equal(t, 25, cfg.Pipeline.VerificationChunkSize)
	assert.Equal(t, 50, cfg.Pipeline.ExtractionChunkSize)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SonnetModel)
	assert.Equal(t, "mistral-ocr-latest", cfg.Mistral.OCRModel)
	assert.Equal(t, "mistral-large-latest", cfg.Mistral.ChatModel)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	assert.InDelta(t, 0.25, cfg.Pipeline.Weights.ErrorPenalty, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/waste
log:
  level: debug
  format: console
pipeline:
  auto_approve_threshold: 90
  enterprise_auto_approve: true
batch:
  max_concurrent_documents: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 90, cfg.Pipeline.AutoApproveThreshold)
	assert.True(t, cfg.Pipeline.EnterpriseAutoApprove)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrentDocuments)
	// Defaults still apply for unset values
	assert.Equal(t, 25, cfg.Pipeline.VerificationChunkSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("WASTE_STORE_DRIVER", "postgres")
	t.Setenv("WASTE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WASTE_SERVER_PORT=3000\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("WASTE_SERVER_PORT") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Mistral.Key = "mistral-key"
	cfg.OCR.Provider = "mistral"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "waste.db"
	cfg.Pipeline.AutoApproveThreshold = 80
	cfg.Pipeline.ReconciliationTrigger = 0.8
	cfg.Pipeline.VerificationPassConfidence = 0.7
	cfg.Pipeline.VerificationChunkSize = 25
	cfg.Pipeline.ExtractionChunkSize = 50
	cfg.Batch.MaxConcurrentDocuments = 3
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("process"))
	assert.NoError(t, cfg.Validate("batch"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_MissingKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Mistral.Key = ""

	err := cfg.Validate("process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "one of mistral.key, openrouter.key or gemini.key is required")
	assert.Contains(t, err.Error(), "mistral.key is required for ocr.provider mistral")
}

func TestValidate_ThresholdRange(t *testing.T) {
	cfg := validDefaults()

	for _, v := range []int{59, 100, 0} {
		cfg.Pipeline.AutoApproveThreshold = v
		err := cfg.Validate("process")
		require.Error(t, err, v)
		assert.Contains(t, err.Error(), "auto_approve_threshold must be between 60 and 99")
	}
	for _, v := range []int{60, 99} {
		cfg.Pipeline.AutoApproveThreshold = v
		assert.NoError(t, cfg.Validate("process"), v)
	}
}

func TestValidate_ServeInvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.NoError(t, cfg.Validate("process"))
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Batch.MaxConcurrentDocuments = 0
	cfg.Pipeline.ReconciliationTrigger = 1.5
	cfg.Pipeline.Weights.ErrorPenalty = -1
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_documents must be between 1 and 20")
	assert.Contains(t, err.Error(), "reconciliation_trigger")
	assert.Contains(t, err.Error(), "pipeline.weights values must be >= 0")
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestLoadMaterialSynonyms(t *testing.T) {
	syn, err := LoadMaterialSynonyms("")
	require.NoError(t, err)
	assert.Contains(t, syn, "Trä")

	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Gips:\n  - Gipsskivor\n  - Gipsspill\n"), 0644))
	syn, err = LoadMaterialSynonyms(path)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"Gips": {"Gipsskivor", "Gipsspill"}}, syn)

	_, err = LoadMaterialSynonyms(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("{}\n"), 0644))
	_, err = LoadMaterialSynonyms(empty)
	assert.Error(t, err)
}
