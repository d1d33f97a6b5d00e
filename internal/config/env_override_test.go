package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Extraction(t *testing.T) {
	t.Run("OPENAI_API_KEY applies to openai provider", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("INTAKE_LLM_API_KEY", "")

		cfg := &Config{Extraction: ExtractionConfig{Provider: "openai"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "oa-key", cfg.Extraction.APIKey)
	})

	t.Run("GEMINI_API_KEY is ignored for openai provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gem-key")
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("INTAKE_LLM_API_KEY", "")

		cfg := &Config{Extraction: ExtractionConfig{Provider: "openai"}}
		cfg.applyEnvOverrides()

		assert.Empty(t, cfg.Extraction.APIKey)
	})

	t.Run("INTAKE_EXTRACTION_PROVIDER switches provider before keys", func(t *testing.T) {
		t.Setenv("INTAKE_EXTRACTION_PROVIDER", "gemini")
		t.Setenv("GEMINI_API_KEY", "gem-key")
		t.Setenv("INTAKE_LLM_API_KEY", "")

		cfg := &Config{Extraction: ExtractionConfig{Provider: "rules"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gemini", cfg.Extraction.Provider)
		assert.Equal(t, "gem-key", cfg.Extraction.APIKey)
	})

	t.Run("INTAKE_LLM_API_KEY wins over provider keys", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("INTAKE_LLM_API_KEY", "generic")

		cfg := &Config{Extraction: ExtractionConfig{Provider: "openai"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "generic", cfg.Extraction.APIKey)
	})
}

func TestEnvOverrides_StoreAndValidation(t *testing.T) {
	t.Setenv("INTAKE_DB", "/tmp/other.db")
	t.Setenv("INTAKE_VALIDATION_MODE", "strict")
	t.Setenv("INTAKE_DEBUG", "1")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/tmp/other.db", cfg.Store.DatabasePath)
	assert.Equal(t, "strict", cfg.Validation.Mode)
	assert.True(t, cfg.Logging.DebugMode)
}
