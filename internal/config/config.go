package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all intake configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Field validation and orchestration
	Validation ValidationConfig `yaml:"validation"`

	// Conversation reasoner tuning
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Entity extraction collaborator
	Extraction ExtractionConfig `yaml:"extraction"`

	// Session and consultation persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ValidationConfig configures the validators and the orchestrator.
type ValidationConfig struct {
	Mode               string             `yaml:"mode"`    // strict, permissive, suggestions_only
	Weights            map[string]float64 `yaml:"weights"` // canonical field -> weight
	AllowPastDates     bool               `yaml:"allow_past_dates"`
	MaxFutureMonths    int                `yaml:"max_future_months"`
	MinNameWords       int                `yaml:"min_name_words"`
	BusinessHoursStart int                `yaml:"business_hours_start"`
	BusinessHoursEnd   int                `yaml:"business_hours_end"`
	Timezone           string             `yaml:"timezone"`
}

// ConfidenceWeights are the coefficients of the composite turn confidence.
type ConfidenceWeights struct {
	Completeness float64 `yaml:"completeness"`
	Validation   float64 `yaml:"validation"`
	Required     float64 `yaml:"required"`
	Length       float64 `yaml:"length"`
	Temporal     float64 `yaml:"temporal"`
}

// Sum returns the total of all coefficients.
func (w ConfidenceWeights) Sum() float64 {
	return w.Completeness + w.Validation + w.Required + w.Length + w.Temporal
}

// ReasoningConfig configures the conversation reasoner.
type ReasoningConfig struct {
	Confidence          ConfidenceWeights `yaml:"confidence"`
	RepetitionThreshold float64           `yaml:"repetition_threshold"`
	MaxRepetitions      int               `yaml:"max_repetitions"`
	MaxConsecutiveAsks  int               `yaml:"max_consecutive_asks"`
	HistoryLimit        int               `yaml:"history_limit"`
	TurnBonusCap        int               `yaml:"turn_bonus_cap"`
	Affirmative         []string          `yaml:"affirmative"`
	Negative            []string          `yaml:"negative"`
}

// ExtractionConfig configures the entity extraction collaborator.
type ExtractionConfig struct {
	Provider        string `yaml:"provider"` // rules, openai, gemini
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"`
	FallbackToRules bool   `yaml:"fallback_to_rules"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Driver          string `yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	DatabasePath    string `yaml:"database_path"`
	SessionTTL      string `yaml:"session_ttl"`
	PersistSessions bool   `yaml:"persist_sessions"`
}

// DefaultAffirmative lists the words that confirm a pending summary.
var DefaultAffirmative = []string{
	"sim", "certo", "correto", "perfeito", "ok", "tá bom", "confirmo", "confirma",
	"está certo", "está correto", "pode ser", "concordo", "aceito", "isso",
}

// DefaultNegative lists the words that reject a pending summary.
var DefaultNegative = []string{
	"não", "nao", "errado", "incorreto", "mude", "corrige", "corrija",
	"diferente", "outro", "outra",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "intake",
		Version: "0.4.0",

		Validation: ValidationConfig{
			Mode: "permissive",
			Weights: map[string]float64{
				"name":              1.0,
				"phone":             1.2,
				"consultation_date": 1.1,
				"consultation_time": 0.7,
				"document_id":       1.0,
				"postal_code":       0.7,
				"consultation_type": 0.5,
				"notes":             0.3,
			},
			MaxFutureMonths:    6,
			MinNameWords:       2,
			BusinessHoursStart: 7,
			BusinessHoursEnd:   22,
			Timezone:           "America/Sao_Paulo",
		},

		Reasoning: ReasoningConfig{
			Confidence: ConfidenceWeights{
				Completeness: 0.35,
				Validation:   0.25,
				Required:     0.2,
				Length:       0.1,
				Temporal:     0.1,
			},
			RepetitionThreshold: 0.8,
			MaxRepetitions:      2,
			MaxConsecutiveAsks:  3,
			HistoryLimit:        20,
			TurnBonusCap:        5,
			Affirmative:         append([]string(nil), DefaultAffirmative...),
			Negative:            append([]string(nil), DefaultNegative...),
		},

		Extraction: ExtractionConfig{
			Provider:        "rules",
			Model:           "gpt-4o-mini",
			BaseURL:         "https://api.openai.com/v1",
			Timeout:         "30s",
			FallbackToRules: true,
		},

		Store: StoreConfig{
			Driver:          "sqlite",
			DatabasePath:    ".intake/intake.db",
			SessionTTL:      "24h",
			PersistSessions: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("INTAKE_EXTRACTION_PROVIDER"); p != "" {
		c.Extraction.Provider = p
	}

	// Provider keys only apply to their own provider
	switch c.Extraction.Provider {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.Extraction.APIKey = key
		}
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.Extraction.APIKey = key
		}
	}
	if key := os.Getenv("INTAKE_LLM_API_KEY"); key != "" {
		c.Extraction.APIKey = key
	}

	if path := os.Getenv("INTAKE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if mode := os.Getenv("INTAKE_VALIDATION_MODE"); mode != "" {
		c.Validation.Mode = mode
	}
	if os.Getenv("INTAKE_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
}

// GetExtractionTimeout returns the extraction timeout as a duration.
func (c *Config) GetExtractionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Extraction.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetSessionTTL returns the session TTL as a duration.
func (c *Config) GetSessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Store.SessionTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetLocation returns the configured timezone, falling back to UTC.
func (c *Config) GetLocation() *time.Location {
	if c.Validation.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Validation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ValidModes lists the accepted validation modes.
var ValidModes = []string{"strict", "permissive", "suggestions_only"}

// ValidProviders lists all supported extraction providers.
var ValidProviders = []string{"rules", "openai", "gemini"}

// ValidDrivers lists the registered SQLite drivers.
var ValidDrivers = []string{"sqlite", "sqlite3"}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidModes, c.Validation.Mode) {
		return fmt.Errorf("invalid validation mode: %s (valid: %v)", c.Validation.Mode, ValidModes)
	}
	for field, w := range c.Validation.Weights {
		if w < 0 {
			return fmt.Errorf("negative weight for field %s: %v", field, w)
		}
	}
	if c.Validation.MaxFutureMonths <= 0 {
		return fmt.Errorf("max_future_months must be positive")
	}
	if c.Validation.BusinessHoursStart >= c.Validation.BusinessHoursEnd {
		return fmt.Errorf("business hours start (%d) must precede end (%d)",
			c.Validation.BusinessHoursStart, c.Validation.BusinessHoursEnd)
	}

	if c.Reasoning.Confidence.Sum() <= 0 {
		return fmt.Errorf("confidence coefficients must sum to a positive value")
	}
	if t := c.Reasoning.RepetitionThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("repetition_threshold must be in (0,1], got %v", t)
	}
	if c.Reasoning.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}

	if !contains(ValidProviders, c.Extraction.Provider) {
		return fmt.Errorf("invalid extraction provider: %s (valid: %v)", c.Extraction.Provider, ValidProviders)
	}
	if c.Extraction.Provider != "rules" && c.Extraction.APIKey == "" {
		return fmt.Errorf("extraction provider %s needs an API key (set OPENAI_API_KEY, GEMINI_API_KEY or INTAKE_LLM_API_KEY)", c.Extraction.Provider)
	}

	if !contains(ValidDrivers, c.Store.Driver) {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
	}

	return nil
}
