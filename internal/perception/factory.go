package perception

import (
	"context"
	"fmt"
	"time"

	"medintake/internal/config"
	"medintake/internal/logging"
	"medintake/internal/validation"
)

// NewFromConfig builds the extractor described by cfg. LLM providers without
// an API key degrade to the rules extractor with a warning; with
// FallbackToRules the LLM is chained in front of the rules extractor.
func NewFromConfig(ctx context.Context, cfg *config.Config, dates *validation.DateValidator) (Extractor, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ec := cfg.Extraction
	rules := NewRulesExtractor(dates)
	timeout := cfg.GetExtractionTimeout()

	var client LLMClient
	switch ec.Provider {
	case "", "rules":
		logging.Perception("using rules extractor")
		return rules, nil
	case "openai":
		if ec.APIKey == "" {
			logging.PerceptionWarn("openai provider selected without API key, using rules extractor")
			return rules, nil
		}
		client = NewOpenAIClient(OpenAIConfig{
			APIKey:       ec.APIKey,
			BaseURL:      ec.BaseURL,
			Model:        ec.Model,
			Timeout:      timeout,
			MaxRetries:   3,
			RetryBackoff: time.Second,
		})
	case "gemini":
		if ec.APIKey == "" {
			logging.PerceptionWarn("gemini provider selected without API key, using rules extractor")
			return rules, nil
		}
		gc, err := NewGeminiClient(ctx, GeminiConfig{
			APIKey:  ec.APIKey,
			Model:   ec.Model,
			BaseURL: ec.BaseURL,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		client = gc
	default:
		return nil, fmt.Errorf("unknown extraction provider: %s", ec.Provider)
	}

	llm := NewLLMExtractor(client, timeout)
	if ec.FallbackToRules {
		chain := NewChain(llm, rules)
		logging.Perception("using extractor chain %s", chain.Name())
		return chain, nil
	}
	logging.Perception("using %s extractor", llm.Name())
	return llm, nil
}
