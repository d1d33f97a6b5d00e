package perception

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medintake/internal/logging"
	"medintake/internal/usage"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiClient asks Gemini for JSON through the Google GenAI SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a Gemini client. An empty API key is an error.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" && !strings.Contains(cfg.BaseURL, "openai.com") {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: model, timeout: cfg.Timeout}, nil
}

// Provider implements LLMClient.
func (c *GeminiClient) Provider() string { return "gemini" }

// CompleteWithSystem implements LLMClient. The response MIME type is set to
// JSON so the reply parses without fences.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	logging.PerceptionDebug("[Gemini] CompleteWithSystem: model=%s user_len=%d", c.model, len(userPrompt))

	temperature := float32(0.1)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
		MaxOutputTokens:   512,
	})
	if err != nil {
		logging.PerceptionError("[Gemini] CompleteWithSystem failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	if tracker := usage.FromContext(ctx); tracker != nil && resp.UsageMetadata != nil {
		tracker.Track(ctx, "gemini", c.model,
			int(resp.UsageMetadata.PromptTokenCount),
			int(resp.UsageMetadata.CandidatesTokenCount),
			"extraction")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	logging.Perception("[Gemini] CompleteWithSystem: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}
