package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

var _ LLMProvider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini client for model. An empty baseURL uses
// the public endpoint.
func NewGeminiProvider(ctx context.Context, apiKey, model, baseURL string) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Complete sends prompt and concatenates the text parts of the first
// candidate.
func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	temperature := float32(0.3)
	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       &temperature,
		MaxOutputTokens:   2000,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}
