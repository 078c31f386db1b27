package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiBackend calls the Gemini API with a structured output schema.
type GeminiBackend struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini backend")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiBackend{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0.1), // Low temperature for deterministic output
			ResponseMIMEType: "application/json",
			ResponseSchema:   verdictSchema(),
		},
	}, nil
}

func verdictSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"keep": {
				Type:        genai.TypeBoolean,
				Description: "True if the notice is a relevant consulting or study opportunity for the client.",
			},
			"score": {
				Type:        genai.TypeInteger,
				Description: "Overall relevance from 0 to 100.",
			},
			"summary": {
				Type:        genai.TypeString,
				Description: "One or two sentences, at most 220 characters, in French.",
			},
			"execution_in_target_country": {
				Type:        genai.TypeBoolean,
				Description: "True if the work is performed in the target country.",
			},
			"reasons": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"keep", "score", "summary", "execution_in_target_country"},
	}
}

func (b *GeminiBackend) Name() string { return "gemini:" + b.model }

func (b *GeminiBackend) Probe(ctx context.Context) error {
	if _, err := b.client.Models.Get(ctx, b.model, nil); err != nil {
		return fmt.Errorf("gemini model %s unavailable: %w", b.model, err)
	}
	return nil
}

func (b *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), b.config)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no text in gemini response")
	}
	return text, nil
}
