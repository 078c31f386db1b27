package ai

import (
	"context"
	"fmt"

	"github.com/pauljones0/tender-watch/internal/config"
)

// Backend is a text generation service that answers with a JSON verdict.
type Backend interface {
	Name() string
	// Probe is a cheap availability check run before any generation.
	Probe(ctx context.Context) error
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewBackend builds the backend selected by cfg. It returns nil when the AI
// stage is disabled.
func NewBackend(ctx context.Context, cfg config.AIConfig) (Backend, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case config.AIBackendGemini:
		b, err := NewGeminiBackend(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.AIBackendOllama:
		return NewOllamaBackend(cfg.OllamaURL, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown AI backend %q", cfg.Backend)
	}
}
