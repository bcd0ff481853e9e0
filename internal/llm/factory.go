package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/annals/internal/config"
)

// NewClient builds the provider client named in cfg, without retries.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIClient(cfg), nil

	case "gemini":
		return NewGeminiClient(ctx, cfg)

	case "claude":
		return NewClaudeClient(cfg), nil

	case "ollama":
		return NewOllamaClient(cfg)

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}

// NewRetryingClient wraps the provider client with the ingest retry policy.
func NewRetryingClient(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	c, err := NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	return NewRetryClient(c, cfg.Ingest.MaxAttempts, cfg.Ingest.InitialBackoff()), nil
}
