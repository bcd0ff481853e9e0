package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/agenthands/annals/internal/config"
)

// OllamaClient talks to a local Ollama server through its native chat API.
type OllamaClient struct {
	client      *api.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewOllamaClient(cfg config.LLMConfig) (*OllamaClient, error) {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", base, err)
	}
	httpClient := &http.Client{Timeout: cfg.Timeout()}
	return &OllamaClient{
		client:      api.NewClient(u, httpClient),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	options := map[string]any{"temperature": c.temperature}
	if c.maxTokens > 0 {
		options["num_predict"] = c.maxTokens
	}
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream:  &stream,
		Options: options,
	}

	var content string
	if err := c.client.Chat(ctx, req, func(cr api.ChatResponse) error {
		content += cr.Message.Content
		return nil
	}); err != nil {
		return "", err
	}
	if content == "" {
		return "", fmt.Errorf("empty response from ollama model %s", c.model)
	}
	return content, nil
}
