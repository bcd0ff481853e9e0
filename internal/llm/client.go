package llm

import (
	"context"
)

// LLMClient sends a single-turn prompt and returns the assistant text.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
