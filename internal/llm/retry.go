package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"

	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/logger"
	"github.com/agenthands/annals/internal/metrics"
)

// RetryClient retries transient failures of the wrapped client with
// exponential backoff. Exhausting the attempt budget yields an error
// wrapping model.ErrTransient.
type RetryClient struct {
	Client         LLMClient
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewRetryClient(c LLMClient, maxAttempts int, initial time.Duration) *RetryClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryClient{Client: c, MaxAttempts: maxAttempts, InitialBackoff: initial}
}

func (r *RetryClient) Generate(ctx context.Context, prompt string) (string, error) {
	b := backoff.NewExponentialBackOff()
	if r.InitialBackoff > 0 {
		b.InitialInterval = r.InitialBackoff
	}
	b.Multiplier = 2

	op := func() (string, error) {
		out, err := r.Client.Generate(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	notify := func(err error, next time.Duration) {
		metrics.LLMRetries.Inc()
		logger.Warn("llm call failed, retrying", "err", err, "backoff", next)
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if IsTransient(err) && ctx.Err() == nil {
			return "", fmt.Errorf("%w: %v", model.ErrTransient, err)
		}
		return "", err
	}
	return out, nil
}

// IsTransient reports whether err is worth retrying. Client errors that
// will fail the same way again (bad request, auth, unknown model) are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code, ok := statusCode(err); ok {
		switch code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusUnprocessableEntity:
			return false
		}
	}
	return true
}

func statusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}
