package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Completion is the text a model produced for one prompt, with token usage.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider completes a single user prompt.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt string) (*Completion, error)
}

// providerError converts an SDK failure into an upstream error. status is the
// HTTP status the API answered with, or 0 when no response was received.
func providerError(provider string, status int, err error) error {
	if status == 0 {
		return types.NewUpstreamError(provider, provider+" request failed", err)
	}
	code := types.ErrUpstreamError
	if status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout {
		code = types.ErrUpstreamTimeout
	}
	return types.NewError(code, fmt.Sprintf("%s returned status %d", provider, status)).
		WithCause(err).
		WithUpstream(provider).
		WithRetryable(status >= 500 || status == http.StatusTooManyRequests)
}

var errEmptyCompletion = errors.New("model returned no text")
