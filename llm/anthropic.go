package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicOptions configures an AnthropicProvider.
type AnthropicOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// AnthropicProvider completes prompts with the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicProvider creates a provider. The SDK's own retries are turned
// off; a failed call fails the request.
func NewAnthropicProvider(opts AnthropicOptions) *AnthropicProvider {
	if opts.Model == "" {
		opts.Model = "claude-3-sonnet-20240229"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(clientOpts...),
		opts:   opts,
	}
}

func (p *AnthropicProvider) Name() string  { return ProviderAnthropic }
func (p *AnthropicProvider) Model() string { return p.opts.Model }

// Complete sends prompt as a single user message and joins the text blocks of
// the reply.
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.opts.Model),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, providerError(ProviderAnthropic, status, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, providerError(ProviderAnthropic, 0, errEmptyCompletion)
	}

	return &Completion{
		Text:             strings.TrimSpace(text.String()),
		Model:            string(resp.Model),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}
