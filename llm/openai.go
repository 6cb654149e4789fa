package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// OpenAIProvider completes prompts with the OpenAI Chat Completions API, or
// any server that speaks it when BaseURL is set.
type OpenAIProvider struct {
	client openai.Client
	opts   OpenAIOptions
}

// NewOpenAIProvider creates a provider with SDK retries turned off.
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
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

	return &OpenAIProvider{
		client: openai.NewClient(clientOpts...),
		opts:   opts,
	}
}

func (p *OpenAIProvider) Name() string  { return ProviderOpenAI }
func (p *OpenAIProvider) Model() string { return p.opts.Model }

// Complete sends prompt as a single user message and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               p.opts.Model,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, providerError(ProviderOpenAI, status, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, providerError(ProviderOpenAI, 0, errEmptyCompletion)
	}

	return &Completion{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            resp.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
