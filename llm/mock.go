package llm

import (
	"context"
	"strings"
	"sync"
)

// DefaultMockAnalysis is what a MockProvider answers when no Reply is set.
const DefaultMockAnalysis = "Clear skies and mild temperatures all day. Recommendation: a walk outside before sunset."

// MockProvider answers without calling any API. It is used in tests and by
// agents started with llm.provider "mock".
type MockProvider struct {
	// Reply computes the answer for a prompt; nil answers DefaultMockAnalysis
	Reply func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (p *MockProvider) Name() string  { return ProviderMock }
func (p *MockProvider) Model() string { return "mock" }

func (p *MockProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, providerError(ProviderMock, 0, err)
	}

	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	reply := p.Reply
	p.mu.Unlock()

	text := DefaultMockAnalysis
	if reply != nil {
		var err error
		if text, err = reply(prompt); err != nil {
			return nil, err
		}
	}
	return &Completion{
		Text:             text,
		Model:            "mock",
		PromptTokens:     len(strings.Fields(prompt)),
		CompletionTokens: len(strings.Fields(text)),
	}, nil
}

// Prompts returns the prompts received so far.
func (p *MockProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}
