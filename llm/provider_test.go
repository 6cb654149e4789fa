package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajashekarcs2023/weather-marketplace/config"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

func fakeAnthropic(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestAnthropicProvider_Complete(t *testing.T) {
	srv, got := fakeAnthropic(t, http.StatusOK, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-sonnet-20240229",
		"content": [{"type": "text", "text": "Sunny in Tokyo. "}, {"type": "text", "text": "Wear a hat."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`)

	p := NewAnthropicProvider(AnthropicOptions{
		APIKey:      "test-key",
		BaseURL:     srv.URL + "/",
		Model:       "claude-3-sonnet-20240229",
		Temperature: 0.7,
		MaxTokens:   256,
	})
	c, err := p.Complete(context.Background(), "What's the weather like in Tokyo?")
	require.NoError(t, err)

	assert.Equal(t, "Sunny in Tokyo. Wear a hat.", c.Text)
	assert.Equal(t, 12, c.PromptTokens)
	assert.Equal(t, 7, c.CompletionTokens)
	assert.Equal(t, "claude-3-sonnet-20240229", (*got)["model"])
	assert.EqualValues(t, 256, (*got)["max_tokens"])
	messages, ok := (*got)["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestAnthropicProvider_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      types.ErrorCode
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error","message":"boom"}}`, types.ErrUpstreamError, true},
		{"bad request", http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"no"}}`, types.ErrUpstreamError, false},
		{"rate limited", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow"}}`, types.ErrUpstreamError, true},
		{"empty content", http.StatusOK, `{"id":"m","type":"message","role":"assistant","model":"x","content":[],"usage":{"input_tokens":1,"output_tokens":0}}`, types.ErrUpstreamError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeAnthropic(t, tt.status, tt.body)
			p := NewAnthropicProvider(AnthropicOptions{APIKey: "test-key", BaseURL: srv.URL + "/"})
			_, err := p.Complete(context.Background(), "hi")
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, ProviderAnthropic, e.Upstream)
		})
	}
}

func fakeOpenAI(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv, got := fakeOpenAI(t, http.StatusOK, `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Rainy in Paris. Take an umbrella."}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 6, "total_tokens": 16}
	}`)

	p := NewOpenAIProvider(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/v1/", MaxTokens: 128})
	c, err := p.Complete(context.Background(), "What's the weather like in Paris?")
	require.NoError(t, err)

	assert.Equal(t, "Rainy in Paris. Take an umbrella.", c.Text)
	assert.Equal(t, "gpt-4o-mini", c.Model)
	assert.Equal(t, 10, c.PromptTokens)
	assert.Equal(t, 6, c.CompletionTokens)
	assert.Equal(t, "gpt-4o-mini", (*got)["model"])
	assert.EqualValues(t, 128, (*got)["max_completion_tokens"])
}

func TestOpenAIProvider_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv, _ := fakeOpenAI(t, http.StatusBadGateway, `{"error":{"message":"down","type":"server_error"}}`)
		_, err := NewOpenAIProvider(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/v1/"}).
			Complete(context.Background(), "hi")
		assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
		assert.True(t, types.IsRetryable(err))
	})

	t.Run("no choices", func(t *testing.T) {
		srv, _ := fakeOpenAI(t, http.StatusOK, `{"id":"c","object":"chat.completion","created":1,"model":"m","choices":[]}`)
		_, err := NewOpenAIProvider(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/v1/"}).
			Complete(context.Background(), "hi")
		assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	})

	t.Run("deadline", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := NewOpenAIProvider(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/v1/"}).Complete(ctx, "hi")
		assert.True(t, types.IsErrorCode(err, types.ErrUpstreamTimeout), "got %v", err)
	})
}

func TestMockProvider(t *testing.T) {
	p := &MockProvider{}
	c, err := p.Complete(context.Background(), "weather in Oslo")
	require.NoError(t, err)
	assert.Equal(t, DefaultMockAnalysis, c.Text)
	assert.Equal(t, 3, c.PromptTokens)
	assert.Equal(t, []string{"weather in Oslo"}, p.Prompts())

	p.Reply = func(prompt string) (string, error) { return "custom " + prompt, nil }
	c, err = p.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "custom x", c.Text)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Complete(ctx, "x")
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		want    string
		wantErr bool
	}{
		{"anthropic", config.LLMConfig{Provider: "anthropic", APIKey: "k"}, ProviderAnthropic, false},
		{"anthropic upper case", config.LLMConfig{Provider: "Anthropic", APIKey: "k"}, ProviderAnthropic, false},
		{"anthropic without key", config.LLMConfig{Provider: "anthropic"}, "", true},
		{"openai", config.LLMConfig{Provider: "openai", APIKey: "k"}, ProviderOpenAI, false},
		{"openai compatible server", config.LLMConfig{Provider: "openai", BaseURL: "http://localhost:11434/v1/"}, ProviderOpenAI, false},
		{"openai without key or url", config.LLMConfig{Provider: "openai"}, "", true},
		{"mock", config.LLMConfig{Provider: "mock"}, ProviderMock, false},
		{"unknown", config.LLMConfig{Provider: "gemini"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}
