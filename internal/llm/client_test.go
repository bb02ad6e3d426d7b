package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winterfox/internal/types"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Attempts: 3}
}

func TestOpenAIChatToolCalls(t *testing.T) {
	var gotReq openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{"id":"tc1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"x\"}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	resp, err := c.Chat(context.Background(), "system here",
		[]types.Message{{Role: "user", Content: "find x"}},
		[]types.ToolDefinition{{Name: "web_search", Description: "search", InputSchema: map[string]interface{}{"type": "object"}}})
	require.NoError(t, err)

	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "web_search", resp.ToolCalls[0].Name)
	assert.Equal(t, "x", resp.ToolCalls[0].Input["query"])
	assert.Equal(t, 120, resp.Usage.TotalTokens)

	// Request carried the system message and the tool definition.
	require.NotEmpty(t, gotReq.Messages)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	require.Len(t, gotReq.Tools, 1)
}

func TestOpenAIAuthErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "bad", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	c.retry = fastRetry()
	_, err := c.Chat(context.Background(), "", []types.Message{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenAITransientRetriedThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	c.retry = fastRetry()
	resp, err := c.Chat(context.Background(), "", []types.Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenAIPermanentErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	c.retry = fastRetry()
	_, err := c.Chat(context.Background(), "", []types.Message{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	var pe *PermanentError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenAIMissingKeyFailsFast(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{Model: "m"})
	_, err := c.Chat(context.Background(), "", []types.Message{{Role: "user", Content: "hi"}}, nil)
	assert.True(t, IsAuthError(err))
}

func TestAnthropicChatToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{
			"content": [
				{"type":"text","text":"Searching now."},
				{"type":"tool_use","id":"tu1","name":"web_search","input":{"query":"y"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 50, "output_tokens": 10}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-3-5-haiku-20241022"})
	resp, err := c.Chat(context.Background(), "sys", []types.Message{{Role: "user", Content: "go"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Searching now.", resp.Text)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu1", resp.ToolCalls[0].ID)
	assert.Equal(t, 60, resp.Usage.TotalTokens)
}

func TestGeminiChatFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"candidates": [{
				"content": {"role":"model","parts":[{"functionCall":{"name":"web_fetch","args":{"url":"https://e.com"}}}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 30, "candidatesTokenCount": 5, "totalTokenCount": 35}
		}`))
	}))
	defer srv.Close()

	c := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, Model: "gemini-2.5-flash"})
	resp, err := c.Chat(context.Background(), "", []types.Message{{Role: "user", Content: "fetch"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "web_fetch", resp.ToolCalls[0].Name)
	assert.Equal(t, "call_0", resp.ToolCalls[0].ID)
}

func TestRetryPolicyStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastRetry()
	err := p.Do(ctx, "op", func() error {
		return &TransientError{Provider: "x", Err: assert.AnError}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(AdapterSpec{Provider: "nope"})
	assert.Error(t, err)
}

func TestNewClientProviders(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic", "gemini"} {
		c, err := NewClient(AdapterSpec{Provider: provider, Model: "m", APIKeyEnv: "WINTERFOX_TEST_KEY"})
		require.NoError(t, err)
		assert.Equal(t, "m", c.Model())
	}
}
