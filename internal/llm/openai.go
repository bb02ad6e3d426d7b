package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"winterfox/internal/logging"
	"winterfox/internal/types"
)

// DefaultLLMTimeout bounds one model call end to end.
const DefaultLLMTimeout = 300 * time.Second

// OpenAIConfig configures an OpenAI-compatible endpoint. Most hosted
// providers (OpenAI, Groq, DeepSeek, Mistral, local servers) speak
// this wire format.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns the hosted-OpenAI defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: DefaultLLMTimeout,
	}
}

// OpenAIClient implements types.LLMClient against the chat completions
// API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      RetryPolicy
}

// NewOpenAIClient creates a client with the given config.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultLLMTimeout
	}
	return &OpenAIClient{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      DefaultRetryPolicy(),
	}
}

func (c *OpenAIClient) Name() string  { return "openai" }
func (c *OpenAIClient) Model() string { return c.model }

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []map[string]any `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends a bare prompt.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Chat(ctx, systemPrompt, []types.Message{{Role: "user", Content: userPrompt}}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Chat sends a multi-turn conversation with optional tools.
func (c *OpenAIClient) Chat(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	if c.apiKey == "" {
		return nil, &AuthError{Provider: c.Name(), Message: "API key not configured"}
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	req := openaiRequest{
		Model:       c.model,
		Messages:    c.buildMessages(systemPrompt, messages),
		Tools:       c.buildTools(tools),
		MaxTokens:   8192,
		Temperature: 0.2,
	}

	var result *types.LLMToolResponse
	err := c.retry.Do(ctx, "openai chat", func() error {
		r, err := c.send(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (c *OpenAIClient) buildMessages(systemPrompt string, messages []types.Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openaiMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		msg := openaiMessage{Role: m.Role, Content: m.Content}
		if m.Role == "tool" {
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Input)
			msg.ToolCalls = append(msg.ToolCalls, map[string]any{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func (c *OpenAIClient) buildTools(tools []types.ToolDefinition) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.InputSchema,
			},
		})
	}
	return out
}

func (c *OpenAIClient) send(ctx context.Context, reqBody openaiRequest) (*types.LLMToolResponse, error) {
	start := time.Now()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Provider: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Provider: c.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(c.Name(), resp.StatusCode, string(body))
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &PermanentError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	choice := parsed.Choices[0]
	out := &types.LLMToolResponse{
		Text:      choice.Message.Content,
		ToolCalls: NormalizeToolCalls(choice.Message.ToolCalls),
		Usage: types.UsageMetadata{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
	}
	// Some backends smuggle tool calls through message content.
	if len(out.ToolCalls) == 0 {
		out.ToolCalls = ExtractEmbeddedToolCalls(choice.Message.Content)
	}

	switch choice.FinishReason {
	case "tool_calls":
		out.StopReason = "tool_use"
	case "length":
		out.StopReason = "max_tokens"
	default:
		out.StopReason = "end_turn"
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = "tool_use"
	}

	logging.APIDebug("[openai] %s: %d in / %d out tokens in %v (stop=%s, tools=%d)",
		c.model, out.Usage.InputTokens, out.Usage.OutputTokens,
		time.Since(start).Round(time.Millisecond), out.StopReason, len(out.ToolCalls))
	return out, nil
}

// Verify performs a minimal completion to check credentials.
func (c *OpenAIClient) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := c.Chat(ctx, "", []types.Message{{Role: "user", Content: "ping"}}, nil)
	return err
}
