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

// AnthropicConfig configures the Anthropic messages API client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultAnthropicConfig returns defaults for the hosted API.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.anthropic.com",
		Model:   "claude-sonnet-4-20250514",
		Timeout: DefaultLLMTimeout,
	}
}

// AnthropicClient implements types.LLMClient against the messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      RetryPolicy
}

// NewAnthropicClient creates a client with the given config.
func NewAnthropicClient(config AnthropicConfig) *AnthropicClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com"
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultLLMTimeout
	}
	return &AnthropicClient{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      DefaultRetryPolicy(),
	}
}

func (c *AnthropicClient) Name() string  { return "anthropic" }
func (c *AnthropicClient) Model() string { return c.model }

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []map[string]any   `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a bare prompt.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *AnthropicClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Chat(ctx, systemPrompt, []types.Message{{Role: "user", Content: userPrompt}}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Chat sends a multi-turn conversation with optional tools.
func (c *AnthropicClient) Chat(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	if c.apiKey == "" {
		return nil, &AuthError{Provider: c.Name(), Message: "API key not configured"}
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	req := anthropicRequest{
		Model:     c.model,
		System:    systemPrompt,
		Messages:  c.buildMessages(messages),
		MaxTokens: 8192,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.InputSchema,
		})
	}

	var result *types.LLMToolResponse
	err := c.retry.Do(ctx, "anthropic chat", func() error {
		r, err := c.send(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// buildMessages converts internal messages to the messages-API shape.
// Tool results become user-role tool_result blocks per the wire format.
func (c *AnthropicClient) buildMessages(messages []types.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "tool":
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case "assistant":
			var content []anthropicContent
			if m.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Input,
				})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: content})
		default:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		}
	}
	return out
}

func (c *AnthropicClient) send(ctx context.Context, reqBody anthropicRequest) (*types.LLMToolResponse, error) {
	start := time.Now()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

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

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &PermanentError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: parsed.Error.Message}
	}

	out := &types.LLMToolResponse{
		Usage: types.UsageMetadata{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}
	callN := 0
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			id := block.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", callN)
			}
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: id, Name: block.Name, Input: input})
			callN++
		}
	}

	switch parsed.StopReason {
	case "tool_use":
		out.StopReason = "tool_use"
	case "max_tokens":
		out.StopReason = "max_tokens"
	default:
		out.StopReason = "end_turn"
	}

	logging.APIDebug("[anthropic] %s: %d in / %d out tokens in %v (stop=%s, tools=%d)",
		c.model, out.Usage.InputTokens, out.Usage.OutputTokens,
		time.Since(start).Round(time.Millisecond), out.StopReason, len(out.ToolCalls))
	return out, nil
}

// Verify performs a minimal completion to check credentials.
func (c *AnthropicClient) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := c.Chat(ctx, "", []types.Message{{Role: "user", Content: "ping"}}, nil)
	return err
}
