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

// GeminiConfig configures the Gemini generateContent REST client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiConfig returns defaults for the hosted API.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "gemini-2.5-flash",
		Timeout: DefaultLLMTimeout,
	}
}

// GeminiClient implements types.LLMClient against generateContent.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      RetryPolicy
}

// NewGeminiClient creates a client with the given config.
func NewGeminiClient(config GeminiConfig) *GeminiClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultLLMTimeout
	}
	return &GeminiClient{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      DefaultRetryPolicy(),
	}
}

func (c *GeminiClient) Name() string  { return "gemini" }
func (c *GeminiClient) Model() string { return c.model }

type geminiPart struct {
	Text         string `json:"text,omitempty"`
	FunctionCall *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCall,omitempty"`
	FunctionResponse *struct {
		Name     string         `json:"name"`
		Response map[string]any `json:"response"`
	} `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []map[string]any `json:"tools,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a bare prompt.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Chat(ctx, systemPrompt, []types.Message{{Role: "user", Content: userPrompt}}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Chat sends a multi-turn conversation with optional tools.
func (c *GeminiClient) Chat(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	if c.apiKey == "" {
		return nil, &AuthError{Provider: c.Name(), Message: "API key not configured"}
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	req := geminiRequest{Contents: c.buildContents(messages)}
	if systemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	if len(tools) > 0 {
		var decls []map[string]any
		for _, t := range tools {
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.InputSchema,
			})
		}
		req.Tools = []map[string]any{{"functionDeclarations": decls}}
	}

	var result *types.LLMToolResponse
	err := c.retry.Do(ctx, "gemini chat", func() error {
		r, err := c.send(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// buildContents maps internal messages to Gemini contents. Gemini has
// no tool-call ids; tool results are functionResponse parts keyed by
// function name.
func (c *GeminiClient) buildContents(messages []types.Message) []geminiContent {
	out := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			content := geminiContent{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				part := geminiPart{}
				part.FunctionCall = &struct {
					Name string         `json:"name"`
					Args map[string]any `json:"args"`
				}{Name: tc.Name, Args: tc.Input}
				content.Parts = append(content.Parts, part)
			}
			out = append(out, content)
		case "tool":
			part := geminiPart{}
			part.FunctionResponse = &struct {
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			}{Name: m.ToolName, Response: map[string]any{"result": m.Content}}
			out = append(out, geminiContent{Role: "user", Parts: []geminiPart{part}})
		default:
			out = append(out, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return out
}

func (c *GeminiClient) send(ctx context.Context, reqBody geminiRequest) (*types.LLMToolResponse, error) {
	start := time.Now()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

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

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &PermanentError{Provider: c.Name(), StatusCode: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("empty candidates in response")
	}

	out := &types.LLMToolResponse{
		Usage: types.UsageMetadata{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  parsed.UsageMetadata.TotalTokenCount,
		},
	}
	candidate := parsed.Candidates[0]
	callN := 0
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:    fmt.Sprintf("call_%d", callN),
				Name:  part.FunctionCall.Name,
				Input: args,
			})
			callN++
		}
	}

	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = "tool_use"
	case candidate.FinishReason == "MAX_TOKENS":
		out.StopReason = "max_tokens"
	default:
		out.StopReason = "end_turn"
	}

	logging.APIDebug("[gemini] %s: %d in / %d out tokens in %v (stop=%s, tools=%d)",
		c.model, out.Usage.InputTokens, out.Usage.OutputTokens,
		time.Since(start).Round(time.Millisecond), out.StopReason, len(out.ToolCalls))
	return out, nil
}

// Verify performs a minimal completion to check credentials.
func (c *GeminiClient) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := c.Chat(ctx, "", []types.Message{{Role: "user", Content: "ping"}}, nil)
	return err
}
