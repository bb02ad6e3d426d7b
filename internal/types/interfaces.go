package types

import (
	"context"
)

// Message is one turn in an LLM conversation. Tool results are sent back
// as role "tool" with the originating call id.
type Message struct {
	Role       string     `json:"role"` // "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool turns only
	ToolName   string     `json:"tool_name,omitempty"`    // tool turns only
}

// ToolDefinition describes a tool that the LLM can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// UsageMetadata captures token usage metrics from one LLM call.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// LLMToolResponse contains both text and tool calls from one LLM turn.
type LLMToolResponse struct {
	Text       string        `json:"text"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	StopReason string        `json:"stop_reason"` // "end_turn", "tool_use", "max_tokens"
	Usage      UsageMetadata `json:"usage"`
}

// LLMClient is the interface every provider adapter implements.
type LLMClient interface {
	// Complete sends a bare prompt and returns the completion text.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Chat sends a multi-turn conversation with tool definitions and returns
	// the model's next turn, including any tool calls. Passing no tools
	// degrades to a plain chat completion.
	Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition) (*LLMToolResponse, error)

	// Name identifies the adapter (provider name).
	Name() string

	// Model returns the model id used for completions.
	Model() string

	// Verify performs a cheap credential check. Auth failures surface as
	// a typed error so cycle pre-flight can fail fast.
	Verify(ctx context.Context) error
}
