// Package tools provides the tool surface exposed to research workers.
// Each tool is standalone; workers receive a per-run registry filtered
// to the tools their budget and role allow.
package tools

import (
	"context"
)

// ToolCategory classifies tools for selection.
type ToolCategory string

const (
	// CategoryResearch covers web search and page fetching.
	CategoryResearch ToolCategory = "/research"

	// CategoryGraph covers read access to the direction graph.
	CategoryGraph ToolCategory = "/graph"

	// CategoryGeneral is for tools usable by any worker.
	CategoryGeneral ToolCategory = "/general"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Default     any            `json:"default,omitempty"`
	Enum        []any          `json:"enum,omitempty"`
	Items       *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// InputSchema renders the schema as the JSON-schema map LLM providers
// expect in tool definitions.
func (s ToolSchema) InputSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines one callable tool.
type Tool struct {
	Name        string
	Description string
	Category    ToolCategory
	Execute     ExecuteFunc
	Schema      ToolSchema
}

// Validate checks if the tool definition is usable.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// ToolResult wraps the outcome of one execution with timing metadata.
type ToolResult struct {
	ToolName   string
	Result     string
	Error      error
	DurationMs int64
}

// IsSuccess reports whether the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
