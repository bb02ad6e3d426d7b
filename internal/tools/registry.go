package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"winterfox/internal/logging"
	"winterfox/internal/types"
)

// Registry holds available tools and provides lookup and execution.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*Tool
	byCategory map[ToolCategory][]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]*Tool),
		byCategory: make(map[ToolCategory][]*Tool),
	}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.byCategory[tool.Category] = append(r.byCategory[tool.Category], tool)

	logging.ToolsDebug("Registered tool: %s (category=%s)", tool.Name, tool.Category)
	return nil
}

// MustRegister registers a tool and panics on error. For static
// registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// All returns every registered tool, sorted by name for stable
// presentation to the model.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definitions renders every tool as an LLM tool definition.
func (r *Registry) Definitions() []types.ToolDefinition {
	all := r.All()
	out := make([]types.ToolDefinition, 0, len(all))
	for _, t := range all {
		out = append(out, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema.InputSchema(),
		})
	}
	return out
}

// Execute runs a named tool. Tool panics and errors never propagate as
// failures: the result string carries the message so the model can
// react to it.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *ToolResult {
	start := time.Now()
	result := &ToolResult{ToolName: name}

	tool := r.Get(name)
	if tool == nil {
		result.Error = fmt.Errorf("%w: %s", ErrToolNotFound, name)
		result.Result = fmt.Sprintf("Error executing %s: unknown tool", name)
		return result
	}

	defer func() {
		if rec := recover(); rec != nil {
			result.Error = fmt.Errorf("tool %s panicked: %v", name, rec)
			result.Result = fmt.Sprintf("Error executing %s: %v", name, rec)
			result.DurationMs = time.Since(start).Milliseconds()
			logging.Get(logging.CategoryTools).Error("Tool %s panicked: %v", name, rec)
		}
	}()

	out, err := tool.Execute(ctx, args)
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err
		result.Result = fmt.Sprintf("Error executing %s: %v", name, err)
		logging.Tools("Tool %s failed in %dms: %v", name, result.DurationMs, err)
		return result
	}

	result.Result = out
	logging.ToolsDebug("Tool %s completed in %dms (%d chars)", name, result.DurationMs, len(out))
	return result
}
