package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winterfox/internal/llm"
	"winterfox/internal/tools"
	"winterfox/internal/types"
)

// chatScript replays canned LLMToolResponse turns.
type chatScript struct {
	turns []*types.LLMToolResponse
	errs  []error
	calls int
	seen  [][]types.Message
}

func (c *chatScript) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}
func (c *chatScript) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return "", nil
}
func (c *chatScript) Chat(ctx context.Context, system string, messages []types.Message, defs []types.ToolDefinition) (*types.LLMToolResponse, error) {
	c.seen = append(c.seen, messages)
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.turns) {
		return c.turns[i], nil
	}
	return &types.LLMToolResponse{Text: "done", StopReason: "end_turn"}, nil
}
func (c *chatScript) Name() string                     { return "scripted" }
func (c *chatScript) Model() string                    { return "scripted-model" }
func (c *chatScript) Verify(ctx context.Context) error { return nil }

// testToolset registers a fake web_search that invokes the recorder.
func testToolset(record func(types.SearchRecord)) *tools.Registry {
	reg := tools.NewRegistry()
	reg.MustRegister(&tools.Tool{
		Name:     "web_search",
		Category: tools.CategoryResearch,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			q, _ := args["query"].(string)
			record(types.SearchRecord{Query: q, Engine: "fake"})
			return fmt.Sprintf("results for %s", q), nil
		},
	})
	reg.MustRegister(&tools.Tool{
		Name:     "web_fetch",
		Category: tools.CategoryResearch,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("connection refused")
		},
	})
	return reg
}

func usageTurn(text string, calls ...types.ToolCall) *types.LLMToolResponse {
	stop := "end_turn"
	if len(calls) > 0 {
		stop = "tool_use"
	}
	return &types.LLMToolResponse{
		Text: text, ToolCalls: calls, StopReason: stop,
		Usage: types.UsageMetadata{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	}
}

func TestRunToolLoopAndCritique(t *testing.T) {
	client := &chatScript{turns: []*types.LLMToolResponse{
		usageTurn("", types.ToolCall{ID: "c1", Name: "web_search", Input: map[string]any{"query": "solid state"}}),
		usageTurn("Final findings with sources."),
		usageTurn("Weakest evidence is the 2027 projection."),
	}}

	w := New(Config{Name: "w1", Client: client, Toolset: testToolset})
	out, err := w.Run(context.Background(), RunInput{FocusedView: "target view"})
	require.NoError(t, err)

	assert.Equal(t, "w1", out.AgentName)
	assert.Equal(t, "Final findings with sources.", out.RawText)
	assert.Equal(t, "Weakest evidence is the 2027 projection.", out.Critique)
	assert.False(t, out.Failed)

	require.Len(t, out.Searches, 1)
	assert.Equal(t, "solid state", out.Searches[0].Query)

	// Three calls: tool turn, final turn, critique turn.
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, 450, out.TokensTotal)
	assert.Greater(t, out.CostUSD, 0.0)

	// Second request carried the assistant tool turn and the tool result.
	second := client.seen[1]
	require.Len(t, second, 3)
	assert.Equal(t, "assistant", second[1].Role)
	assert.Equal(t, "tool", second[2].Role)
	assert.Equal(t, "c1", second[2].ToolCallID)
	assert.Contains(t, second[2].Content, "results for solid state")
}

func TestRunToolErrorFedBackToModel(t *testing.T) {
	client := &chatScript{turns: []*types.LLMToolResponse{
		usageTurn("", types.ToolCall{ID: "c1", Name: "web_fetch", Input: map[string]any{"url": "https://x.com"}}),
		usageTurn("worked around the failure"),
		usageTurn("critique"),
	}}

	w := New(Config{Name: "w1", Client: client, Toolset: testToolset})
	out, err := w.Run(context.Background(), RunInput{FocusedView: "v"})
	require.NoError(t, err)
	assert.False(t, out.Failed)

	second := client.seen[1]
	assert.Contains(t, second[2].Content, "Error executing web_fetch")
}

func TestRunIterationLimit(t *testing.T) {
	// Every turn requests another search; the loop must stop at the cap.
	var turns []*types.LLMToolResponse
	for i := 0; i < 10; i++ {
		turns = append(turns, usageTurn("", types.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "web_search", Input: map[string]any{"query": "q"}}))
	}
	client := &chatScript{turns: turns}

	w := New(Config{Name: "w1", Client: client, Toolset: testToolset, MaxIterations: 3})
	out, err := w.Run(context.Background(), RunInput{FocusedView: "v"})
	require.NoError(t, err)
	assert.False(t, out.Failed)
	// 3 loop turns plus the critique call.
	assert.Equal(t, 4, client.calls)
	assert.Len(t, out.Searches, 3)
}

func TestRunLLMErrorClosesWorkerFailed(t *testing.T) {
	client := &chatScript{errs: []error{fmt.Errorf("model overloaded")}}

	w := New(Config{Name: "w1", Client: client, Toolset: testToolset})
	out, err := w.Run(context.Background(), RunInput{FocusedView: "v"})
	require.NoError(t, err)
	assert.True(t, out.Failed)
	assert.Contains(t, out.Error, "model overloaded")
	assert.Contains(t, out.Critique, "model overloaded")
}

func TestRunAuthErrorPropagates(t *testing.T) {
	client := &chatScript{errs: []error{&llm.AuthError{Provider: "openai", Message: "bad key"}}}

	w := New(Config{Name: "w1", Client: client, Toolset: testToolset})
	_, err := w.Run(context.Background(), RunInput{FocusedView: "v"})
	require.Error(t, err)
	assert.True(t, llm.IsAuthError(err))
}

func TestRunCritiqueFailureIsNonFatal(t *testing.T) {
	client := &chatScript{
		turns: []*types.LLMToolResponse{usageTurn("findings")},
		errs:  []error{nil, fmt.Errorf("critique timed out")},
	}

	w := New(Config{Name: "w1", Client: client, Toolset: testToolset})
	out, err := w.Run(context.Background(), RunInput{FocusedView: "v"})
	require.NoError(t, err)
	assert.False(t, out.Failed)
	assert.Equal(t, "findings", out.RawText)
	assert.Empty(t, out.Critique)
}

func TestBuildUserPromptSections(t *testing.T) {
	p := buildUserPrompt(RunInput{
		Mission:      "find the wedge",
		Override:     "focus on pricing",
		PriorContext: "known facts",
		FocusedView:  "the target",
		ContextDocs:  []types.ContextDocument{{Filename: "notes.md", Content: "curated notes"}},
	})
	assert.Contains(t, p, "MISSION:\nfind the wedge")
	assert.Contains(t, p, "CYCLE INSTRUCTION: focus on pricing")
	assert.Contains(t, p, "CONTEXT DOCUMENT (notes.md):\ncurated notes")
	assert.Contains(t, p, "ACCUMULATED KNOWLEDGE:\nknown facts")
	assert.Contains(t, p, "TARGET DIRECTION:\nthe target")
}
