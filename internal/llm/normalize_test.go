package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireCall(id, name string, args string) wireToolCall {
	var tc wireToolCall
	tc.ID = id
	tc.Type = "function"
	tc.Function.Name = name
	if args != "" {
		tc.Function.Arguments = json.RawMessage(args)
	}
	return tc
}

func TestNormalizeStandardStringArguments(t *testing.T) {
	calls := NormalizeToolCalls([]wireToolCall{
		wireCall("abc", "web_search", `"{\"query\":\"solar\",\"max_results\":5}"`),
	})
	require.Len(t, calls, 1)
	assert.Equal(t, "abc", calls[0].ID)
	assert.Equal(t, "web_search", calls[0].Name)
	assert.Equal(t, "solar", calls[0].Input["query"])
	assert.Equal(t, float64(5), calls[0].Input["max_results"])
}

func TestNormalizeObjectArguments(t *testing.T) {
	calls := NormalizeToolCalls([]wireToolCall{
		wireCall("abc", "web_fetch", `{"url":"https://example.com"}`),
	})
	require.Len(t, calls, 1)
	assert.Equal(t, "https://example.com", calls[0].Input["url"])
}

func TestNormalizeMissingNameSkipped(t *testing.T) {
	calls := NormalizeToolCalls([]wireToolCall{
		wireCall("abc", "", `{"a":1}`),
		wireCall("def", "search_graph", `{"query":"x"}`),
	})
	require.Len(t, calls, 1)
	assert.Equal(t, "search_graph", calls[0].Name)
}

func TestNormalizeEmptyAndNullArguments(t *testing.T) {
	calls := NormalizeToolCalls([]wireToolCall{
		wireCall("a", "t1", ""),
		wireCall("b", "t2", `null`),
		wireCall("c", "t3", `""`),
	})
	require.Len(t, calls, 3)
	for _, c := range calls {
		assert.NotNil(t, c.Input)
		assert.Empty(t, c.Input)
	}
}

func TestNormalizeMissingIDSynthesized(t *testing.T) {
	calls := NormalizeToolCalls([]wireToolCall{
		wireCall("", "t1", `{}`),
		wireCall("", "t2", `{}`),
	})
	require.Len(t, calls, 2)
	assert.Equal(t, "call_0", calls[0].ID)
	assert.Equal(t, "call_1", calls[1].ID)
}

func TestNormalizeNilSlice(t *testing.T) {
	assert.Nil(t, NormalizeToolCalls(nil))
}

func TestExtractEmbeddedToolCallTags(t *testing.T) {
	content := `I'll search for that.
<tool_call>{"name":"web_search","arguments":{"query":"ev adoption europe"}}</tool_call>
<tool_call>{"name":"read_graph_node","arguments":{"id":"n1"}}</tool_call>`

	calls := ExtractEmbeddedToolCalls(content)
	require.Len(t, calls, 2)
	assert.Equal(t, "web_search", calls[0].Name)
	assert.Equal(t, "ev adoption europe", calls[0].Input["query"])
	assert.Equal(t, "read_graph_node", calls[1].Name)
	assert.Equal(t, "call_0", calls[0].ID)
}

func TestExtractEmbeddedToolCallsBracketForm(t *testing.T) {
	content := `[TOOL_CALLS] [{"name":"web_search","arguments":{"query":"lithium prices"}}]`
	calls := ExtractEmbeddedToolCalls(content)
	require.Len(t, calls, 1)
	assert.Equal(t, "web_search", calls[0].Name)
	assert.Equal(t, "lithium prices", calls[0].Input["query"])
}

func TestExtractEmbeddedToolCallsNone(t *testing.T) {
	assert.Empty(t, ExtractEmbeddedToolCalls("just a normal answer"))
	assert.Empty(t, ExtractEmbeddedToolCalls("<tool_call>not json</tool_call>"))
}
