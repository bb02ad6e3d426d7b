package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"winterfox/internal/logging"
	"winterfox/internal/types"
)

// wireToolCall is the loosest shape providers return tool calls in.
// Arguments may be a JSON-encoded string or an inline object.
type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// NormalizeToolCalls converts provider tool calls into the internal
// shape, tolerating the quirks different backends exhibit: missing
// names are skipped, object-valued arguments are accepted alongside
// string-encoded ones, empty arguments become an empty map, and
// missing ids are synthesized.
func NormalizeToolCalls(raw []wireToolCall) []types.ToolCall {
	if len(raw) == 0 {
		return nil
	}

	var out []types.ToolCall
	for i, tc := range raw {
		if tc.Function.Name == "" {
			logging.APIDebug("Skipping tool call %d with no function name", i)
			continue
		}

		input := parseArguments(tc.Function.Arguments)

		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out = append(out, types.ToolCall{ID: id, Name: tc.Function.Name, Input: input})
	}
	return out
}

// parseArguments accepts arguments either as a JSON object or as a
// string containing JSON. Anything unparseable becomes an empty map so
// the tool still runs and can report the problem itself.
func parseArguments(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]interface{}{}
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if encoded == "" {
			return map[string]interface{}{}
		}
		if err := json.Unmarshal([]byte(encoded), &obj); err == nil {
			return obj
		}
	}

	logging.APIDebug("Unparseable tool arguments: %s", types.TruncateString(string(raw), 120))
	return map[string]interface{}{}
}

// ExtractEmbeddedToolCalls finds tool calls some models emit inside
// message content instead of the structured field, either as
// <tool_call>{...}</tool_call> blocks or a [TOOL_CALLS] [...] prefix.
// Only used when no structured tool calls were present.
func ExtractEmbeddedToolCalls(content string) []types.ToolCall {
	var out []types.ToolCall

	rest := content
	n := 0
	for {
		start := strings.Index(rest, "<tool_call>")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "</tool_call>")
		if end == -1 {
			break
		}
		block := rest[start+len("<tool_call>") : start+end]
		if tc, ok := parseEmbeddedCall(block, n); ok {
			out = append(out, tc)
			n++
		}
		rest = rest[start+end+len("</tool_call>"):]
	}
	if len(out) > 0 {
		return out
	}

	if idx := strings.Index(content, "[TOOL_CALLS]"); idx != -1 {
		arr := types.ExtractJSONArray(content[idx+len("[TOOL_CALLS]"):])
		if arr == "" {
			return nil
		}
		var items []map[string]interface{}
		if err := json.Unmarshal([]byte(arr), &items); err != nil {
			return nil
		}
		for i, item := range items {
			if tc, ok := embeddedCallFromMap(item, i); ok {
				out = append(out, tc)
			}
		}
	}
	return out
}

func parseEmbeddedCall(block string, n int) (types.ToolCall, bool) {
	obj := types.ExtractJSONObject(block)
	if obj == "" {
		return types.ToolCall{}, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return types.ToolCall{}, false
	}
	return embeddedCallFromMap(m, n)
}

func embeddedCallFromMap(m map[string]interface{}, n int) (types.ToolCall, bool) {
	name, _ := m["name"].(string)
	if name == "" {
		return types.ToolCall{}, false
	}
	input, _ := m["arguments"].(map[string]interface{})
	if input == nil {
		input, _ = m["parameters"].(map[string]interface{})
	}
	if input == nil {
		input = map[string]interface{}{}
	}
	return types.ToolCall{
		ID:    fmt.Sprintf("call_%d", n),
		Name:  name,
		Input: input,
	}, true
}
