package types

import (
	"strings"
)

// ExtractJSONObject returns the first balanced JSON object in a response,
// tolerating markdown fences and leading/trailing prose. Returns "" when
// no balanced object is found. Brace depth tracking is quote-aware so
// braces inside string values do not unbalance the scan.
func ExtractJSONObject(response string) string {
	s := StripCodeFences(response)

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// ExtractJSONArray returns the first balanced JSON array in a response.
func ExtractJSONArray(response string) string {
	s := StripCodeFences(response)

	start := strings.Index(s, "[")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// StripCodeFences removes a surrounding ```json ... ``` (or bare ```) fence
// when the whole payload is fenced. Inner fences are left untouched.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	// Drop the opening fence line.
	nl := strings.Index(trimmed, "\n")
	if nl == -1 {
		return s
	}
	body := trimmed[nl+1:]
	if end := strings.LastIndex(body, "```"); end != -1 {
		body = body[:end]
	}
	return body
}

// TruncateString cuts s to at most max runes, appending an ellipsis when
// truncated. Used for claim previews in prompts and views.
func TruncateString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
