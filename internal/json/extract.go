// Package json pulls JSON objects out of free-form model output.
//
// Agents often wrap structured answers in prose or a fenced code block; the
// helpers here recover the object so workflow steps can hand it on.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract returns the JSON object embedded in text.
//
// Tried in order: the whole text after stripping a code fence, then the span
// from the first '{' to the last '}'. Braces inside strings can defeat the
// second strategy.
func Extract(text string) (string, error) {
	candidate := stripFence(text)
	if isObject(candidate) {
		return candidate, nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if span := candidate[start : end+1]; isObject(span) {
			return span, nil
		}
	}

	return "", fmt.Errorf("no JSON object found in %q", preview(text, 80))
}

// Object extracts and decodes the JSON object embedded in text.
func Object(text string) (map[string]any, error) {
	raw, err := Extract(text)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("failed to decode JSON object: %w", err)
	}
	return obj, nil
}

func isObject(s string) bool {
	var obj map[string]any
	return json.Unmarshal([]byte(s), &obj) == nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = strings.TrimSpace(rest)
	} else if rest, ok := strings.CutPrefix(trimmed, "```"); ok {
		trimmed = strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutSuffix(trimmed, "```"); ok {
		trimmed = strings.TrimSpace(rest)
	}
	return trimmed
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
