package llm

import (
	"encoding/json"
	"strings"
)

// StripCodeFence removes a surrounding markdown code block, if any.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx < 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// ParseJSONArray decodes a response that must be a JSON array of strings,
// optionally wrapped in a markdown code block. ok is false for anything else,
// including arrays holding non-string values.
func ParseJSONArray(text string) (items []string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if err := json.Unmarshal([]byte(text), &items); err == nil {
		return items, true
	}

	stripped := StripCodeFence(text)
	if stripped == text || stripped == "" {
		return nil, false
	}
	items = nil
	if err := json.Unmarshal([]byte(stripped), &items); err != nil {
		return nil, false
	}
	return items, true
}
