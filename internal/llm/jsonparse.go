package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the JSON payload out of a model reply. It strips markdown
// code fences and falls back to the outermost array or object in the text.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return s
	}

	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	return s
}

// DecodeJSON extracts and strictly decodes a model reply into v.
func DecodeJSON(text string, v any) error {
	payload := ExtractJSON(text)
	if payload == "" {
		return fmt.Errorf("empty model reply")
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}
