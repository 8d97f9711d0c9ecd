package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses a model response into v. Responses are frequently wrapped
// in Markdown code fences despite the JSON response instruction, so fences
// are stripped before decoding.
func DecodeJSON(text string, v any) error {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[3:]
	}
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-3]
	}
	s = strings.TrimSpace(s)

	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return nil
}
