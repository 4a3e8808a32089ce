package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ParseJSON extracts the first balanced JSON object from raw model output
// into out. Markdown code fences are stripped first. An output with no
// parseable object returns an error; callers degrade it to a judge failure
// rather than propagating.
func ParseJSON(raw string, out any) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return errors.New("empty output")
	}

	if strings.HasPrefix(s, "```") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "```"))
		if strings.HasPrefix(s, "json") {
			s = strings.TrimSpace(strings.TrimPrefix(s, "json"))
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = strings.TrimSpace(s[:idx])
		}
	}

	obj, ok := firstJSONObject(s)
	if !ok {
		return errors.New("missing JSON object")
	}
	return json.Unmarshal([]byte(obj), out)
}

// firstJSONObject returns the first balanced {...} block, tracking string
// literals so braces inside strings do not affect the balance.
func firstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
