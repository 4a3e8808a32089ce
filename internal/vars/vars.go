// Package vars implements template variable substitution and path-based
// value extraction used across prompt rendering, endpoint bodies, and
// session extraction.
package vars

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// markerPattern matches {{name}} with optional whitespace around the name.
var markerPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// segmentPattern matches a path segment with an optional trailing index,
// e.g. "choices[0]".
var segmentPattern = regexp.MustCompile(`^([^\[\]]*)(?:\[(\d+)\])?$`)

// Substitute replaces every {{name}} marker in template with the matching
// value. Markers without a matching value are left verbatim. Non-string
// values are converted with their default string form. When escapeJSON is
// true each substituted value is escaped for embedding inside a JSON string
// literal.
//
// Replacement is done with a function callback so characters in the
// substituted value are never reinterpreted as replacement metacharacters.
func Substitute(template string, values map[string]any, escapeJSON bool) string {
	if template == "" {
		return ""
	}
	if len(values) == 0 {
		return template
	}

	return markerPattern.ReplaceAllStringFunc(template, func(marker string) string {
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(marker, "{{"), "}}"))
		v, ok := values[name]
		if !ok || v == nil {
			return marker
		}
		s := Stringify(v)
		if escapeJSON {
			s = EscapeJSONString(s)
		}
		return s
	})
}

// Stringify converts a value to its string form. Strings pass through
// unchanged, structured values use the fmt default format.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

// EscapeJSONString escapes a value for safe embedding inside a JSON string
// literal.
func EscapeJSONString(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(s)
}

// GetPath resolves a dotted path with optional bracketed integer indexes
// (e.g. "choices[0].message.content") against a JSON-like value. The second
// return value is false at the first missing key, non-object traversal, nil
// intermediate, or out-of-bounds index. An empty path returns the root value.
func GetPath(value any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return value, true
	}

	cur := value
	for _, seg := range strings.Split(path, ".") {
		m := segmentPattern.FindStringSubmatch(seg)
		if m == nil {
			return nil, false
		}
		key := m[1]

		if key != "" {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = obj[key]
			if !ok {
				return nil, false
			}
		}

		if m[2] != "" {
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, false
			}
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		}
	}

	return cur, true
}
