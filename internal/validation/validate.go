package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validate evaluates every rule independently against the output and
// collects one human-readable error per failing rule. A rule whose
// evaluation fails internally (malformed regex, bad schema) becomes a
// validation error rather than propagating. responseTimeMs <= 0 means no
// response time was measured and max_response_time rules are skipped.
func Validate(output string, rules []Rule, responseTimeMs int64) Outcome {
	out := Outcome{Passed: true}

	for _, rule := range rules {
		msg, failed := evaluateRule(output, rule, responseTimeMs)
		if !failed {
			continue
		}
		if rule.Message != "" {
			msg = rule.Message
		}
		out.Errors = append(out.Errors, msg)
	}

	out.Passed = len(out.Errors) == 0
	return out
}

// evaluateRule returns a default failure message and whether the rule
// failed. Panics inside a rule are converted into failures.
func evaluateRule(output string, rule Rule, responseTimeMs int64) (msg string, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprintf("rule %q failed to evaluate: %v", rule.Type, r)
			failed = true
		}
	}()

	switch rule.Type {
	case RuleContains:
		needle := stringValue(rule.Value)
		if !strings.Contains(output, needle) {
			return fmt.Sprintf("output does not contain %q", needle), true
		}

	case RuleNotContains:
		needle := stringValue(rule.Value)
		if strings.Contains(output, needle) {
			return fmt.Sprintf("output contains forbidden text %q", needle), true
		}

	case RuleMinLength:
		n, ok := intValue(rule.Value)
		if !ok {
			return fmt.Sprintf("min_length rule has non-numeric value %v", rule.Value), true
		}
		if got := utf8.RuneCountInString(output); got < n {
			return fmt.Sprintf("output length %d is below minimum %d", got, n), true
		}

	case RuleMaxLength:
		n, ok := intValue(rule.Value)
		if !ok {
			return fmt.Sprintf("max_length rule has non-numeric value %v", rule.Value), true
		}
		if got := utf8.RuneCountInString(output); got > n {
			return fmt.Sprintf("output length %d exceeds maximum %d", got, n), true
		}

	case RuleRegex:
		pattern := stringValue(rule.Value)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Sprintf("invalid regex %q: %v", pattern, err), true
		}
		if !re.MatchString(output) {
			return fmt.Sprintf("output does not match pattern %q", pattern), true
		}

	case RuleJSONSchema:
		schema, ok := rule.Value.(map[string]any)
		if !ok {
			return fmt.Sprintf("json_schema rule value must be an object, got %T", rule.Value), true
		}
		value, err := decodeJSON(output)
		if err != nil {
			return fmt.Sprintf("output is not valid JSON: %v", err), true
		}
		if err := validateSchema(value, schema, "$"); err != nil {
			return fmt.Sprintf("schema violation: %v", err), true
		}

	case RuleMaxResponseTime:
		if responseTimeMs <= 0 {
			return "", false
		}
		limit, ok := intValue(rule.Value)
		if !ok {
			return fmt.Sprintf("max_response_time rule has non-numeric value %v", rule.Value), true
		}
		if responseTimeMs > int64(limit) {
			return fmt.Sprintf("response time %dms exceeds limit %dms", responseTimeMs, limit), true
		}

	case RuleIsJSON:
		if _, err := decodeJSON(output); err != nil {
			return fmt.Sprintf("output is not valid JSON: %v", err), true
		}

	case RuleContainsJSON:
		if !containsJSONObject(output) {
			return "output does not contain a JSON object", true
		}

	default:
		return fmt.Sprintf("unknown rule type %q", rule.Type), true
	}

	return "", false
}

// decodeJSON decodes a full JSON document, rejecting trailing garbage.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("extra data after JSON value")
	}
	return value, nil
}

// containsJSONObject reports whether output embeds at least one balanced,
// parseable {...} block.
func containsJSONObject(output string) bool {
	for start := strings.Index(output, "{"); start >= 0; {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(output); i++ {
			c := output[i]
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
					var v map[string]any
					if json.Unmarshal([]byte(output[start:i+1]), &v) == nil {
						return true
					}
					i = len(output)
				}
			}
		}
		next := strings.Index(output[start+1:], "{")
		if next < 0 {
			return false
		}
		start += 1 + next
	}
	return false
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case uint:
		return int(n), true
	case uint64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}
