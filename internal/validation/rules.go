// Package validation implements deterministic output checks: substring,
// length, regex, JSON well-formedness, a JSON-Schema subset, and response
// time ceilings.
package validation

// Severity controls whether a failing rule blocks the test.
type Severity string

const (
	SeverityFail    Severity = "fail"
	SeverityWarning Severity = "warning"
)

// Rule kinds.
const (
	RuleContains        = "contains"
	RuleNotContains     = "not_contains"
	RuleMinLength       = "min_length"
	RuleMaxLength       = "max_length"
	RuleRegex           = "regex"
	RuleJSONSchema      = "json_schema"
	RuleMaxResponseTime = "max_response_time"
	RuleIsJSON          = "is_json"
	RuleContainsJSON    = "contains_json"
)

// Rule is a single deterministic check against produced output.
type Rule struct {
	Type     string   `yaml:"type" json:"type"`
	Value    any      `yaml:"value,omitempty" json:"value,omitempty"`
	Message  string   `yaml:"message,omitempty" json:"message,omitempty"`
	Severity Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// Outcome is the aggregate result of evaluating a rule list.
type Outcome struct {
	Passed bool     `json:"passed"`
	Errors []string `json:"errors,omitempty"`
}

// Merge concatenates suite-level and case-level rules. The merge is
// additive: duplicate rules both apply independently.
func Merge(suiteRules, caseRules []Rule) []Rule {
	if len(suiteRules) == 0 && len(caseRules) == 0 {
		return nil
	}
	out := make([]Rule, 0, len(suiteRules)+len(caseRules))
	out = append(out, suiteRules...)
	out = append(out, caseRules...)
	return out
}
