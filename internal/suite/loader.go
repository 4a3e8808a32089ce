package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/promptlane/promptlane/internal/judge"
	"github.com/promptlane/promptlane/internal/session"
	"github.com/promptlane/promptlane/internal/validation"
)

// LoadFromFile loads and validates a test suite from a YAML file.
func LoadFromFile(path string) (*Suite, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("suite: read %q: %w", path, err)
	}

	var s Suite
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("suite: parse %q: %w", path, err)
	}
	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("suite: validate %q: %w", path, err)
	}

	return &s, nil
}

// LoadFromDir loads and validates all test suites from a directory.
func LoadFromDir(dir string) ([]*Suite, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("suite: read dir %q: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	out := make([]*Suite, 0, len(paths))
	for _, path := range paths {
		s, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Validate checks a test suite for consistency.
func Validate(s *Suite) error {
	if s == nil {
		return fmt.Errorf("nil suite")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("suite: missing suite name")
	}
	switch s.Target {
	case TargetPrompt:
		if s.Prompt == nil || len(s.Prompt.Versions) == 0 {
			return fmt.Errorf("suite: prompt target needs at least one version")
		}
		for i, v := range s.Prompt.Versions {
			if strings.TrimSpace(v.Content) == "" {
				return fmt.Errorf("prompt.versions[%d]: missing content", i)
			}
		}
	case TargetEndpoint:
		if s.Endpoint == nil || strings.TrimSpace(s.Endpoint.URL) == "" {
			return fmt.Errorf("suite: endpoint target needs a url")
		}
		if err := validateAuth(s.Endpoint.Auth); err != nil {
			return err
		}
	default:
		return fmt.Errorf("suite: unknown target %q", s.Target)
	}
	if len(s.Cases) == 0 {
		return fmt.Errorf("suite: no cases")
	}

	if err := validateRules("validation_rules", s.ValidationRules); err != nil {
		return err
	}
	if err := validateJudge(s.Judge); err != nil {
		return err
	}

	seenIDs := make(map[string]struct{}, len(s.Cases))
	for i, c := range s.Cases {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return fmt.Errorf("cases[%d]: missing id", i)
		}
		if _, ok := seenIDs[id]; ok {
			return fmt.Errorf("cases[%d] (%s): duplicate id", i, id)
		}
		seenIDs[id] = struct{}{}

		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("cases[%d] (%s): missing name", i, id)
		}
		if c.ValidationMode != "" && c.ValidationMode != ValidatePerTurn && c.ValidationMode != ValidateFinalOnly {
			return fmt.Errorf("cases[%d] (%s): unknown validation_mode %q", i, id, c.ValidationMode)
		}
		if err := validateRules(fmt.Sprintf("cases[%d] (%s): validation_rules", i, id), c.ValidationRules); err != nil {
			return err
		}
		if err := validateJudgeRules(fmt.Sprintf("cases[%d] (%s): judge_rules", i, id), c.JudgeRules); err != nil {
			return err
		}
		for j, turn := range c.Conversation {
			if turn.Role != "user" && turn.Role != "assistant" {
				return fmt.Errorf("cases[%d] (%s): conversation[%d]: unknown role %q", i, id, j, turn.Role)
			}
			if turn.Role == "user" && strings.TrimSpace(turn.Content) == "" {
				return fmt.Errorf("cases[%d] (%s): conversation[%d]: user turn missing content", i, id, j)
			}
			if err := validateRules(fmt.Sprintf("cases[%d] (%s): conversation[%d]: validation_rules", i, id, j), turn.ValidationRules); err != nil {
				return err
			}
			if err := validateJudgeRules(fmt.Sprintf("cases[%d] (%s): conversation[%d]: judge_rules", i, id, j), turn.JudgeRules); err != nil {
				return err
			}
		}
		if err := validateSession(i, id, c.Session); err != nil {
			return err
		}
	}
	return nil
}

func validateAuth(auth *EndpointAuth) error {
	if auth == nil {
		return nil
	}
	switch auth.Type {
	case "bearer", "api_key":
		if strings.TrimSpace(auth.Token) == "" {
			return fmt.Errorf("endpoint.auth (%s): missing token", auth.Type)
		}
	case "basic":
		if strings.TrimSpace(auth.Username) == "" {
			return fmt.Errorf("endpoint.auth (basic): missing username")
		}
	default:
		return fmt.Errorf("endpoint.auth: unknown type %q", auth.Type)
	}
	return nil
}

func validateRules(prefix string, rules []validation.Rule) error {
	for i, r := range rules {
		typ := strings.TrimSpace(r.Type)
		if typ == "" {
			return fmt.Errorf("%s[%d]: missing type", prefix, i)
		}
		if !isKnownRuleType(typ) {
			return fmt.Errorf("%s[%d]: unknown type %q", prefix, i, typ)
		}
		if r.Severity != "" && r.Severity != validation.SeverityFail && r.Severity != validation.SeverityWarning {
			return fmt.Errorf("%s[%d] (%s): unknown severity %q", prefix, i, typ, r.Severity)
		}
		if typ == validation.RuleRegex {
			pattern, ok := r.Value.(string)
			if !ok {
				return fmt.Errorf("%s[%d] (regex): value must be a string", prefix, i)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("%s[%d] (regex): %v", prefix, i, err)
			}
		}
	}
	return nil
}

func isKnownRuleType(typ string) bool {
	switch typ {
	case validation.RuleContains, validation.RuleNotContains,
		validation.RuleMinLength, validation.RuleMaxLength,
		validation.RuleRegex, validation.RuleJSONSchema,
		validation.RuleMaxResponseTime, validation.RuleIsJSON,
		validation.RuleContainsJSON:
		return true
	default:
		return false
	}
}

func validateJudge(cfg *judge.Config) error {
	if cfg == nil {
		return nil
	}
	for i, c := range cfg.Criteria {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("judge.criteria[%d]: missing name", i)
		}
		if c.Weight < 0 || c.Weight > 1 {
			return fmt.Errorf("judge.criteria[%d] (%s): weight must be in [0,1]", i, c.Name)
		}
	}
	if err := validateJudgeRules("judge.validation_rules", cfg.ValidationRules); err != nil {
		return err
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return fmt.Errorf("judge: min_score must be in [0,1]")
	}
	return nil
}

func validateJudgeRules(prefix string, rules []judge.ValidationRule) error {
	for i, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%s[%d]: missing name", prefix, i)
		}
		if r.Severity != "" && r.Severity != validation.SeverityFail && r.Severity != validation.SeverityWarning {
			return fmt.Errorf("%s[%d] (%s): unknown severity %q", prefix, i, r.Name, r.Severity)
		}
	}
	return nil
}

func validateSession(caseIndex int, caseID string, cfg *session.Config) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if te := cfg.TokenExtraction; te != nil {
		if strings.TrimSpace(te.Path) == "" {
			return fmt.Errorf("cases[%d] (%s): session.token_extraction: missing path", caseIndex, caseID)
		}
		switch te.InjectInto {
		case session.InjectHeader, session.InjectBody, session.InjectQuery:
		default:
			return fmt.Errorf("cases[%d] (%s): session.token_extraction: unknown inject_into %q", caseIndex, caseID, te.InjectInto)
		}
		if strings.TrimSpace(te.Name) == "" {
			return fmt.Errorf("cases[%d] (%s): session.token_extraction: missing name", caseIndex, caseID)
		}
	}
	for j, ve := range cfg.VariableExtractions {
		if strings.TrimSpace(ve.Name) == "" {
			return fmt.Errorf("cases[%d] (%s): session.variable_extractions[%d]: missing name", caseIndex, caseID, j)
		}
		if strings.TrimSpace(ve.Path) == "" {
			return fmt.Errorf("cases[%d] (%s): session.variable_extractions[%d] (%s): missing path", caseIndex, caseID, j, ve.Name)
		}
	}
	return nil
}
