// Package judge implements LLM-as-judge evaluation: weighted-criteria
// scoring and rule-based pass/fail gating, both through a single
// structured-JSON completion call.
package judge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/promptlane/promptlane/internal/llm"
	"github.com/promptlane/promptlane/internal/validation"
)

// Criterion is one weighted scoring dimension.
type Criterion struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Weight      float64 `yaml:"weight" json:"weight"` // in [0,1]
}

// ValidationRule is a named pass/fail judgment, distinct from scoring.
type ValidationRule struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Message     string              `yaml:"message,omitempty" json:"message,omitempty"`
	Severity    validation.Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// Config enables and parameterizes judging for a suite or test case.
type Config struct {
	Enabled         bool             `yaml:"enabled" json:"enabled"`
	Provider        string           `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model           string           `yaml:"model,omitempty" json:"model,omitempty"`
	Criteria        []Criterion      `yaml:"criteria,omitempty" json:"criteria,omitempty"`
	ValidationRules []ValidationRule `yaml:"validation_rules,omitempty" json:"validationRules,omitempty"`
	MinScore        float64          `yaml:"min_score,omitempty" json:"minScore,omitempty"` // enforced only when > 0
}

// ScoreResult is the outcome of weighted-criteria scoring. Scored is false
// when no criterion yielded a parseable score; the Score is then zero and
// Reasoning describes the failure.
type ScoreResult struct {
	Score           float64            `json:"score"`
	Scored          bool               `json:"scored"`
	CriterionScores map[string]float64 `json:"criterionScores,omitempty"`
	Reasoning       string             `json:"reasoning,omitempty"`
}

// GateResult is the outcome of rule-based gating. Warnings never affect
// Passed.
type GateResult struct {
	Passed   bool            `json:"passed"`
	Results  map[string]bool `json:"results"`
	Errors   []string        `json:"errors,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Judge evaluates outputs through a completion interface.
type Judge struct {
	completer llm.Completer
	creds     llm.Credentials
}

// New creates a Judge bound to a completer and credentials.
func New(completer llm.Completer, creds llm.Credentials) *Judge {
	return &Judge{completer: completer, creds: creds}
}

// MergeRules concatenates two judge rule lists additively; duplicate names
// both apply independently.
func MergeRules(a, b []ValidationRule) []ValidationRule {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]ValidationRule, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// BelowThreshold reports whether a computed score fails the configured
// minimum. A MinScore of zero disables the check; a score equal to the
// threshold passes.
func BelowThreshold(score float64, cfg *Config) bool {
	if cfg == nil || cfg.MinScore <= 0 {
		return false
	}
	return score < cfg.MinScore
}

// ThresholdMessage formats the failure message for a below-threshold score,
// with both percentages rounded to the nearest integer.
func ThresholdMessage(score, minScore float64) string {
	return fmt.Sprintf("Judge score %d%% is below minimum threshold of %d%%",
		int(math.Round(score*100)), int(math.Round(minScore*100)))
}

type scoredCriterion struct {
	Name   string   `json:"name"`
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

type scoreOutput struct {
	Criteria  []scoredCriterion `json:"criteria"`
	Reasoning string            `json:"reasoning"`
}

// Score asks the judge model to rate each configured criterion 0-10 and
// computes a weighted average normalized to [0,1]. Criteria whose score is
// missing or out of range are excluded from the weighted sum; the divisor is
// always the total configured weight. A provider failure is returned as an
// error; unparseable judge output degrades to an unscored result.
func (j *Judge) Score(ctx context.Context, input, expected, output string, cfg *Config) (*ScoreResult, error) {
	if j == nil || j.completer == nil {
		return nil, errors.New("judge: nil completer")
	}
	if cfg == nil || len(cfg.Criteria) == 0 {
		return nil, errors.New("judge: no criteria configured")
	}

	prompt, err := renderScorePrompt(input, expected, output, cfg.Criteria)
	if err != nil {
		return nil, fmt.Errorf("judge: render prompt: %w", err)
	}

	raw, err := j.complete(ctx, cfg, prompt)
	if err != nil {
		return nil, fmt.Errorf("judge: llm: %w", err)
	}

	var out scoreOutput
	if err := llm.ParseJSON(raw, &out); err != nil {
		return &ScoreResult{
			Reasoning: fmt.Sprintf("judge returned unparseable output: %v", err),
		}, nil
	}

	byName := make(map[string]scoredCriterion, len(out.Criteria))
	for _, c := range out.Criteria {
		byName[strings.ToLower(strings.TrimSpace(c.Name))] = c
	}

	totalWeight := 0.0
	for _, c := range cfg.Criteria {
		totalWeight += c.Weight
	}
	equalWeights := totalWeight <= 0

	res := &ScoreResult{
		CriterionScores: make(map[string]float64, len(cfg.Criteria)),
		Reasoning:       strings.TrimSpace(out.Reasoning),
	}

	weightedSum := 0.0
	var reasons []string
	for _, c := range cfg.Criteria {
		scored, ok := byName[strings.ToLower(strings.TrimSpace(c.Name))]
		if !ok || scored.Score == nil || *scored.Score < 0 || *scored.Score > 10 {
			continue
		}
		normalized := *scored.Score / 10
		res.CriterionScores[c.Name] = normalized

		weight := c.Weight
		if equalWeights {
			weight = 1
		}
		weightedSum += normalized * weight

		if r := strings.TrimSpace(scored.Reason); r != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", c.Name, r))
		}
	}

	if len(res.CriterionScores) == 0 {
		res.CriterionScores = nil
		if res.Reasoning == "" {
			res.Reasoning = "judge returned no parseable criterion scores"
		}
		return res, nil
	}

	divisor := totalWeight
	if equalWeights {
		divisor = float64(len(cfg.Criteria))
	}
	res.Score = weightedSum / divisor
	res.Scored = true
	if res.Reasoning == "" {
		res.Reasoning = strings.Join(reasons, "; ")
	}
	return res, nil
}

type judgedRule struct {
	Name   string `json:"name"`
	Passed *bool  `json:"passed"`
	Reason string `json:"reason"`
}

type gateOutput struct {
	Results []judgedRule `json:"results"`
}

// ValidateRules asks the judge model to pass or fail each rule by name. A
// missing judgment counts as failing. Failing rules of severity warning are
// collected without affecting Passed. Unparseable judge output fails every
// fail-severity rule.
func (j *Judge) ValidateRules(ctx context.Context, input, output string, rules []ValidationRule, cfg *Config) (*GateResult, error) {
	if j == nil || j.completer == nil {
		return nil, errors.New("judge: nil completer")
	}
	if len(rules) == 0 {
		return nil, errors.New("judge: no rules supplied")
	}

	prompt, err := renderGatePrompt(input, output, rules)
	if err != nil {
		return nil, fmt.Errorf("judge: render prompt: %w", err)
	}

	raw, err := j.complete(ctx, cfg, prompt)
	if err != nil {
		return nil, fmt.Errorf("judge: llm: %w", err)
	}

	byName := make(map[string]judgedRule, len(rules))
	var out gateOutput
	if parseErr := llm.ParseJSON(raw, &out); parseErr == nil {
		for _, r := range out.Results {
			byName[strings.ToLower(strings.TrimSpace(r.Name))] = r
		}
	}

	res := &GateResult{
		Passed:  true,
		Results: make(map[string]bool, len(rules)),
	}

	for _, rule := range rules {
		judged, ok := byName[strings.ToLower(strings.TrimSpace(rule.Name))]
		passed := ok && judged.Passed != nil && *judged.Passed
		res.Results[rule.Name] = passed
		if passed {
			continue
		}

		msg := rule.Message
		if msg == "" {
			reason := strings.TrimSpace(judged.Reason)
			if reason == "" {
				reason = "no judgment returned"
			}
			msg = fmt.Sprintf("Judge rule %q failed: %s", rule.Name, reason)
		}

		if rule.Severity == validation.SeverityWarning {
			res.Warnings = append(res.Warnings, msg)
			continue
		}
		res.Errors = append(res.Errors, msg)
		res.Passed = false
	}

	return res, nil
}

func (j *Judge) complete(ctx context.Context, cfg *Config, prompt string) (string, error) {
	req := &llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: 1024,
	}
	if cfg != nil {
		req.Provider = cfg.Provider
		req.Model = cfg.Model
	}
	resp, err := j.completer.Complete(ctx, req, j.creds)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("nil response")
	}
	return resp.Content, nil
}
