package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/promptlane/promptlane/internal/judge"
	"github.com/promptlane/promptlane/internal/llm"
	"github.com/promptlane/promptlane/internal/suite"
	"github.com/promptlane/promptlane/internal/validation"
	"github.com/promptlane/promptlane/internal/vars"
)

// Executor runs test cases against prompt or endpoint targets.
type Executor struct {
	Completer   llm.Completer
	HTTPClient  *http.Client
	Credentials llm.Credentials
	Logger      *slog.Logger
}

// CaseParams carries everything one execution needs besides the case itself.
type CaseParams struct {
	Case          *suite.TestCase
	Target        suite.TargetType
	Prompt        *suite.PromptTarget
	Endpoint      *suite.EndpointTarget
	TargetVersion string
	Rules         []validation.Rule // suite-level deterministic rules
	Judge         *judge.Config
	ModelOverride string
}

// ExecuteCase executes one test case once and never propagates an error:
// any failure is folded into the result with validation marked failed.
// Conversational cases are delegated to the conversation executor.
func (e *Executor) ExecuteCase(ctx context.Context, p CaseParams) *Result {
	if p.Case == nil {
		return &Result{Error: "engine: nil test case", ValidationErrors: []string{"engine: nil test case"}}
	}
	if p.Case.Conversational() {
		return e.executeConversation(ctx, p)
	}

	res := &Result{
		TestCaseID:   p.Case.ID,
		TestCaseName: p.Case.Name,
		Inputs:       p.Case.Inputs,
	}

	inputs := anyInputs(p.Case.Inputs)
	start := time.Now()

	var output string
	var err error
	switch p.Target {
	case suite.TargetPrompt:
		output, err = e.executePrompt(ctx, p, inputs)
	case suite.TargetEndpoint:
		var resp *endpointResponse
		resp, err = e.callEndpoint(ctx, p.Endpoint, inputs, nil)
		if err == nil {
			output = extractContent(resp, p.Endpoint.ResponsePath)
			if p.Endpoint.ResponsePath != "" {
				res.ExtractedContent = output
			}
		}
	default:
		err = fmt.Errorf("engine: unknown target %q", p.Target)
	}
	res.ResponseTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		return failResult(res, err)
	}
	res.Output = output

	rules := validation.Merge(p.Rules, p.Case.ValidationRules)
	outcome := validation.Validate(output, rules, res.ResponseTimeMs)
	res.ValidationPassed = outcome.Passed
	res.ValidationErrors = outcome.Errors

	if jerr := e.applyJudge(ctx, p, res, summarizeInputs(p.Case.Inputs), output); jerr != nil {
		return failResult(res, jerr)
	}
	return res
}

func (e *Executor) executePrompt(ctx context.Context, p CaseParams, inputs map[string]any) (string, error) {
	v := p.Prompt.Resolve(p.TargetVersion)
	if v == nil {
		return "", fmt.Errorf("engine: prompt target has no versions")
	}

	content := vars.Substitute(v.Content, inputs, false)
	system := vars.Substitute(v.System, inputs, false)
	provider, model := effectiveModel(v, p.ModelOverride)

	return llm.SimpleComplete(ctx, e.Completer, provider, model, system, content, e.Credentials)
}

// applyJudge runs scoring and gating when configured, folding failures
// into the result's validation state. Provider failures are returned as
// errors; unparseable judge output degrades to a failed validation.
func (e *Executor) applyJudge(ctx context.Context, p CaseParams, res *Result, inputSummary, output string) error {
	if p.Judge == nil || !p.Judge.Enabled {
		return nil
	}
	j := judge.New(e.Completer, e.Credentials)

	if len(p.Judge.Criteria) > 0 {
		score, err := j.Score(ctx, inputSummary, p.Case.ExpectedOutput, output, p.Judge)
		if err != nil {
			return err
		}
		if !score.Scored {
			res.ValidationPassed = false
			res.ValidationErrors = append(res.ValidationErrors, "Judge scoring failed: "+score.Reasoning)
		} else {
			s := score.Score
			res.JudgeScore = &s
			res.CriterionScores = score.CriterionScores
			res.JudgeReasoning = score.Reasoning
			if judge.BelowThreshold(s, p.Judge) {
				res.ValidationPassed = false
				res.ValidationErrors = append(res.ValidationErrors, judge.ThresholdMessage(s, p.Judge.MinScore))
			}
		}
	}

	gateRules := judge.MergeRules(p.Judge.ValidationRules, p.Case.JudgeRules)
	if len(gateRules) > 0 {
		gate, err := j.ValidateRules(ctx, inputSummary, output, gateRules, p.Judge)
		if err != nil {
			return err
		}
		res.JudgeValidation = gate
		if !gate.Passed {
			res.ValidationPassed = false
			res.ValidationErrors = append(res.ValidationErrors, gate.Errors...)
		}
	}
	return nil
}

// failResult folds an execution error into the result: the error text is
// the sole validation error and validation always fails.
func failResult(res *Result, err error) *Result {
	msg := withRootCause(err)
	res.Error = msg
	res.ValidationPassed = false
	res.ValidationErrors = []string{msg}
	return res
}

// withRootCause appends the deepest wrapped cause in parentheses when the
// top-level message does not already carry it (DNS and connection failures
// are usually buried several wraps down).
func withRootCause(err error) string {
	msg := err.Error()
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	if root != err && !strings.Contains(msg, root.Error()) {
		return fmt.Sprintf("%s (%s)", msg, root.Error())
	}
	return msg
}

func effectiveModel(v *suite.PromptVersion, override string) (provider, model string) {
	provider = v.Provider
	model = v.Model
	if override != "" {
		model = override
	}
	return provider, model
}

func anyInputs(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// summarizeInputs renders named inputs as sorted "name: value" lines for
// judge prompts.
func summarizeInputs(in map[string]string) string {
	if len(in) == 0 {
		return ""
	}
	names := make([]string, 0, len(in))
	for k := range in {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, k := range names {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(in[k])
	}
	return sb.String()
}
