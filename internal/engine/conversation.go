package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/promptlane/promptlane/internal/judge"
	"github.com/promptlane/promptlane/internal/llm"
	"github.com/promptlane/promptlane/internal/session"
	"github.com/promptlane/promptlane/internal/suite"
	"github.com/promptlane/promptlane/internal/validation"
	"github.com/promptlane/promptlane/internal/vars"
)

// executeConversation runs a multi-turn case as a linear state machine
// over the turn list. Prompt targets thread the full message history into
// every call; endpoint targets thread session state (cookies, token,
// extracted variables) instead. An error aborts the remaining turns but
// the partial transcript collected so far is still returned.
func (e *Executor) executeConversation(ctx context.Context, p CaseParams) *Result {
	tc := p.Case
	res := &Result{
		TestCaseID:   tc.ID,
		TestCaseName: tc.Name,
		Inputs:       tc.Inputs,
		TurnCount:    len(tc.Conversation),
	}

	mode := tc.ValidationMode
	if mode == "" {
		mode = suite.ValidateFinalOnly
	}

	var sess *session.Manager
	if p.Target == suite.TargetEndpoint && tc.Session != nil && tc.Session.Enabled {
		sess = session.NewManager(*tc.Session)
	}

	var version *suite.PromptVersion
	if p.Target == suite.TargetPrompt {
		version = p.Prompt.Resolve(p.TargetVersion)
		if version == nil {
			return failResult(res, fmt.Errorf("engine: prompt target has no versions"))
		}
	}

	passed := true
	var failures []string
	var history []llm.Message
	var lastOutput string

	for i, turn := range tc.Conversation {
		turnNum := i + 1
		tr := TurnResult{Index: i, Role: turn.Role}

		if turn.Role == "assistant" {
			content := turn.SimulatedResponse
			if content == "" {
				content = turn.Content
			}
			tr.Output = content
			history = append(history, llm.Message{Role: "assistant", Content: content})
			res.Turns = append(res.Turns, tr)
			continue
		}

		inputs := mergeInputs(tc.Inputs, turn.Inputs)
		if sess != nil {
			for k, v := range sess.Variables() {
				inputs[k] = v
			}
		}
		resolved := vars.Substitute(turn.Content, inputs, false)
		tr.Input = resolved

		start := time.Now()
		var output string
		var err error
		switch p.Target {
		case suite.TargetPrompt:
			history = append(history, llm.Message{Role: "user", Content: resolved})
			output, err = e.completeHistory(ctx, p, version, history)
			if err == nil {
				history = append(history, llm.Message{Role: "assistant", Content: output})
			}
		case suite.TargetEndpoint:
			// The resolved turn text is exposed to the body template as
			// the message variable.
			inputs["message"] = resolved
			var resp *endpointResponse
			resp, err = e.callEndpoint(ctx, p.Endpoint, inputs, sess)
			if err == nil {
				output = extractContent(resp, p.Endpoint.ResponsePath)
			}
		default:
			err = fmt.Errorf("engine: unknown target %q", p.Target)
		}
		tr.ResponseTimeMs = time.Since(start).Milliseconds()
		res.ResponseTimeMs += tr.ResponseTimeMs

		if err != nil {
			tr.Error = withRootCause(err)
			res.Turns = append(res.Turns, tr)
			return failResult(res, err)
		}

		tr.Output = output
		lastOutput = output
		if sess != nil {
			tr.Variables = sess.Variables()
		}

		if mode == suite.ValidatePerTurn {
			rules := validation.Merge(p.Rules, turn.ValidationRules)
			outcome := validation.Validate(output, rules, tr.ResponseTimeMs)
			ok := outcome.Passed
			tr.Passed = &ok
			tr.Errors = outcome.Errors
			if !ok {
				passed = false
				failures = append(failures, tagTurn(turnNum, outcome.Errors)...)
			}

			if len(turn.JudgeRules) > 0 && p.Judge != nil && p.Judge.Enabled {
				gate, gerr := judge.New(e.Completer, e.Credentials).ValidateRules(ctx, resolved, output, turn.JudgeRules, p.Judge)
				if gerr != nil {
					res.Turns = append(res.Turns, tr)
					return failResult(res, gerr)
				}
				if !gate.Passed {
					passed = false
					failures = append(failures, tagTurn(turnNum, gate.Errors)...)
				}
			}
		}

		res.Turns = append(res.Turns, tr)
	}

	res.Output = lastOutput

	if mode == suite.ValidateFinalOnly {
		rules := validation.Merge(p.Rules, tc.ValidationRules)
		outcome := validation.Validate(lastOutput, rules, res.ResponseTimeMs)
		if !outcome.Passed {
			passed = false
			failures = append(failures, outcome.Errors...)
		}
	}

	res.ValidationPassed = passed
	res.ValidationErrors = failures

	// Judge scoring and gating always run once against the full transcript,
	// never per turn.
	if err := e.applyJudge(ctx, p, res, summarizeInputs(tc.Inputs), transcript(tc.Inputs, res.Turns)); err != nil {
		return failResult(res, err)
	}
	return res
}

func (e *Executor) completeHistory(ctx context.Context, p CaseParams, v *suite.PromptVersion, history []llm.Message) (string, error) {
	provider, model := effectiveModel(v, p.ModelOverride)
	req := &llm.Request{
		Provider: provider,
		Model:    model,
		System:   v.System,
		Messages: append([]llm.Message(nil), history...),
	}
	resp, err := e.Completer.Complete(ctx, req, e.Credentials)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// transcript synthesizes the whole conversation for final judging: input
// variables followed by each exchange.
func transcript(inputs map[string]string, turns []TurnResult) string {
	var sb strings.Builder
	if summary := summarizeInputs(inputs); summary != "" {
		sb.WriteString("Inputs:\n")
		sb.WriteString(summary)
		sb.WriteString("\n\n")
	}
	for _, t := range turns {
		if t.Input != "" {
			sb.WriteString("User: ")
			sb.WriteString(t.Input)
			sb.WriteString("\n")
		}
		if t.Output != "" {
			sb.WriteString("Assistant: ")
			sb.WriteString(t.Output)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func tagTurn(turnNum int, errs []string) []string {
	out := make([]string, 0, len(errs))
	for _, msg := range errs {
		out = append(out, fmt.Sprintf("Turn %d: %s", turnNum, msg))
	}
	return out
}

func mergeInputs(base, overrides map[string]string) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
