package judge

import (
	"bytes"
	"text/template"
)

const scorePromptTemplate = `You are an expert evaluator. Rate the AI response against each criterion below.

## Criteria
{{range .Criteria}}- {{.Name}} (weight {{.Weight}}): {{.Description}}
{{end}}
## Input
{{.Input}}

{{if .Expected}}## Expected Output
{{.Expected}}

{{end}}## AI Response to Evaluate
{{.Output}}

## Instructions
Score each criterion from 0 to 10 with a short reason.

Output ONLY valid JSON in this exact format:
{"criteria": [{"name": "<criterion name>", "score": <0-10>, "reason": "<brief explanation>"}], "reasoning": "<overall assessment>"}`

const gatePromptTemplate = `You are an expert evaluator. Judge the AI response against each rule below and decide pass or fail.

## Rules
{{range .Rules}}- {{.Name}}: {{.Description}}
{{end}}
## Input
{{.Input}}

## AI Response to Evaluate
{{.Output}}

## Instructions
For every rule, return a pass/fail judgment with a short reason. Use the exact rule names given above.

Output ONLY valid JSON in this exact format:
{"results": [{"name": "<rule name>", "passed": <true|false>, "reason": "<brief explanation>"}]}`

var (
	scorePromptTmpl = template.Must(template.New("judge_score").Parse(scorePromptTemplate))
	gatePromptTmpl  = template.Must(template.New("judge_gate").Parse(gatePromptTemplate))
)

func renderScorePrompt(input, expected, output string, criteria []Criterion) (string, error) {
	var buf bytes.Buffer
	err := scorePromptTmpl.Execute(&buf, struct {
		Criteria []Criterion
		Input    string
		Expected string
		Output   string
	}{criteria, input, expected, output})
	return buf.String(), err
}

func renderGatePrompt(input, output string, rules []ValidationRule) (string, error) {
	var buf bytes.Buffer
	err := gatePromptTmpl.Execute(&buf, struct {
		Rules  []ValidationRule
		Input  string
		Output string
	}{rules, input, output})
	return buf.String(), err
}
