// Package engine executes test cases against prompt or endpoint targets:
// single-shot and conversational execution, deterministic validation, LLM
// judging, bounded-parallel scheduling, and run-level aggregation.
package engine

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/promptlane/promptlane/internal/judge"
)

// RunStatus is the lifecycle state of a TestRun.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// TurnResult records one conversation turn.
type TurnResult struct {
	Index          int            `json:"index"`
	Role           string         `json:"role"`
	Input          string         `json:"input,omitempty"` // resolved user text
	Output         string         `json:"output,omitempty"`
	Passed         *bool          `json:"passed,omitempty"` // per-turn validation, when evaluated
	Errors         []string       `json:"errors,omitempty"`
	ResponseTimeMs int64          `json:"responseTimeMs,omitempty"`
	Error          string         `json:"error,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"` // session-extracted after this turn
}

// Result reports one test case execution.
type Result struct {
	TestCaseID       string             `json:"testCaseId"`
	TestCaseName     string             `json:"testCaseName"`
	Inputs           map[string]string  `json:"inputs,omitempty"`
	Output           string             `json:"output,omitempty"`
	ExtractedContent string             `json:"extractedContent,omitempty"`
	ValidationPassed bool               `json:"validationPassed"`
	ValidationErrors []string           `json:"validationErrors,omitempty"`
	JudgeScore       *float64           `json:"judgeScore,omitempty"`
	CriterionScores  map[string]float64 `json:"criterionScores,omitempty"`
	JudgeReasoning   string             `json:"judgeReasoning,omitempty"`
	JudgeValidation  *judge.GateResult  `json:"judgeValidation,omitempty"`
	ResponseTimeMs   int64              `json:"responseTimeMs"`
	Error            string             `json:"error,omitempty"`
	Iteration        int                `json:"iteration,omitempty"` // 1-based, set when iterations > 1
	Turns            []TurnResult       `json:"turns,omitempty"`
	TurnCount        int                `json:"turnCount,omitempty"`
}

// Summary aggregates a finished run.
type Summary struct {
	Total             int      `json:"total"`
	Passed            int      `json:"passed"`
	Failed            int      `json:"failed"`
	AvgScore          *float64 `json:"avgScore,omitempty"` // present when any case produced a score
	AvgResponseTimeMs int64    `json:"avgResponseTimeMs"`
}

// TestRun is the top-level run record. It is created running and finalized
// to completed or failed exactly once.
type TestRun struct {
	ID            string    `json:"id"`
	SuiteName     string    `json:"suiteName"`
	StartedAt     time.Time `json:"startedAt"`
	CompletedAt   time.Time `json:"completedAt,omitempty"`
	TriggeredBy   string    `json:"triggeredBy,omitempty"`
	Status        RunStatus `json:"status"`
	Note          string    `json:"note,omitempty"`
	Iterations    int       `json:"iterations,omitempty"`
	ModelOverride string    `json:"modelOverride,omitempty"`
	Results       []Result  `json:"results"`
	Summary       Summary   `json:"summary"`
}

func newRunID() string {
	var buf [8]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return fmt.Sprintf("run_%s", time.Now().UTC().Format("20060102T150405.000000000Z"))
	}
	return fmt.Sprintf("run_%s_%x", time.Now().UTC().Format("20060102T150405Z"), buf)
}
