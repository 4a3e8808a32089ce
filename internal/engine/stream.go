package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/promptlane/promptlane/internal/suite"
)

const defaultMaxConcurrency = 5

// RunParams configures one run of a suite.
type RunParams struct {
	Suite          *suite.Suite
	TriggeredBy    string
	Note           string
	Iterations     int // default 1
	ModelOverride  string
	TargetVersion  string
	Parallel       bool
	MaxConcurrency int // default 5 under Parallel
}

// Callbacks stream run events to an external transport. All callbacks are
// optional and panics in them are swallowed.
type Callbacks struct {
	OnProgress func(current, total, iteration int, caseID, caseName string)
	OnResult   func(r *Result)
	OnError    func(err error, caseID string)
}

// Run executes the suite for the configured number of iterations, either
// sequentially or bounded-parallel, aggregating a summary as results
// arrive. Cancellation stops remaining work at the next checkpoint; the
// partial run is returned with status failed and aborted true. A run that
// merely contains failing cases still completes with status completed.
func (e *Executor) Run(ctx context.Context, p RunParams, cb Callbacks) (*TestRun, bool) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	iterations := p.Iterations
	if iterations <= 0 {
		iterations = 1
	}

	cases := enabledCases(p.Suite)
	total := len(cases) * iterations

	run := &TestRun{
		ID:            newRunID(),
		SuiteName:     p.Suite.Name,
		StartedAt:     time.Now().UTC(),
		TriggeredBy:   p.TriggeredBy,
		Status:        StatusRunning,
		Note:          p.Note,
		Iterations:    p.Iterations,
		ModelOverride: p.ModelOverride,
	}

	var agg aggregator
	var current int
	var mu sync.Mutex

	progress := func(iteration int, c *suite.TestCase) {
		if cb.OnProgress == nil {
			return
		}
		mu.Lock()
		current++
		n := current
		mu.Unlock()
		invokeCallback(logger, "on_progress", func() { cb.OnProgress(n, total, iteration, c.ID, c.Name) })
	}

	aborted := false

iterLoop:
	for iter := 1; iter <= iterations; iter++ {
		if ctx.Err() != nil {
			aborted = true
			break
		}

		if !p.Parallel {
			for i := range cases {
				if ctx.Err() != nil {
					aborted = true
					break iterLoop
				}
				c := cases[i]
				progress(iter, c)

				res := e.ExecuteCase(ctx, e.caseParams(p, c))
				if iterations > 1 {
					res.Iteration = iter
				}
				if res.Error != "" && cb.OnError != nil {
					invokeCallback(logger, "on_error", func() { cb.OnError(errors.New(res.Error), res.TestCaseID) })
				}
				run.Results = append(run.Results, *res)
				agg.add(res)
				if cb.OnResult != nil {
					invokeCallback(logger, "on_result", func() { cb.OnResult(res) })
				}
			}
			continue
		}

		maxConc := p.MaxConcurrency
		if maxConc <= 0 {
			maxConc = defaultMaxConcurrency
		}

		iteration := iter
		results, iterAborted := RunBounded(ctx, cases,
			func(ctx context.Context, c *suite.TestCase) *Result {
				res := e.ExecuteCase(ctx, e.caseParams(p, c))
				if iterations > 1 {
					res.Iteration = iteration
				}
				if res.Error != "" && cb.OnError != nil {
					invokeCallback(logger, "on_error", func() { cb.OnError(errors.New(res.Error), res.TestCaseID) })
				}
				return res
			},
			BatchOptions[*suite.TestCase, *Result]{
				MaxConcurrency: maxConc,
				OnProgress: func(_ int, c *suite.TestCase) {
					progress(iteration, c)
				},
				OnResult: func(_ int, r *Result) {
					if cb.OnResult != nil {
						cb.OnResult(r)
					}
				},
				Failed: func(c *suite.TestCase, err error) *Result {
					return failResult(&Result{TestCaseID: c.ID, TestCaseName: c.Name, Inputs: c.Inputs}, err)
				},
				Logger: logger,
			})

		for _, r := range results {
			run.Results = append(run.Results, *r)
			agg.add(r)
		}
		if iterAborted {
			aborted = true
			break
		}
	}

	run.Summary = agg.summary()
	run.CompletedAt = time.Now().UTC()
	run.Status = StatusCompleted
	if aborted {
		run.Status = StatusFailed
	}
	return run, aborted
}

func (e *Executor) caseParams(p RunParams, c *suite.TestCase) CaseParams {
	return CaseParams{
		Case:          c,
		Target:        p.Suite.Target,
		Prompt:        p.Suite.Prompt,
		Endpoint:      p.Suite.Endpoint,
		TargetVersion: p.TargetVersion,
		Rules:         p.Suite.ValidationRules,
		Judge:         p.Suite.Judge,
		ModelOverride: p.ModelOverride,
	}
}

func enabledCases(s *suite.Suite) []*suite.TestCase {
	out := make([]*suite.TestCase, 0, len(s.Cases))
	for i := range s.Cases {
		if s.Cases[i].IsEnabled() {
			out = append(out, &s.Cases[i])
		}
	}
	return out
}

// aggregator accumulates run statistics as results arrive.
type aggregator struct {
	total       int
	passed      int
	responseSum int64
	scoreSum    float64
	scoreCount  int
}

func (a *aggregator) add(r *Result) {
	a.total++
	if r.ValidationPassed && r.Error == "" {
		a.passed++
	}
	a.responseSum += r.ResponseTimeMs
	if r.JudgeScore != nil {
		a.scoreSum += *r.JudgeScore
		a.scoreCount++
	}
}

func (a *aggregator) summary() Summary {
	s := Summary{
		Total:  a.total,
		Passed: a.passed,
		Failed: a.total - a.passed,
	}
	if a.total > 0 {
		s.AvgResponseTimeMs = int64(math.Round(float64(a.responseSum) / float64(a.total)))
	}
	if a.scoreCount > 0 {
		avg := math.Round(a.scoreSum/float64(a.scoreCount)*100) / 100
		s.AvgScore = &avg
	}
	return s
}
