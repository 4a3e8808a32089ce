package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptlane/promptlane/internal/engine"
	"github.com/promptlane/promptlane/internal/store"
	"github.com/promptlane/promptlane/internal/suite"
)

var errTestsFailed = errors.New("promptlane: tests failed")

type runOptions struct {
	version     string
	model       string
	note        string
	iterations  int
	parallel    bool
	concurrency int
	jsonOut     bool
}

func newRunCmd(st *cliState) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <suite>",
		Short: "Run a test suite",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadState(st)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd, st, args[0], &opts)
		},
	}

	cmd.Flags().StringVar(&opts.version, "version", "", "target version to run (defaults to latest)")
	cmd.Flags().StringVar(&opts.model, "model", "", "model override for all prompt cases")
	cmd.Flags().StringVar(&opts.note, "note", "", "note to attach to the run")
	cmd.Flags().IntVar(&opts.iterations, "iterations", -1, "iterations per case (overrides config)")
	cmd.Flags().BoolVar(&opts.parallel, "parallel", false, "run cases in parallel")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", -1, "max in-flight cases under --parallel (overrides config)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "emit the full run as JSON")

	return cmd
}

func runSuite(cmd *cobra.Command, st *cliState, suiteName string, opts *runOptions) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("run: missing config (internal error)")
	}
	if opts == nil {
		return fmt.Errorf("run: nil options")
	}

	suiteName = strings.TrimSpace(suiteName)
	if suiteName == "" {
		return fmt.Errorf("run: missing suite name")
	}

	iterations := st.cfg.Execution.Iterations
	if opts.iterations >= 0 {
		iterations = opts.iterations
	}
	if iterations <= 0 {
		return fmt.Errorf("run: iterations must be > 0 (got %d)", iterations)
	}

	parallel := opts.parallel || st.cfg.Execution.Parallel
	concurrency := st.cfg.Execution.MaxConcurrency
	if opts.concurrency >= 0 {
		concurrency = opts.concurrency
	}
	if concurrency <= 0 {
		return fmt.Errorf("run: concurrency must be > 0 (got %d)", concurrency)
	}

	sv, err := findSuite(st.cfg.SuitesDir, suiteName)
	if err != nil {
		return err
	}

	exec := newExecutor(st.cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cb := engine.Callbacks{}
	if !opts.jsonOut {
		out := cmd.OutOrStdout()
		cb.OnProgress = func(current, total, iteration int, caseID, caseName string) {
			_, _ = fmt.Fprintf(out, "[%d/%d] %s\n", current, total, caseName)
		}
		cb.OnResult = func(r *engine.Result) {
			status := "PASS"
			if !r.ValidationPassed || r.Error != "" {
				status = "FAIL"
			}
			_, _ = fmt.Fprintf(out, "  %s %s (%dms)\n", status, r.TestCaseID, r.ResponseTimeMs)
			for _, msg := range r.ValidationErrors {
				_, _ = fmt.Fprintf(out, "    - %s\n", msg)
			}
		}
	}

	run, aborted := exec.Run(ctx, engine.RunParams{
		Suite:          sv,
		TriggeredBy:    "cli",
		Note:           strings.TrimSpace(opts.note),
		Iterations:     iterations,
		ModelOverride:  strings.TrimSpace(opts.model),
		TargetVersion:  strings.TrimSpace(opts.version),
		Parallel:       parallel,
		MaxConcurrency: concurrency,
	}, cb)

	if err := saveRun(cmd.Context(), st, run); err != nil {
		return err
	}

	if opts.jsonOut {
		b, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("run: marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	} else {
		printRunSummary(cmd, run)
	}

	if aborted {
		return fmt.Errorf("run: interrupted (%d/%d cases finished)", len(run.Results), run.Summary.Total)
	}
	if run.Summary.Failed > 0 {
		return errTestsFailed
	}
	return nil
}

func findSuite(dir, name string) (*suite.Suite, error) {
	suites, err := suite.LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	for _, sv := range suites {
		if sv != nil && strings.EqualFold(strings.TrimSpace(sv.Name), name) {
			return sv, nil
		}
	}
	return nil, fmt.Errorf("run: unknown suite %q", name)
}

func saveRun(ctx context.Context, st *cliState, run *engine.TestRun) error {
	if ctx == nil {
		ctx = context.Background()
	}

	stor, err := store.Open(st.cfg)
	if err != nil {
		return fmt.Errorf("run: open store: %w", err)
	}
	defer stor.Close()

	if err := stor.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("run: save run: %w", err)
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, run *engine.TestRun) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "\nRun %s (%s): %d passed, %d failed of %d\n",
		run.ID, run.Status, run.Summary.Passed, run.Summary.Failed, run.Summary.Total)
	if run.Summary.AvgScore != nil {
		_, _ = fmt.Fprintf(out, "Average judge score: %.0f%%\n", *run.Summary.AvgScore*100)
	}
	_, _ = fmt.Fprintf(out, "Average response time: %dms\n", run.Summary.AvgResponseTimeMs)
}
