package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptlane/promptlane/internal/store"
)

func newHistoryCmd(st *cliState) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <suite>",
		Short: "Show recent runs for a suite",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadState(st)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			suiteName := strings.TrimSpace(args[0])
			if suiteName == "" {
				return fmt.Errorf("history: missing suite name")
			}
			if limit <= 0 {
				return fmt.Errorf("history: limit must be > 0 (got %d)", limit)
			}

			stor, err := store.Open(st.cfg)
			if err != nil {
				return fmt.Errorf("history: open store: %w", err)
			}
			defer stor.Close()

			runs, err := stor.SuiteHistory(cmd.Context(), suiteName, limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tPASSED\tFAILED\tAVG SCORE")
			for _, r := range runs {
				score := "-"
				if r.Summary.AvgScore != nil {
					score = fmt.Sprintf("%.0f%%", *r.Summary.AvgScore*100)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID,
					r.StartedAt.UTC().Format(time.RFC3339),
					r.Status,
					r.Summary.Passed,
					r.Summary.Failed,
					score,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	return cmd
}
