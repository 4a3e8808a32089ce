package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptlane/promptlane/internal/suite"
)

func newListCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available test suites",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadState(st)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			suites, err := suite.LoadFromDir(st.cfg.SuitesDir)
			if err != nil {
				return err
			}
			sort.Slice(suites, func(i, j int) bool {
				return strings.ToLower(suites[i].Name) < strings.ToLower(suites[j].Name)
			})

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SUITE\tTARGET\tCASES\tDESCRIPTION")
			for _, s := range suites {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, s.Target, len(s.Cases), s.Description)
			}
			return tw.Flush()
		},
	}
}
