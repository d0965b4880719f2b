package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved runs.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATE\tSTEPS\tPOP\tINEQUALITY\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%.3f\t%s\n",
					r.ID, r.Name, r.State, r.Steps,
					humanize.Comma(int64(r.Population)),
					r.FinalInequality, humanize.Time(r.CreatedAt),
				)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newRunsShowCmd(), newRunsDeleteCmd())
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a saved run's configuration and final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.LoadTrajectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			final := res.Final().Aggregates
			fmt.Fprintf(out, "Run:      %s (%s)\n", res.RunID, res.Name)
			fmt.Fprintf(out, "State:    %s after %d steps (seed %d)\n", res.State, res.Steps(), res.Seed)
			if res.Failure != "" {
				fmt.Fprintf(out, "Failure:  %s\n", res.Failure)
			}
			fmt.Fprintf(out, "Baseline: %s\n", res.Baseline.Aggregates)
			fmt.Fprintf(out, "Final:    %s\n", final)
			fmt.Fprintf(out, "Policy:   competition %.3f, care %.3f, tax %.3f, attribution %.3f, sanction %.3f\n",
				final.Policy.CompetitionReward, final.Policy.CareReward, final.Policy.TaxRedistribution,
				final.Policy.AttributionBias, final.Policy.SocialSanction)
			return nil
		},
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID...",
		Short: "Delete saved runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.DeleteRun(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}
