package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talgya/stratasim/internal/compare"
	"github.com/talgya/stratasim/internal/engine"
)

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare RUN_ID...",
		Short: "Compare saved runs step by step",
		Long: `Align the per-step metrics of saved runs. Shorter runs are padded with
empty values. Formats: summary (default), json, csv.`,
		Example: `  stratasim compare 6f1c... 9a2e... --metrics gini,mobility_rate
  stratasim compare 6f1c... 9a2e... --format csv --out gini.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCompare,
	}
	cmd.Flags().String("metrics", strings.Join(compare.DefaultMetrics, ","), "Comma-separated metrics")
	cmd.Flags().String("format", "summary", "Output format (summary, json, csv)")
	cmd.Flags().String("out", "", "Write to file instead of stdout")
	return cmd
}

func runCompare(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	results := make([]*engine.Result, 0, len(args))
	for _, id := range args {
		res, err := store.LoadTrajectory(cmd.Context(), id)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	metricList, _ := cmd.Flags().GetString("metrics")
	var metrics []string
	for _, m := range strings.Split(metricList, ",") {
		if m = strings.TrimSpace(m); m != "" {
			metrics = append(metrics, m)
		}
	}
	table, err := compare.Align(results, metrics...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	format, _ := cmd.Flags().GetString("format")
	if jsonOutput(cmd) {
		format = "json"
	}
	switch format {
	case "json":
		return table.WriteJSON(out)
	case "csv":
		return table.WriteCSV(out)
	case "summary":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tMETRIC\tBASELINE\tFINAL\tCHANGE\tMEAN\tMIN\tMAX")
		for _, s := range table.Summarize() {
			fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%+.3f\t%.3f\t%.3f\t%.3f\n",
				s.Name, s.Metric, s.Baseline, s.Final, s.Change, s.Mean, s.Min, s.Max)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q (valid: summary, json, csv)", format)
	}
}
