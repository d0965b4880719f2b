package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/stratasim/internal/batch"
	"github.com/talgya/stratasim/internal/config"
	"github.com/talgya/stratasim/internal/engine"
	"github.com/talgya/stratasim/internal/persistence"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one or more simulations",
		Long: `Run simulations from a preset and/or a YAML config file.

Flags override the loaded configuration. --runs repeats the configuration
over consecutive seeds; --sweep runs one simulation per value of an
interaction parameter. Independent runs execute in parallel.`,
		Example: `  stratasim run --preset patriarchal --steps 200
  stratasim run --config society.yaml --runs 8 --save
  stratasim run --sweep tax_redistribution=0,0.2,0.4 --seed 7`,
		RunE: runRun,
	}
	cmd.Flags().String("preset", "", "Base preset ("+strings.Join(config.PresetNames(), ", ")+")")
	cmd.Flags().String("config", "", "YAML config file applied over the preset")
	cmd.Flags().Int64("seed", 0, "Random seed (default: fresh per run)")
	cmd.Flags().Int("steps", 0, "Number of steps")
	cmd.Flags().Int("population", 0, "Initial population size")
	cmd.Flags().Int("runs", 1, "Repeat over this many consecutive seeds")
	cmd.Flags().String("sweep", "", "Sweep a parameter: name=v1,v2,...")
	cmd.Flags().Int("parallel", 0, "Concurrent runs (default: GOMAXPROCS)")
	cmd.Flags().Bool("record-agents", false, "Store every agent in every snapshot")
	cmd.Flags().Bool("save", false, "Save results to the database")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfgs, err := buildConfigs(cmd)
	if err != nil {
		return err
	}

	var store *persistence.Store
	if save, _ := cmd.Flags().GetBool("save"); save {
		if store, err = openStore(cmd); err != nil {
			return err
		}
		defer store.Close()
	}

	ctx := cmd.Context()
	var saveErrs []error
	onComplete := func(r batch.Run) {
		if r.Result == nil {
			return
		}
		if store != nil {
			if err := store.SaveResult(ctx, r.Result); err != nil {
				saveErrs = append(saveErrs, fmt.Errorf("saving %s: %w", r.Result.RunID, err))
			}
		}
	}

	parallel, _ := cmd.Flags().GetInt("parallel")
	runs := batch.RunAll(ctx, cfgs,
		batch.WithLimit(parallel),
		batch.WithLogger(slog.Default()),
		batch.WithOnComplete(onComplete),
	)

	if jsonOutput(cmd) {
		if err := writeJSON(cmd.OutOrStdout(), runReports(runs)); err != nil {
			return err
		}
	} else {
		printRuns(cmd.OutOrStdout(), runs)
	}
	return errors.Join(append(saveErrs, batch.Err(runs))...)
}

// buildConfigs loads the base configuration, applies flag overrides and
// expands it over seeds or sweep values.
func buildConfigs(cmd *cobra.Command) ([]*config.Config, error) {
	preset, _ := cmd.Flags().GetString("preset")
	path, _ := cmd.Flags().GetString("config")
	base, err := config.Load(preset, path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		seed, _ := flags.GetInt64("seed")
		base = base.WithSeed(seed)
	}
	if flags.Changed("steps") {
		base.Steps, _ = flags.GetInt("steps")
	}
	if flags.Changed("population") {
		base.PopulationSize, _ = flags.GetInt("population")
	}
	if flags.Changed("record-agents") {
		base.RecordAgents, _ = flags.GetBool("record-agents")
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}

	cfgs := []*config.Config{base}
	if sweep, _ := flags.GetString("sweep"); sweep != "" {
		name, values, err := parseSweep(sweep)
		if err != nil {
			return nil, err
		}
		cfgs = batch.Sweep(base, name, values)
	}

	n, _ := flags.GetInt("runs")
	if n > 1 {
		var expanded []*config.Config
		for _, c := range cfgs {
			first := int64(1)
			if c.Seed != nil {
				first = *c.Seed
			}
			expanded = append(expanded, batch.Seeds(c, first, n)...)
		}
		cfgs = expanded
	}
	return cfgs, nil
}

func parseSweep(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("sweep %q: want name=v1,v2,...", s)
	}
	var values []float64
	for _, part := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return "", nil, fmt.Errorf("sweep %q: %w", s, err)
		}
		values = append(values, v)
	}
	return name, values, nil
}

type runReport struct {
	RunID      string  `json:"run_id,omitempty"`
	Name       string  `json:"name"`
	Seed       int64   `json:"seed"`
	State      string  `json:"state"`
	Steps      int     `json:"steps"`
	Population int     `json:"population"`
	Inequality float64 `json:"inequality"`
	Mobility   float64 `json:"mobility_rate"`
	Wealth     float64 `json:"total_wealth"`
	Error      string  `json:"error,omitempty"`
}

func runReports(runs []batch.Run) []runReport {
	out := make([]runReport, 0, len(runs))
	for _, r := range runs {
		rep := runReport{State: "invalid"}
		if r.Err != nil {
			rep.Error = r.Err.Error()
		}
		if res := r.Result; res != nil {
			final := res.Final().Aggregates
			wealth, _ := final.Metric("total_wealth")
			rep.RunID = res.RunID
			rep.Name = res.Name
			rep.Seed = res.Seed
			rep.State = res.State.String()
			rep.Steps = res.Steps()
			rep.Population = final.Population
			rep.Inequality = final.Inequality
			rep.Mobility = meanMobility(res)
			rep.Wealth = wealth
		}
		out = append(out, rep)
	}
	return out
}

// meanMobility averages the per-step mobility rate over a run.
func meanMobility(r *engine.Result) float64 {
	if len(r.History) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range r.History {
		sum += s.Aggregates.MobilityRate
	}
	return sum / float64(len(r.History))
}

func printRuns(w io.Writer, runs []batch.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSEED\tSTATE\tSTEPS\tPOP\tINEQUALITY\tMOBILITY\tWEALTH")
	for _, rep := range runReports(runs) {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%.3f\t%.3f\t%s\n",
			rep.Name, rep.Seed, rep.State, rep.Steps,
			humanize.Comma(int64(rep.Population)),
			rep.Inequality, rep.Mobility,
			humanize.CommafWithDigits(rep.Wealth, 2),
		)
	}
	tw.Flush()

	for _, rep := range runReports(runs) {
		if rep.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", rep.Name, rep.Error)
		}
	}
}
