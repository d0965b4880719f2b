// Package compare lines up the trajectories of several runs step by step so
// they can be charted or exported side by side.
package compare

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/talgya/stratasim/internal/engine"
	"github.com/talgya/stratasim/internal/social"
)

// ErrUnknownMetric is returned for a metric name the aggregates do not carry.
var ErrUnknownMetric = errors.New("unknown metric")

// DefaultMetrics are compared when none are requested.
var DefaultMetrics = []string{"inequality", "mobility_rate", "avg_power"}

// Run identifies one run in a table.
type Run struct {
	RunID string       `json:"run_id"`
	Name  string       `json:"name"`
	Seed  int64        `json:"seed"`
	State engine.State `json:"state"`
	Steps int          `json:"steps"`
}

// Column is one metric of one run across every step. Steps past the end of
// a shorter run are nil.
type Column struct {
	RunID  string     `json:"run_id"`
	Name   string     `json:"name"`
	Metric string     `json:"metric"`
	Values []*float64 `json:"values"`
}

// Table holds aligned series. Row i is step Steps[i]; step 0 is the
// baseline.
type Table struct {
	Steps   []int    `json:"steps"`
	Runs    []Run    `json:"runs"`
	Metrics []string `json:"metrics"`
	Columns []Column `json:"columns"`
}

// Align builds a table of metrics over results. Columns are ordered by run
// then metric.
func Align(results []*engine.Result, metrics ...string) (Table, error) {
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	for _, m := range metrics {
		if !known(m) {
			return Table{}, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
		}
	}

	longest := 0
	for _, r := range results {
		longest = max(longest, r.Steps())
	}
	t := Table{
		Steps:   make([]int, longest+1),
		Runs:    make([]Run, 0, len(results)),
		Metrics: append([]string(nil), metrics...),
		Columns: make([]Column, 0, len(results)*len(metrics)),
	}
	for i := range t.Steps {
		t.Steps[i] = i
	}

	for _, r := range results {
		t.Runs = append(t.Runs, Run{
			RunID: r.RunID,
			Name:  r.Name,
			Seed:  r.Seed,
			State: r.State,
			Steps: r.Steps(),
		})
		for _, m := range metrics {
			col := Column{RunID: r.RunID, Name: r.Name, Metric: m, Values: make([]*float64, longest+1)}
			col.Values[0] = value(&r.Baseline.Aggregates, m)
			for i := range r.History {
				col.Values[i+1] = value(&r.History[i].Aggregates, m)
			}
			t.Columns = append(t.Columns, col)
		}
	}
	return t, nil
}

func known(metric string) bool {
	_, ok := (&social.Aggregates{}).Metric(metric)
	return ok
}

// value returns nil for values JSON cannot carry.
func value(a *social.Aggregates, metric string) *float64 {
	v, ok := a.Metric(metric)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Column returns the named series, or false.
func (t Table) Column(runID, metric string) (Column, bool) {
	for _, c := range t.Columns {
		if c.RunID == runID && c.Metric == metric {
			return c, true
		}
	}
	return Column{}, false
}

// WriteJSON encodes t with nulls where a run has no value.
func (t Table) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

// WriteCSV writes one row per step and one column per run and metric. The
// header names columns "<run name>:<metric>"; missing values are empty.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(t.Columns)+1)
	header = append(header, "step")
	for _, c := range t.Columns {
		header = append(header, label(c)+":"+c.Metric)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for i, step := range t.Steps {
		row[0] = strconv.Itoa(step)
		for j, c := range t.Columns {
			row[j+1] = ""
			if v := c.Values[i]; v != nil {
				row[j+1] = strconv.FormatFloat(*v, 'g', -1, 64)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func label(c Column) string {
	if c.Name != "" {
		return c.Name
	}
	return c.RunID
}

// Summary describes one metric of one run over its whole trajectory.
type Summary struct {
	RunID    string  `json:"run_id"`
	Name     string  `json:"name"`
	Metric   string  `json:"metric"`
	Baseline float64 `json:"baseline"`
	Final    float64 `json:"final"`
	Change   float64 `json:"change"`
	Mean     float64 `json:"mean"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// Summarize reduces every column of t to its summary statistics. Steps
// are weighted equally, baseline included.
func (t Table) Summarize() []Summary {
	out := make([]Summary, 0, len(t.Columns))
	for _, c := range t.Columns {
		s := Summary{RunID: c.RunID, Name: c.Name, Metric: c.Metric, Min: math.Inf(1), Max: math.Inf(-1)}
		n := 0
		for i, v := range c.Values {
			if v == nil {
				continue
			}
			if i == 0 {
				s.Baseline = *v
			}
			s.Final = *v
			s.Mean += *v
			s.Min = math.Min(s.Min, *v)
			s.Max = math.Max(s.Max, *v)
			n++
		}
		if n == 0 {
			s.Min, s.Max = 0, 0
		} else {
			s.Mean /= float64(n)
		}
		s.Change = s.Final - s.Baseline
		out = append(out, s)
	}
	return out
}
