package compare

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/stratasim/internal/config"
	"github.com/talgya/stratasim/internal/engine"
	"github.com/talgya/stratasim/internal/logging"
	"github.com/talgya/stratasim/internal/social"
)

func fakeResult(id string, gini ...float64) *engine.Result {
	r := &engine.Result{RunID: id, Name: "run-" + id, State: engine.StateCompleted}
	r.Baseline = social.Snapshot{Aggregates: social.Aggregates{Gini: gini[0], Inequality: gini[0]}}
	for i, g := range gini[1:] {
		r.History = append(r.History, social.Snapshot{
			Step:       i + 1,
			Aggregates: social.Aggregates{Step: i + 1, Gini: g, Inequality: g, MobilityRate: 0.1},
		})
	}
	return r
}

func TestAlignPadsShorterRuns(t *testing.T) {
	a := fakeResult("a", 0.3, 0.31, 0.32, 0.33)
	b := fakeResult("b", 0.5, 0.4)

	tbl, err := Align([]*engine.Result{a, b}, "gini", "mobility_rate")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, tbl.Steps)
	require.Len(t, tbl.Columns, 4)
	assert.Equal(t, 3, tbl.Runs[0].Steps)
	assert.Equal(t, 1, tbl.Runs[1].Steps)

	col, ok := tbl.Column("b", "gini")
	require.True(t, ok)
	require.NotNil(t, col.Values[0])
	assert.Equal(t, 0.5, *col.Values[0])
	assert.Equal(t, 0.4, *col.Values[1])
	assert.Nil(t, col.Values[2])
	assert.Nil(t, col.Values[3])

	mob, ok := tbl.Column("a", "mobility_rate")
	require.True(t, ok)
	assert.Equal(t, 0.0, *mob.Values[0])
	assert.Equal(t, 0.1, *mob.Values[3])
}

func TestAlignRejectsUnknownMetric(t *testing.T) {
	_, err := Align([]*engine.Result{fakeResult("a", 0.1)}, "happiness")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestAlignDefaultMetrics(t *testing.T) {
	tbl, err := Align([]*engine.Result{fakeResult("a", 0.1, 0.2)})
	require.NoError(t, err)
	assert.Equal(t, DefaultMetrics, tbl.Metrics)
	assert.Len(t, tbl.Columns, len(DefaultMetrics))
}

func TestWriteJSONUsesNulls(t *testing.T) {
	tbl, err := Align([]*engine.Result{fakeResult("a", 0.1, 0.2, 0.3), fakeResult("b", 0.4)}, "gini")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteJSON(&buf))

	var decoded struct {
		Columns []struct {
			RunID  string     `json:"run_id"`
			Values []*float64 `json:"values"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Columns, 2)
	b := decoded.Columns[1]
	assert.Equal(t, "b", b.RunID)
	require.Len(t, b.Values, 3)
	assert.Equal(t, 0.4, *b.Values[0])
	assert.Nil(t, b.Values[1])
	assert.Contains(t, buf.String(), "null")
}

func TestWriteCSV(t *testing.T) {
	tbl, err := Align([]*engine.Result{fakeResult("a", 0.1, 0.25), fakeResult("b", 0.4)}, "gini")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"step", "run-a:gini", "run-b:gini"},
		{"0", "0.1", "0.4"},
		{"1", "0.25", ""},
	}, rows)
}

func TestSummarize(t *testing.T) {
	tbl, err := Align([]*engine.Result{fakeResult("a", 0.2, 0.4, 0.3), fakeResult("b", 0.5)}, "gini")
	require.NoError(t, err)

	sums := tbl.Summarize()
	require.Len(t, sums, 2)
	a := sums[0]
	assert.Equal(t, 0.2, a.Baseline)
	assert.Equal(t, 0.3, a.Final)
	assert.InDelta(t, 0.1, a.Change, 1e-12)
	assert.InDelta(t, 0.3, a.Mean, 1e-12)
	assert.Equal(t, 0.2, a.Min)
	assert.Equal(t, 0.4, a.Max)

	b := sums[1]
	assert.Equal(t, 0.5, b.Final)
	assert.Equal(t, 0.0, b.Change)
}

func TestAlignRealRuns(t *testing.T) {
	var results []*engine.Result
	for _, preset := range []string{"patriarchal", "egalitarian"} {
		cfg, err := config.Preset(preset)
		require.NoError(t, err)
		cfg = cfg.WithSeed(5)
		cfg.PopulationSize = 20
		cfg.Steps = 8

		e, err := engine.New(cfg, engine.WithLogger(logging.Discard()))
		require.NoError(t, err)
		require.NoError(t, e.RunToCompletion(context.Background()))
		results = append(results, e.Result())
	}

	tbl, err := Align(results, "gini", "theil", "female_mean_power")
	require.NoError(t, err)
	assert.Len(t, tbl.Steps, 9)
	for _, c := range tbl.Columns {
		for step, v := range c.Values {
			require.NotNil(t, v, "%s %s step %d", c.Name, c.Metric, step)
		}
	}
}
