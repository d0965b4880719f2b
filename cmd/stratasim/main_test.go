package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/stratasim/internal/persistence"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "stratasim version "+version+"\n", out)

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"`+version+`"}`, out)
}

func TestRunSaveListCompare(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	out, err := execute(t, "run", "--db", db, "--save", "--json",
		"--population", "12", "--steps", "5", "--seed", "42", "--runs", "2")
	require.NoError(t, err)

	var reports []runReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, int64(42), reports[0].Seed)
	assert.Equal(t, int64(43), reports[1].Seed)
	for _, r := range reports {
		assert.Equal(t, "completed", r.State)
		assert.Equal(t, 5, r.Steps)
		assert.NotEmpty(t, r.RunID)
	}

	out, err = execute(t, "runs", "--db", db, "--json")
	require.NoError(t, err)
	var runs []persistence.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Len(t, runs, 2)

	out, err = execute(t, "compare", "--db", db, "--format", "csv", "--metrics", "gini",
		reports[0].RunID, reports[1].RunID)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 7)
	assert.Len(t, rows[0], 3)

	out, err = execute(t, "compare", "--db", db, reports[0].RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "inequality")

	out, err = execute(t, "runs", "show", "--db", db, reports[0].RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "completed after 5 steps (seed 42)")

	_, err = execute(t, "runs", "delete", "--db", db, reports[1].RunID)
	require.NoError(t, err)
	out, err = execute(t, "runs", "--db", db, "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Len(t, runs, 1)
}

func TestRunSameSeedIsDeterministic(t *testing.T) {
	args := []string{"run", "--json", "--population", "20", "--steps", "8", "--seed", "9"}
	a, err := execute(t, args...)
	require.NoError(t, err)
	b, err := execute(t, args...)
	require.NoError(t, err)

	var ra, rb []runReport
	require.NoError(t, json.Unmarshal([]byte(a), &ra))
	require.NoError(t, json.Unmarshal([]byte(b), &rb))
	ra[0].RunID, rb[0].RunID = "", ""
	assert.Equal(t, ra, rb)
}

func TestRunSweepTable(t *testing.T) {
	out, err := execute(t, "run", "--population", "10", "--steps", "3", "--seed", "1",
		"--sweep", "tax_redistribution=0,0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "INEQUALITY")
	assert.Contains(t, out, "tax_redistribution=0.5")
}

func TestRunRejectsInvalidInput(t *testing.T) {
	_, err := execute(t, "run", "--population", "0")
	assert.Error(t, err)

	_, err = execute(t, "run", "--sweep", "tax_redistribution")
	assert.Error(t, err)

	_, err = execute(t, "run", "--preset", "utopia")
	assert.Error(t, err)

	_, err = execute(t, "run", "--log-format", "xml")
	assert.Error(t, err)
}

func TestParseSweep(t *testing.T) {
	name, values, err := parseSweep("exchange_rate=0.05, 0.1,0.2")
	require.NoError(t, err)
	assert.Equal(t, "exchange_rate", name)
	assert.Equal(t, []float64{0.05, 0.1, 0.2}, values)

	_, _, err = parseSweep("exchange_rate=a")
	assert.Error(t, err)
}

func TestCompareUnknownRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	_, err := execute(t, "compare", "--db", db, "missing")
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}
