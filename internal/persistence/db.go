// Package persistence stores finished runs in SQLite: one row per run, one
// per recorded step, plus an event log for querying by category.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/stratasim/internal/config"
	"github.com/talgya/stratasim/internal/engine"
	"github.com/talgya/stratasim/internal/interaction"
	"github.com/talgya/stratasim/internal/social"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

const schemaVersion = 1

// Store wraps a SQLite connection for run storage.
type Store struct {
	conn *sqlx.DB
	log  *slog.Logger
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, log: slog.Default().With("db", path)}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		seed INTEGER NOT NULL,
		state TEXT NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		converged INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		population INTEGER NOT NULL,
		final_inequality REAL NOT NULL,
		created_at TEXT NOT NULL,
		config_json TEXT NOT NULL,
		baseline_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		step INTEGER NOT NULL,
		aggregates_json TEXT NOT NULL,
		agents_json TEXT,
		PRIMARY KEY (run_id, step)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		step INTEGER NOT NULL,
		category TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		meta_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, step);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}
	_, err := s.conn.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		schemaVersion, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// RunSummary is the listing row for one stored run.
type RunSummary struct {
	ID              string       `json:"run_id"`
	Name            string       `json:"name"`
	Seed            int64        `json:"seed"`
	State           engine.State `json:"state"`
	Failure         string       `json:"failure,omitempty"`
	Converged       bool         `json:"converged"`
	Steps           int          `json:"steps"`
	Population      int          `json:"population"`
	FinalInequality float64      `json:"final_inequality"`
	CreatedAt       time.Time    `json:"created_at"`
}

type runRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	Seed            int64   `db:"seed"`
	State           string  `db:"state"`
	Failure         string  `db:"failure"`
	Converged       bool    `db:"converged"`
	Steps           int     `db:"steps"`
	Population      int     `db:"population"`
	FinalInequality float64 `db:"final_inequality"`
	CreatedAt       string  `db:"created_at"`
	ConfigJSON      string  `db:"config_json"`
	BaselineJSON    string  `db:"baseline_json"`
}

func (r runRow) summary() (RunSummary, error) {
	out := RunSummary{
		ID:              r.ID,
		Name:            r.Name,
		Seed:            r.Seed,
		Failure:         r.Failure,
		Converged:       r.Converged,
		Steps:           r.Steps,
		Population:      r.Population,
		FinalInequality: r.FinalInequality,
	}
	if err := out.State.UnmarshalText([]byte(r.State)); err != nil {
		return out, err
	}
	t, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return out, fmt.Errorf("created_at: %w", err)
	}
	out.CreatedAt = t
	return out, nil
}

type snapshotRow struct {
	Step           int            `db:"step"`
	AggregatesJSON string         `db:"aggregates_json"`
	AgentsJSON     sql.NullString `db:"agents_json"`
}

// SaveResult writes r, replacing any earlier copy of the same run.
func (s *Store) SaveResult(ctx context.Context, r *engine.Result) error {
	cfgJSON, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	baseJSON, err := json.Marshal(r.Baseline)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	final := r.Final().Aggregates

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", r.RunID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, name, seed, state, failure, converged, steps, population,
		 final_inequality, created_at, config_json, baseline_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Name, r.Seed, r.State.String(), r.Failure, r.Converged,
		r.Steps(), final.Population, final.Inequality,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), string(cfgJSON), string(baseJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	snapStmt, err := tx.PreparexContext(ctx, `INSERT INTO snapshots
		(run_id, step, aggregates_json, agents_json) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer snapStmt.Close()

	eventStmt, err := tx.PreparexContext(ctx, `INSERT INTO events
		(run_id, step, category, subject, description, meta_json) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer eventStmt.Close()

	for _, snap := range r.History {
		aggJSON, err := json.Marshal(snap.Aggregates)
		if err != nil {
			return fmt.Errorf("encode step %d: %w", snap.Step, err)
		}
		var agentsJSON sql.NullString
		if snap.Agents != nil {
			b, err := json.Marshal(snap.Agents)
			if err != nil {
				return fmt.Errorf("encode agents at step %d: %w", snap.Step, err)
			}
			agentsJSON = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := snapStmt.ExecContext(ctx, r.RunID, snap.Step, string(aggJSON), agentsJSON); err != nil {
			return fmt.Errorf("insert step %d: %w", snap.Step, err)
		}

		for _, ev := range snap.Aggregates.Events {
			var meta sql.NullString
			if len(ev.Meta) > 0 {
				b, err := json.Marshal(ev.Meta)
				if err != nil {
					return fmt.Errorf("encode event meta: %w", err)
				}
				meta = sql.NullString{String: string(b), Valid: true}
			}
			if _, err := eventStmt.ExecContext(ctx, r.RunID, ev.Step, ev.Category, ev.Subject, ev.Description, meta); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("run saved", "run_id", r.RunID, "name", r.Name, "steps", r.Steps(), "state", r.State.String())
	return nil
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	var rows []runRow
	err := s.conn.SelectContext(ctx, &rows, `SELECT
		id, name, seed, state, failure, converged, steps, population,
		final_inequality, created_at, '' AS config_json, '' AS baseline_json
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, 0, len(rows))
	for _, row := range rows {
		sum, err := row.summary()
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", row.ID, err)
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Store) run(ctx context.Context, id string) (runRow, error) {
	var row runRow
	err := s.conn.GetContext(ctx, &row, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return row, err
}

// GetRun returns the listing row for one run.
func (s *Store) GetRun(ctx context.Context, id string) (RunSummary, error) {
	row, err := s.run(ctx, id)
	if err != nil {
		return RunSummary{}, err
	}
	return row.summary()
}

// LoadResult reads a whole run back, agent snapshots included.
func (s *Store) LoadResult(ctx context.Context, id string) (*engine.Result, error) {
	return s.load(ctx, id, true)
}

// LoadTrajectory reads a run back without per-step agent snapshots.
func (s *Store) LoadTrajectory(ctx context.Context, id string) (*engine.Result, error) {
	return s.load(ctx, id, false)
}

func (s *Store) load(ctx context.Context, id string, withAgents bool) (*engine.Result, error) {
	row, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	sum, err := row.summary()
	if err != nil {
		return nil, err
	}

	r := &engine.Result{
		RunID:     sum.ID,
		Name:      sum.Name,
		Seed:      sum.Seed,
		State:     sum.State,
		Failure:   sum.Failure,
		Converged: sum.Converged,
		CreatedAt: sum.CreatedAt,
		Config:    &config.Config{},
	}
	if err := json.Unmarshal([]byte(row.ConfigJSON), r.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(row.BaselineJSON), &r.Baseline); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	if r.History, err = s.LoadHistory(ctx, id, 0, 0, withAgents); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadHistory returns the snapshots for steps in [from, to]. Zero bounds are
// open. Agents are decoded only when withAgents is set.
func (s *Store) LoadHistory(ctx context.Context, id string, from, to int, withAgents bool) ([]social.Snapshot, error) {
	if _, err := s.run(ctx, id); err != nil {
		return nil, err
	}
	if to <= 0 {
		to = int(^uint(0) >> 1)
	}
	cols := "step, aggregates_json, NULL AS agents_json"
	if withAgents {
		cols = "step, aggregates_json, agents_json"
	}

	var rows []snapshotRow
	err := s.conn.SelectContext(ctx, &rows,
		"SELECT "+cols+" FROM snapshots WHERE run_id = ? AND step >= ? AND step <= ? ORDER BY step",
		id, from, to,
	)
	if err != nil {
		return nil, err
	}

	out := make([]social.Snapshot, len(rows))
	for i, row := range rows {
		out[i].Step = row.Step
		if err := json.Unmarshal([]byte(row.AggregatesJSON), &out[i].Aggregates); err != nil {
			return nil, fmt.Errorf("decode step %d: %w", row.Step, err)
		}
		if row.AgentsJSON.Valid {
			if err := json.Unmarshal([]byte(row.AgentsJSON.String), &out[i].Agents); err != nil {
				return nil, fmt.Errorf("decode agents at step %d: %w", row.Step, err)
			}
		}
	}
	return out, nil
}

type eventRow struct {
	Step        int            `db:"step"`
	Category    string         `db:"category"`
	Subject     string         `db:"subject"`
	Description string         `db:"description"`
	MetaJSON    sql.NullString `db:"meta_json"`
}

// Events returns a run's events in step order, optionally filtered by
// category, at most limit of them (0 for all).
func (s *Store) Events(ctx context.Context, id, category string, limit int) ([]interaction.Event, error) {
	if _, err := s.run(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	var rows []eventRow
	err := s.conn.SelectContext(ctx, &rows, `SELECT step, category, subject, description, meta_json
		FROM events WHERE run_id = ? AND (? = '' OR category = ?)
		ORDER BY step, id LIMIT ?`,
		id, category, category, limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]interaction.Event, len(rows))
	for i, row := range rows {
		out[i] = interaction.Event{Step: row.Step, Category: row.Category, Subject: row.Subject, Description: row.Description}
		if row.MetaJSON.Valid {
			if err := json.Unmarshal([]byte(row.MetaJSON.String), &out[i].Meta); err != nil {
				return nil, fmt.Errorf("decode event meta: %w", err)
			}
		}
	}
	return out, nil
}

// DeleteRun removes a run and everything recorded for it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
