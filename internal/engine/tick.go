// Package engine advances a society through discrete steps and records its
// trajectory. An Engine is a pure function of (config, seed) to history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/stratasim/internal/agents"
	"github.com/talgya/stratasim/internal/config"
	"github.com/talgya/stratasim/internal/entropy"
	"github.com/talgya/stratasim/internal/interaction"
	"github.com/talgya/stratasim/internal/social"
	"github.com/talgya/stratasim/internal/world"
)

// ErrNotRunning is returned when an operation is not valid in the engine's state.
var ErrNotRunning = errors.New("engine not running")

// State is the engine lifecycle: Configured -> Running -> Completed | Failed.
type State uint8

const (
	StateConfigured State = iota
	StateRunning
	StateCompleted
	StateFailed
)

var stateNames = [...]string{"configured", "running", "completed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further steps can run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown engine state %q", b)
}

// StopPredicate ends a run early when it returns true after a step.
type StopPredicate func(h *History) bool

// Option configures an Engine.
type Option func(*Engine)

// WithModel replaces the interaction model built from the config.
func WithModel(m *interaction.Model) Option {
	return func(e *Engine) { e.model = m }
}

// WithStopPredicate replaces the convergence check.
func WithStopPredicate(p StopPredicate) Option {
	return func(e *Engine) { e.stop = p }
}

// WithLogger sets the base logger. The run id is attached to it.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithOnStep registers a callback run after every recorded step.
func WithOnStep(fn func(social.Snapshot)) Option {
	return func(e *Engine) { e.onStep = fn }
}

// Engine drives one run. It is not safe for concurrent use; independent
// engines may run in parallel.
type Engine struct {
	RunID string

	cfg     *config.Config
	seed    int64
	state   State
	failure error
	step    int // Last completed step

	society *social.Society
	model   *interaction.Model
	spawner *agents.Spawner
	layout  *world.Map
	rng     *entropy.Stream // Interaction model draws
	churn   *entropy.Stream // Exit and entry draws

	history   History
	baseline  social.Snapshot
	converged bool
	createdAt time.Time

	stop   StopPredicate
	onStep func(social.Snapshot)
	log    *slog.Logger
}

// New validates cfg and builds a run ready to start. A config without a seed
// gets a fresh one, recorded in the result.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, &config.ValidationError{Field: "config", Reason: "missing"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	if cfg.Seed == nil {
		seed := entropy.FreshSeed()
		cfg.Seed = &seed
	}

	e := &Engine{
		RunID:     uuid.NewString(),
		cfg:       cfg,
		seed:      *cfg.Seed,
		state:     StateConfigured,
		createdAt: time.Now().UTC(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("run_id", e.RunID)

	if e.model == nil {
		params, err := cfg.Params()
		if err != nil {
			return nil, &config.ValidationError{Field: "interaction_params", Reason: err.Error(), Err: err}
		}
		if e.model, err = interaction.NewModel(params); err != nil {
			return nil, &config.ValidationError{Field: "interaction_params", Reason: err.Error(), Err: err}
		}
	}
	if e.stop == nil && cfg.ConvergenceWindow > 0 {
		e.stop = Converged(cfg.ConvergenceTolerance, cfg.ConvergenceWindow)
	}

	e.layout = world.Generate(world.GenConfig{
		Radius: world.RadiusFor(cfg.PopulationSize, world.DefaultDensity),
		Seed:   e.seed,
	})
	e.spawner = agents.NewSpawner(cfg.SpawnConfig(e.seed), e.layout)
	e.rng = entropy.NewStream(e.seed)
	e.churn = entropy.Derive(e.seed, 100)

	society, err := social.New(
		e.spawner.SpawnPopulation(cfg.PopulationSize),
		e.model.Params().InitialPolicy(),
		social.WithInequalityMetric(cfg.Metric()),
		social.WithLogger(e.log),
	)
	if err != nil {
		return nil, fmt.Errorf("building society: %w", err)
	}
	e.society = society
	e.baseline = society.Snapshot(cfg.RecordAgents)

	e.log.Info("run configured",
		"name", cfg.Name,
		"seed", e.seed,
		"population", cfg.PopulationSize,
		"steps", cfg.Steps,
		"layout", e.layout.String(),
		"rules", len(e.model.RuleNames()),
	)
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return e.state }

// Seed returns the resolved seed.
func (e *Engine) Seed() int64 { return e.seed }

// CurrentStep returns the last completed step.
func (e *Engine) CurrentStep() int { return e.step }

// Failure returns the error that failed the run, if any.
func (e *Engine) Failure() error { return e.failure }

// History returns the recorded snapshots.
func (e *Engine) History() *History { return &e.history }

// Baseline returns the step 0 snapshot.
func (e *Engine) Baseline() social.Snapshot { return e.baseline.Clone() }

// Start moves the engine from Configured to Running.
func (e *Engine) Start() error {
	if e.state != StateConfigured {
		return fmt.Errorf("%w: cannot start from %s", ErrNotRunning, e.state)
	}
	e.state = StateRunning
	e.log.Info("run started", "step", e.step)
	return nil
}

// Step advances the run by one step: churn, compute, commit, record. It
// completes the run at the configured step count or when the stop predicate
// holds. A model or commit error fails the run; recorded history is kept.
func (e *Engine) Step() error {
	if e.state != StateRunning {
		return fmt.Errorf("%w: engine is %s", ErrNotRunning, e.state)
	}
	next := e.step + 1

	inheritance, err := e.processChurn(next)
	if err != nil {
		return e.fail(next, err)
	}
	before := e.society.TotalWealth()

	out, err := e.model.ComputeStep(e.society.View(next, inheritance), e.rng)
	if err != nil {
		return e.fail(next, err)
	}
	res, err := e.society.Commit(next, out)
	if err != nil {
		return e.fail(next, err)
	}

	if after, want := e.society.TotalWealth(), before+inheritance+out.Flows.Minted-out.Flows.Burned; after != want {
		e.log.Warn("wealth not conserved", "step", next, "have", after, "want", want)
	}

	e.step = next
	snap := e.society.Snapshot(e.cfg.RecordAgents)
	e.history.append(snap)
	if e.onStep != nil {
		e.onStep(snap.Clone())
	}

	agg := snap.Aggregates
	e.log.Debug("step complete",
		"step", next,
		"population", agg.Population,
		"inequality", fmt.Sprintf("%.3f", agg.Inequality),
		"mobility", fmt.Sprintf("%.3f", agg.MobilityRate),
		"tier_changes", res.TierChanges,
		"clamps", len(res.Clamps),
		"entries", agg.Entries,
		"exits", agg.Exits,
	)

	switch {
	case next >= e.cfg.Steps:
		e.complete()
	case e.stop != nil && e.stop(&e.history):
		e.converged = true
		e.complete()
	}
	return nil
}

// RunToCompletion starts the run if needed and steps until it is terminal.
// Cancellation is checked between steps only; a cancelled run stays Running
// with a valid history and can be resumed.
func (e *Engine) RunToCompletion(ctx context.Context) error {
	if e.state == StateConfigured {
		if err := e.Start(); err != nil {
			return err
		}
	}
	for !e.state.Terminal() {
		if err := ctx.Err(); err != nil {
			e.log.Info("run interrupted", "step", e.step, "reason", err)
			return err
		}
		if err := e.Step(); err != nil {
			return err
		}
	}
	return e.failure
}

func (e *Engine) complete() {
	e.state = StateCompleted
	last, _ := e.history.Last()
	e.log.Info("run completed",
		"step", e.step,
		"converged", e.converged,
		"population", last.Aggregates.Population,
		"inequality", fmt.Sprintf("%.3f", last.Aggregates.Inequality),
		"total_wealth", fmt.Sprintf("%.3f", float64(last.Aggregates.TotalWealth)/agents.WealthUnit),
	)
}

func (e *Engine) fail(step int, err error) error {
	e.state = StateFailed
	e.failure = err
	e.log.Error("run failed", "step", step, "err", err)
	return err
}

// Converged stops a run once inequality has moved by at most tolerance for
// window consecutive steps.
func Converged(tolerance float64, window int) StopPredicate {
	return func(h *History) bool {
		n := len(h.snaps)
		if window <= 0 || n < window+1 {
			return false
		}
		for i := n - window; i < n; i++ {
			d := h.snaps[i].Aggregates.Inequality - h.snaps[i-1].Aggregates.Inequality
			if d > tolerance || d < -tolerance {
				return false
			}
		}
		return true
	}
}
