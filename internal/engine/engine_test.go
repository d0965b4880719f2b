package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/stratasim/internal/agents"
	"github.com/talgya/stratasim/internal/config"
	"github.com/talgya/stratasim/internal/entropy"
	"github.com/talgya/stratasim/internal/interaction"
	"github.com/talgya/stratasim/internal/logging"
	"github.com/talgya/stratasim/internal/social"
)

func testConfig(pop, steps int, seed int64) *config.Config {
	c := config.Default().WithSeed(seed)
	c.PopulationSize = pop
	c.Steps = steps
	return c
}

func newEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, append([]Option{WithLogger(logging.Discard())}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestSmallRunCompletesAndConserves(t *testing.T) {
	e := newEngine(t, testConfig(10, 5, 42))
	require.NoError(t, e.RunToCompletion(context.Background()))

	assert.Equal(t, StateCompleted, e.State())
	require.Equal(t, 5, e.History().Len())

	start := e.Baseline().Aggregates.TotalWealth
	last, ok := e.History().Last()
	require.True(t, ok)
	assert.Equal(t, 5, last.Step)
	assert.Equal(t, start, last.Aggregates.TotalWealth)
	for i, agg := range e.History().Aggregates() {
		assert.Equal(t, i+1, agg.Step)
		assert.Equal(t, start, agg.TotalWealth, "step %d", agg.Step)
	}
}

func TestSingleAgentRunIsStatic(t *testing.T) {
	cfg := testConfig(1, 3, 7)
	cfg.RecordAgents = true
	e := newEngine(t, cfg)
	require.NoError(t, e.RunToCompletion(context.Background()))
	require.Equal(t, 3, e.History().Len())

	base := e.Baseline()
	for _, snap := range e.History().All() {
		got := snap.Aggregates
		want := base.Aggregates
		got.Step, want.Step = 0, 0
		assert.Equal(t, want, got)
		assert.Equal(t, base.Agents, snap.Agents)
	}
}

func TestSameSeedSameHistory(t *testing.T) {
	run := func() []social.Aggregates {
		e := newEngine(t, testConfig(40, 15, 99))
		require.NoError(t, e.RunToCompletion(context.Background()))
		return e.History().Aggregates()
	}
	assert.Equal(t, run(), run())
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := newEngine(t, testConfig(40, 10, 1))
	b := newEngine(t, testConfig(40, 10, 2))
	require.NoError(t, a.RunToCompletion(context.Background()))
	require.NoError(t, b.RunToCompletion(context.Background()))
	assert.NotEqual(t, a.History().Aggregates(), b.History().Aggregates())
}

func TestTiersStayInRange(t *testing.T) {
	cfg := testConfig(60, 30, 5)
	cfg.RecordAgents = true
	cfg.InteractionParams = map[string]float64{"promote_factor": 1.0, "demote_factor": 0.9}
	e := newEngine(t, cfg)
	require.NoError(t, e.RunToCompletion(context.Background()))

	for _, snap := range e.History().All() {
		agg := snap.Aggregates
		assert.GreaterOrEqual(t, agg.MobilityRate, 0.0)
		assert.LessOrEqual(t, agg.MobilityRate, 1.0)
		assert.Equal(t, agg.Population, agg.TierCounts[0]+agg.TierCounts[1]+agg.TierCounts[2])
		for _, a := range snap.Agents {
			assert.True(t, a.Tier.Valid(), "agent %d tier %d", a.ID, a.Tier)
		}
	}
}

// sinkRule pushes every lower-tier agent one tier further down.
var sinkRule = interaction.RuleFunc{
	RuleName: "sink",
	Fn: func(st *interaction.StepState, _ *entropy.Stream) error {
		for i := 0; i < st.Len(); i++ {
			if st.Agent(i).Tier == agents.TierLower {
				st.Delta(i).TierShift = -1
			}
		}
		return nil
	},
}

func TestIllegalDemotionIsClamped(t *testing.T) {
	cases := []struct {
		name  string
		opts  []interaction.Option
		exact bool
	}{
		{name: "full pipeline", opts: []interaction.Option{interaction.WithRules(sinkRule)}},
		{name: "sink only", opts: []interaction.Option{interaction.WithoutDefaults(), interaction.WithRules(sinkRule)}, exact: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(10, 4, 42)
			cfg.ExitEnabled, cfg.EntryEnabled = false, false
			cfg.RecordAgents = true
			params, err := cfg.Params()
			require.NoError(t, err)
			m, err := interaction.NewModel(params, tc.opts...)
			require.NoError(t, err)

			e := newEngine(t, cfg, WithModel(m))
			require.NoError(t, e.RunToCompletion(context.Background()))
			assert.Equal(t, StateCompleted, e.State())

			prev := e.Baseline()
			for _, snap := range e.History().All() {
				tiers := make(map[agents.AgentID]agents.Tier, len(snap.Agents))
				for _, a := range snap.Agents {
					tiers[a.ID] = a.Tier
				}
				targeted := 0
				for _, a := range prev.Agents {
					if a.Tier != agents.TierLower {
						continue
					}
					targeted++
					assert.Equal(t, agents.TierLower, tiers[a.ID], "step %d agent %d", snap.Step, a.ID)
				}
				require.Positive(t, targeted)
				if tc.exact {
					assert.Equal(t, targeted, snap.Aggregates.Clamps, "step %d", snap.Step)
				} else {
					assert.GreaterOrEqual(t, snap.Aggregates.Clamps, targeted, "step %d", snap.Step)
				}
				assert.Equal(t, e.Baseline().Aggregates.TotalWealth, snap.Aggregates.TotalWealth)
				prev = snap
			}
		})
	}
}

func TestRuleErrorFailsRun(t *testing.T) {
	cfg := testConfig(10, 10, 3)
	params, err := cfg.Params()
	require.NoError(t, err)

	boom := errors.New("boom")
	m, err := interaction.NewModel(params, interaction.WithRules(interaction.RuleFunc{
		RuleName: "explode",
		Fn: func(st *interaction.StepState, _ *entropy.Stream) error {
			if st.Pop.Step == 3 {
				return boom
			}
			return nil
		},
	}))
	require.NoError(t, err)

	e := newEngine(t, cfg, WithModel(m))
	err = e.RunToCompletion(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interaction.ErrModelComputation)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, StateFailed, e.State())
	assert.Equal(t, 2, e.History().Len())
	assert.ErrorIs(t, e.Step(), ErrNotRunning)

	r := e.Result()
	assert.Equal(t, StateFailed, r.State)
	assert.Contains(t, r.Failure, "explode")
	assert.Len(t, r.History, 2)
}

func TestCancelledRunResumes(t *testing.T) {
	e := newEngine(t, testConfig(20, 10, 11))

	ctx, cancel := context.WithCancel(context.Background())
	steps := 0
	e.onStep = func(social.Snapshot) {
		steps++
		if steps == 4 {
			cancel()
		}
	}
	err := e.RunToCompletion(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateRunning, e.State())
	assert.Equal(t, 4, e.History().Len())

	require.NoError(t, e.RunToCompletion(context.Background()))
	assert.Equal(t, StateCompleted, e.State())
	assert.Equal(t, 10, e.History().Len())

	// An uninterrupted run with the same seed reaches the same place.
	ref := newEngine(t, testConfig(20, 10, 11))
	require.NoError(t, ref.RunToCompletion(context.Background()))
	assert.Equal(t, ref.History().Aggregates(), e.History().Aggregates())
}

func TestStepRequiresRunning(t *testing.T) {
	e := newEngine(t, testConfig(5, 2, 1))
	assert.ErrorIs(t, e.Step(), ErrNotRunning)

	require.NoError(t, e.Start())
	assert.ErrorIs(t, e.Start(), ErrNotRunning)
	require.NoError(t, e.Step())
	require.NoError(t, e.Step())
	assert.Equal(t, StateCompleted, e.State())
	assert.ErrorIs(t, e.Step(), ErrNotRunning)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(0, 5, 1)
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = New(nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestFreshSeedIsRecorded(t *testing.T) {
	cfg := testConfig(5, 1, 0)
	cfg.Seed = nil
	e := newEngine(t, cfg)
	require.NoError(t, e.RunToCompletion(context.Background()))

	r := e.Result()
	require.NotNil(t, r.Config.Seed)
	assert.Equal(t, e.Seed(), r.Seed)
	assert.Equal(t, r.Seed, *r.Config.Seed)
	assert.Nil(t, cfg.Seed)
}

func TestChurnConservesWithMint(t *testing.T) {
	cfg := testConfig(50, 25, 8)
	cfg.ExitEnabled = true
	cfg.EntryEnabled = true
	cfg.ExitRate = 0.1
	cfg.EntryRate = 0.1
	e := newEngine(t, cfg)
	require.NoError(t, e.RunToCompletion(context.Background()))

	prev := e.Baseline().Aggregates.TotalWealth
	var entries, exits int
	for _, agg := range e.History().Aggregates() {
		want := prev + agg.Flows.Minted - agg.Flows.Burned
		assert.Equal(t, want, agg.TotalWealth, "step %d", agg.Step)
		assert.Positive(t, agg.Population)
		prev = agg.TotalWealth
		entries += agg.Entries
		exits += agg.Exits
	}
	assert.Positive(t, entries)
	assert.Positive(t, exits)
}

func TestChurnKeepsLastAgent(t *testing.T) {
	cfg := testConfig(3, 10, 4)
	cfg.ExitEnabled = true
	cfg.ExitRate = 1
	e := newEngine(t, cfg)
	require.NoError(t, e.RunToCompletion(context.Background()))

	start := e.Baseline().Aggregates.TotalWealth
	for _, agg := range e.History().Aggregates() {
		assert.Equal(t, 1, agg.Population)
		assert.Equal(t, start, agg.TotalWealth)
	}
}

func TestConvergenceStopsEarly(t *testing.T) {
	cfg := testConfig(10, 50, 42)
	cfg.ConvergenceTolerance = 1
	cfg.ConvergenceWindow = 3
	e := newEngine(t, cfg)
	require.NoError(t, e.RunToCompletion(context.Background()))

	assert.Equal(t, StateCompleted, e.State())
	assert.Equal(t, 4, e.History().Len())
	assert.True(t, e.Result().Converged)
}

func TestOnStepSeesEveryStep(t *testing.T) {
	var seen []int
	e := newEngine(t, testConfig(8, 6, 2), WithOnStep(func(s social.Snapshot) {
		seen = append(seen, s.Step)
	}))
	require.NoError(t, e.RunToCompletion(context.Background()))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, seen)
}

func TestResultWindow(t *testing.T) {
	e := newEngine(t, testConfig(8, 6, 2))
	require.NoError(t, e.RunToCompletion(context.Background()))
	r := e.Result()

	w := r.Window(2, 4)
	require.Len(t, w, 3)
	assert.Equal(t, 2, w[0].Step)
	assert.Equal(t, 4, w[2].Step)
	assert.Len(t, r.Window(0, 0), 6)
	assert.Empty(t, r.Window(5, 3))
	assert.Equal(t, 6, r.Final().Step)
}

func TestStateText(t *testing.T) {
	for _, s := range []State{StateConfigured, StateRunning, StateCompleted, StateFailed} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}
