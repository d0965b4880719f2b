package agents

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/stratasim/internal/world"
)

func testAgent() *Agent {
	a := &Agent{
		ID:       7,
		Sex:      SexFemale,
		Tier:     TierMiddle,
		Wealth:   5000,
		Skills:   Skills{Care: 0.6, Competition: 0.4},
		Ideology: IdeologyUtilitarian,
	}
	a.Power = a.StructuralPower()
	return a
}

func TestApplyDeltaLegal(t *testing.T) {
	a := testAgent()
	err := a.ApplyDelta(Delta{Wealth: -1000, TierShift: 1, Care: 0.1}, 5)
	require.NoError(t, err)

	assert.Equal(t, uint64(4000), a.Wealth)
	assert.Equal(t, TierUpper, a.Tier)
	assert.InDelta(t, 0.7, a.Skills.Care, 1e-12)
	assert.InDelta(t, 0.5*0.4+0.25*0.4+0.25*0.7, a.Power, 1e-12)
}

func TestApplyDeltaClampsNegativeWealth(t *testing.T) {
	a := testAgent()
	err := a.ApplyDelta(Delta{Wealth: -6000}, 1)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	assert.Equal(t, uint64(0), a.Wealth)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, AgentID(7), te.AgentID)
	require.Len(t, te.Clamps, 1)
	assert.Equal(t, "wealth", te.Clamps[0].Field)
	assert.Equal(t, -1000.0, te.Clamps[0].Attempted)
}

func TestApplyDeltaClampsDemotionBelowLowest(t *testing.T) {
	a := testAgent()
	a.Tier = TierLower

	err := a.ApplyDelta(Delta{TierShift: -1}, 2)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, TierLower, a.Tier)
}

func TestApplyDeltaLimitsTierJump(t *testing.T) {
	a := testAgent()
	a.Tier = TierLower

	err := a.ApplyDelta(Delta{TierShift: 2}, 2)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, TierMiddle, a.Tier)
}

func TestApplyDeltaIdeologyCooldown(t *testing.T) {
	a := testAgent()
	a.IdeologyChangedAt = 4

	err := a.ApplyDelta(Delta{Ideology: IdeologyFeminist}, 5)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, IdeologyUtilitarian, a.Ideology)

	require.NoError(t, a.ApplyDelta(Delta{Ideology: IdeologyFeminist}, 7))
	assert.Equal(t, IdeologyFeminist, a.Ideology)
	assert.Equal(t, 7, a.IdeologyChangedAt)
}

func TestApplyDeltaSkillBounds(t *testing.T) {
	a := testAgent()
	err := a.ApplyDelta(Delta{Care: 0.9, Competition: -0.5}, 1)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, 1.0, a.Skills.Care)
	assert.Equal(t, 0.0, a.Skills.Competition)
}

func TestSanctionLifecycle(t *testing.T) {
	a := testAgent()
	require.NoError(t, a.ApplyDelta(Delta{Sanction: 1.0}, 10))
	require.Len(t, a.Sanctions, 1)
	assert.InDelta(t, 0.08, a.SanctionPowerLoss(10), 1e-12)
	assert.InDelta(t, 0.04, a.SanctionPowerLoss(11), 1e-12)
	assert.Equal(t, uint64(150), a.SanctionWealthLoss(11))

	require.NoError(t, a.ApplyDelta(Delta{}, 13))
	assert.Empty(t, a.Sanctions)
}

func TestDeltaMerge(t *testing.T) {
	d := Delta{Wealth: 10, PowerBias: 1.2}
	d.Merge(Delta{Wealth: -4, TierShift: 1, PowerBias: 0.5, Ideology: IdeologyFeminist})

	assert.Equal(t, int64(6), d.Wealth)
	assert.Equal(t, 1, d.TierShift)
	assert.InDelta(t, 0.6, d.PowerBias, 1e-12)
	assert.Equal(t, IdeologyFeminist, d.Ideology)
	assert.False(t, d.IsZero())
	assert.True(t, Delta{}.IsZero())
}

func TestCloneIsIndependent(t *testing.T) {
	a := testAgent()
	a.Link(3)
	a.Link(1)
	c := a.Clone()

	a.Link(9)
	a.Unlink(1)
	assert.Equal(t, []AgentID{1, 3}, c.Links)
	assert.Equal(t, []AgentID{3, 9}, a.Links)
}

func TestSpawnPopulationQuotasAndDeterminism(t *testing.T) {
	spawn := func() []*Agent {
		cfg := DefaultSpawnConfig()
		cfg.Seed = 42
		m := world.Generate(world.GenConfig{Radius: world.RadiusFor(100, world.DefaultDensity), Seed: 42})
		return NewSpawner(cfg, m).SpawnPopulation(100)
	}
	first := spawn()
	second := spawn()
	require.Len(t, first, 100)

	var tiers [NumTiers]int
	males := 0
	for i, a := range first {
		require.NoError(t, a.Validate())
		assert.Equal(t, a.Clone(), second[i].Clone())
		assert.NotContains(t, a.Links, a.ID)
		tiers[a.Tier]++
		if a.Sex == SexMale {
			males++
		}
		band := wealthBands[a.Tier]
		assert.GreaterOrEqual(t, a.WealthValue(), band.lo-1e-9)
		assert.LessOrEqual(t, a.WealthValue(), band.hi+1e-9)
	}
	assert.Equal(t, [NumTiers]int{60, 30, 10}, tiers)
	assert.Equal(t, 50, males)
}
