// Agent spawning: the initial population and later entrants, each with
// demographics, skills, wealth, ideology and a place in the neighbourhood.
package agents

import (
	"math"

	"github.com/talgya/stratasim/internal/entropy"
	"github.com/talgya/stratasim/internal/world"
)

// SpawnConfig controls population generation.
type SpawnConfig struct {
	Seed int64

	GenderRatio       float64           // Share of males, 0.0–1.0
	ClassDistribution [NumTiers]float64 // Share per tier, sums to 1

	MaleCareMean          float64
	MaleCompetitionMean   float64
	FemaleCareMean        float64
	FemaleCompetitionMean float64
	SkillStdDev           float64

	MaxLinks int // Neighbours linked on arrival
}

// DefaultSpawnConfig returns the baseline demographic setup.
func DefaultSpawnConfig() SpawnConfig {
	return SpawnConfig{
		GenderRatio:           0.5,
		ClassDistribution:     [NumTiers]float64{0.6, 0.3, 0.1},
		MaleCareMean:          0.4,
		MaleCompetitionMean:   0.6,
		FemaleCareMean:        0.6,
		FemaleCompetitionMean: 0.4,
		SkillStdDev:           0.15,
		MaxLinks:              8,
	}
}

// wealthBand is the clipped normal an agent's starting wealth is drawn from.
type wealthBand struct {
	mean, std, lo, hi float64
}

var wealthBands = [NumTiers]wealthBand{
	TierLower:  {mean: 0.2, std: 0.1, lo: 0.05, hi: 0.35},
	TierMiddle: {mean: 0.5, std: 0.15, lo: 0.2, hi: 0.8},
	TierUpper:  {mean: 0.8, std: 0.1, lo: 0.6, hi: 1.0},
}

// Spawner creates agents for one run. It owns its own random stream.
type Spawner struct {
	cfg    SpawnConfig
	rng    *entropy.Stream
	world  *world.Map
	coords []world.HexCoord
	nextID AgentID
}

// NewSpawner creates an agent spawner placing agents on m.
func NewSpawner(cfg SpawnConfig, m *world.Map) *Spawner {
	return &Spawner{
		cfg:    cfg,
		rng:    entropy.Derive(cfg.Seed, 300),
		world:  m,
		coords: m.Coords(),
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued.
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// SpawnPopulation creates the initial population. Tier and sex quotas are
// filled exactly, then shuffled so ids carry no composition signal.
func (s *Spawner) SpawnPopulation(count int) []*Agent {
	type slot struct {
		tier Tier
		sex  Sex
	}

	lower := int(float64(count) * s.cfg.ClassDistribution[TierLower])
	middle := int(float64(count) * s.cfg.ClassDistribution[TierMiddle])
	quotas := [NumTiers]int{lower, middle, count - lower - middle}

	slots := make([]slot, 0, count)
	for _, tier := range Tiers {
		n := quotas[tier]
		males := int(float64(n) * s.cfg.GenderRatio)
		for i := 0; i < n; i++ {
			sex := SexFemale
			if i < males {
				sex = SexMale
			}
			slots = append(slots, slot{tier: tier, sex: sex})
		}
	}
	s.rng.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })

	agents := make([]*Agent, 0, count)
	for _, sl := range slots {
		agents = append(agents, s.Spawn(sl.tier, sl.sex, 0))
	}
	return agents
}

// SpawnEntrant creates one newcomer arriving at step, with tier and sex
// drawn from the configured distributions.
func (s *Spawner) SpawnEntrant(step int) *Agent {
	sex := SexFemale
	if s.rng.Chance(s.cfg.GenderRatio) {
		sex = SexMale
	}

	tier := TierUpper
	r := s.rng.Float64()
	acc := 0.0
	for _, t := range Tiers {
		acc += s.cfg.ClassDistribution[t]
		if r < acc {
			tier = t
			break
		}
	}
	return s.Spawn(tier, sex, step)
}

// Spawn creates a single agent, places it in the neighbourhood and links it
// to nearby residents. Links are one-way here; the society reciprocates them.
func (s *Spawner) Spawn(tier Tier, sex Sex, step int) *Agent {
	id := s.nextID
	s.nextID++

	locale := world.HexCoord{}
	if len(s.coords) > 0 {
		locale = s.coords[s.rng.Intn(len(s.coords))]
	}

	a := &Agent{
		ID:                id,
		Sex:               sex,
		Tier:              tier,
		Skills:            s.skills(sex),
		Ideology:          Ideologies[s.rng.Intn(len(Ideologies))],
		IdeologyChangedAt: step,
		Locale:            locale,
		BornStep:          step,
	}
	a.Wealth = s.startingWealth(tier, s.world.Prosperity(locale))
	a.Power = a.StructuralPower()

	for _, n := range s.world.Nearby(uint64(id), locale, s.cfg.MaxLinks) {
		a.Link(AgentID(n))
	}
	s.world.Occupy(uint64(id), locale)
	return a
}

// Depart removes a from the neighbourhood.
func (s *Spawner) Depart(a *Agent) {
	s.world.Vacate(uint64(a.ID), a.Locale)
}

// skills draws care and competition from sex-specific clipped normals.
func (s *Spawner) skills(sex Sex) Skills {
	if sex == SexMale {
		return Skills{
			Care:        clip(s.rng.Normal(s.cfg.MaleCareMean, s.cfg.SkillStdDev), 0.1, 0.9),
			Competition: clip(s.rng.Normal(s.cfg.MaleCompetitionMean, s.cfg.SkillStdDev), 0.2, 1.0),
		}
	}
	return Skills{
		Care:        clip(s.rng.Normal(s.cfg.FemaleCareMean, s.cfg.SkillStdDev), 0.2, 1.0),
		Competition: clip(s.rng.Normal(s.cfg.FemaleCompetitionMean, s.cfg.SkillStdDev), 0.1, 0.9),
	}
}

// startingWealth draws from the tier's band, nudged by local prosperity.
func (s *Spawner) startingWealth(tier Tier, prosperity float64) uint64 {
	band := wealthBands[tier]
	mean := band.mean + (prosperity-0.5)*0.1
	w := clip(s.rng.Normal(mean, band.std), band.lo, band.hi)
	return uint64(math.Round(w * WealthUnit))
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
