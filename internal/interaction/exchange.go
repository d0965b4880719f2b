package interaction

import (
	"fmt"

	"github.com/talgya/stratasim/internal/agents"
	"github.com/talgya/stratasim/internal/entropy"
)

// voteRule lets the elite circle vote on one or two random levers. A strict
// plurality to raise or lower moves the lever by 5–20%.
type voteRule struct{}

func (voteRule) Name() string { return "policy_vote" }

func (voteRule) Apply(st *StepState, rng *entropy.Stream) error {
	if !st.Params.Voting || len(st.Pop.Elite) == 0 {
		return nil
	}

	issues := rng.Intn(2) + 1
	order := rng.Perm(NumLevers)
	for _, l := range order[:issues] {
		lever := Lever(l)
		var up, down, hold int
		for _, id := range st.Pop.Elite {
			i := st.IndexOf(id)
			if i < 0 {
				continue
			}
			switch preference(st, i, lever) {
			case 1:
				up++
			case -1:
				down++
			default:
				hold++
			}
		}

		direction := 0
		switch {
		case up > down && up > hold:
			direction = 1
		case down > up && down > hold:
			direction = -1
		}
		if direction == 0 {
			continue
		}
		before, after := st.Policy.adjust(lever, direction, rng.Uniform(0.05, 0.2))
		if after-before > 0.01 || before-after > 0.01 {
			st.Emit("political", lever.String(), fmt.Sprintf("elite circle moved %s from %.3f to %.3f", lever, before, after),
				map[string]float64{"old_value": before, "new_value": after, "votes_up": float64(up), "votes_down": float64(down)})
		}
	}
	return nil
}

// preference is +1 to raise the lever, -1 to lower it, 0 to hold.
func preference(st *StepState, i int, l Lever) int {
	a := st.Agent(i)
	switch l {
	case LeverCompetitionReward:
		switch {
		case a.Ideology == agents.IdeologyPatriarchal || a.Skills.Competition > 0.6:
			return 1
		case a.Ideology == agents.IdeologyFeminist || a.Skills.Care > 0.6:
			return -1
		}
	case LeverCareReward:
		switch {
		case a.Ideology == agents.IdeologyFeminist || a.Skills.Care > 0.6:
			return 1
		case a.Ideology == agents.IdeologyPatriarchal || a.Skills.Competition > 0.6:
			return -1
		}
	case LeverTaxRedistribution:
		w := a.WealthValue()
		switch {
		case a.Ideology == agents.IdeologyFeminist || w < st.Pop.MeanWealth:
			return 1
		case a.Ideology == agents.IdeologyPatriarchal || w > st.Pop.MeanWealth*1.5:
			return -1
		}
	case LeverAttributionBias:
		male := a.Sex == agents.SexMale
		switch {
		case a.Ideology == agents.IdeologyPatriarchal || (male && a.Power > st.Pop.MeanPower):
			return 1
		case a.Ideology == agents.IdeologyFeminist || !male:
			return -1
		}
	case LeverSocialSanction:
		dev := a.Ideology.Value() - st.Pop.MeanIdeology
		if dev < 0.2 && dev > -0.2 {
			return 1
		}
		return -1
	}
	return 0
}

// exchangeRule pairs agents and moves wealth between each pair.
type exchangeRule struct{}

func (exchangeRule) Name() string { return "exchange" }

func (exchangeRule) Apply(st *StepState, rng *entropy.Stream) error {
	if st.Params.ExchangeRate == 0 {
		return nil
	}
	var pairs [][2]int
	switch st.Params.Pairing {
	case PairingNeighborhood:
		pairs = pairNeighbors(st, rng)
	default:
		pairs = pairRandom(st.Len(), rng)
	}

	for _, p := range pairs {
		switch st.Params.Exchange {
		case ExchangeYardSale:
			yardSale(st, p[0], p[1], rng)
		default:
			randomSplit(st, p[0], p[1], rng)
		}
	}
	return nil
}

// pairRandom shuffles the population and pairs consecutive agents. With an
// odd count the last agent sits the step out.
func pairRandom(n int, rng *entropy.Stream) [][2]int {
	order := rng.Perm(n)
	pairs := make([][2]int, 0, n/2)
	for k := 0; k+1 < n; k += 2 {
		pairs = append(pairs, [2]int{order[k], order[k+1]})
	}
	return pairs
}

// pairNeighbors visits agents in random order and pairs each with a random
// unpaired linked agent. Agents with no free neighbour are left out.
func pairNeighbors(st *StepState, rng *entropy.Stream) [][2]int {
	n := st.Len()
	paired := make([]bool, n)
	pairs := make([][2]int, 0, n/2)
	var candidates []int
	for _, i := range rng.Perm(n) {
		if paired[i] {
			continue
		}
		candidates = candidates[:0]
		for _, id := range st.Agent(i).Links {
			if j := st.IndexOf(id); j >= 0 && !paired[j] && j != i {
				candidates = append(candidates, j)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		j := candidates[rng.Intn(len(candidates))]
		paired[i], paired[j] = true, true
		pairs = append(pairs, [2]int{i, j})
	}
	return pairs
}

// randomSplit pools both agents' stakes and splits the pot at a uniform point.
func randomSplit(st *StepState, a, b int, rng *entropy.Stream) {
	rate := st.Params.ExchangeRate
	stakeA := units(st.BalanceValue(a) * rate)
	stakeB := units(st.BalanceValue(b) * rate)
	pot := stakeA + stakeB
	if pot == 0 {
		return
	}
	shareA := uint64(rng.Float64() * float64(pot+1))
	if shareA > pot {
		shareA = pot
	}
	// Net movement only: a ends with shareA of the pot it put stakeA into.
	if shareA > stakeA {
		st.Transfer(b, a, shareA-stakeA)
	} else {
		st.Transfer(a, b, stakeA-shareA)
	}
}

// yardSale bets a share of the poorer agent's wealth. The odds favour the
// more competitive agent, scaled by the competition reward.
func yardSale(st *StepState, a, b int, rng *entropy.Stream) {
	stake := units(min(st.BalanceValue(a), st.BalanceValue(b)) * st.Params.ExchangeRate)
	if stake == 0 {
		return
	}
	reward := st.Policy.CompetitionReward
	wa := 0.5 + st.Agent(a).Skills.Competition*reward
	wb := 0.5 + st.Agent(b).Skills.Competition*reward
	if rng.Float64() < wa/(wa+wb) {
		st.Transfer(b, a, stake)
	} else {
		st.Transfer(a, b, stake)
	}
}
