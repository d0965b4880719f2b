package interaction

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/talgya/stratasim/internal/agents"
	"github.com/talgya/stratasim/internal/entropy"
)

// periodic reports whether a rule that runs every interval steps is due.
func periodic(step, interval int) bool {
	return interval > 0 && step > 0 && step%interval == 0
}

// learningRule has agents outside the top fifth by power move their skills
// toward a successful role model.
type learningRule struct{}

func (learningRule) Name() string { return "learning" }

func (learningRule) Apply(st *StepState, rng *entropy.Stream) error {
	if !periodic(st.Pop.Step, st.Params.Period) || st.Params.LearningRate == 0 {
		return nil
	}
	n := st.Len()
	top := n / 5
	if top == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(st.Agent(b).Power, st.Agent(a).Power)
	})
	successful := order[:top]
	isSuccessful := make([]bool, n)
	for _, i := range successful {
		isSuccessful[i] = true
	}

	rate := st.Params.LearningRate
	learners := 0
	for i := 0; i < n; i++ {
		if isSuccessful[i] {
			continue
		}
		a := st.Agent(i)
		t := st.Agent(roleModel(st, a, successful, rng))
		d := st.Delta(i)
		d.Care += rate * (t.Skills.Care - a.Skills.Care)
		d.Competition += rate * (t.Skills.Competition - a.Skills.Competition)
		learners++
	}
	st.Emit("social", "learning", fmt.Sprintf("%d agents imitated %d role models", learners, top),
		map[string]float64{"learners": float64(learners), "role_models": float64(top)})
	return nil
}

// roleModel picks a successful agent, preferring the same sex and tier, then
// the same sex, then the same tier, then anyone.
func roleModel(st *StepState, a *agents.Agent, successful []int, rng *entropy.Stream) int {
	filters := []func(*agents.Agent) bool{
		func(m *agents.Agent) bool { return m.Sex == a.Sex && m.Tier == a.Tier },
		func(m *agents.Agent) bool { return m.Sex == a.Sex },
		func(m *agents.Agent) bool { return m.Tier == a.Tier },
	}
	var candidates []int
	for _, keep := range filters {
		candidates = candidates[:0]
		for _, j := range successful {
			if keep(st.Agent(j)) {
				candidates = append(candidates, j)
			}
		}
		if len(candidates) > 0 {
			return candidates[rng.Intn(len(candidates))]
		}
	}
	return successful[rng.Intn(len(successful))]
}

// ideologyRule converts agents whose cooldown has elapsed:
//   - frustration: P or F agents faring badly drift to U (30%)
//   - rational choice: U agents adopt their group's ideology (20%)
//   - dissonance: P and F agents faring badly flip sides (10%)
type ideologyRule struct{}

func (ideologyRule) Name() string { return "ideology" }

func (ideologyRule) Apply(st *StepState, rng *entropy.Stream) error {
	if !periodic(st.Pop.Step, st.Params.Period) {
		return nil
	}
	step := st.Pop.Step
	var counts [len(agents.Ideologies) + 1]int

	for i := 0; i < st.Len(); i++ {
		a := st.Agent(i)
		if !a.CanConvert(step) {
			continue
		}
		benefit := (a.WealthValue() - 0.5) + (a.Power - 0.5)
		next := agents.IdeologyNone

		switch a.Ideology {
		case agents.IdeologyPatriarchal, agents.IdeologyFeminist:
			switch {
			case benefit < -0.2 && rng.Chance(0.3):
				next = agents.IdeologyUtilitarian
			case benefit < -0.1 && rng.Chance(0.1):
				next = agents.IdeologyFeminist
				if a.Ideology == agents.IdeologyFeminist {
					next = agents.IdeologyPatriarchal
				}
			}
		case agents.IdeologyUtilitarian:
			target := agents.IdeologyNone
			switch {
			case a.Sex == agents.SexFemale:
				target = agents.IdeologyFeminist
			case a.Tier != agents.TierLower:
				target = agents.IdeologyPatriarchal
			}
			if target != agents.IdeologyNone && rng.Chance(0.2) {
				next = target
			}
		}

		if next != agents.IdeologyNone {
			st.Delta(i).Ideology = next
			counts[next]++
		}
	}

	if total := counts[agents.IdeologyPatriarchal] + counts[agents.IdeologyFeminist] + counts[agents.IdeologyUtilitarian]; total > 0 {
		st.Emit("social", "ideology", fmt.Sprintf("%d ideology conversions", total), map[string]float64{
			"to_patriarchal": float64(counts[agents.IdeologyPatriarchal]),
			"to_feminist":    float64(counts[agents.IdeologyFeminist]),
			"to_utilitarian": float64(counts[agents.IdeologyUtilitarian]),
		})
	}
	return nil
}

// mobilityRule moves agents one tier when their projected wealth clears the
// tier above's average by the promote factor, or falls under their own tier's
// average by the demote factor.
type mobilityRule struct{}

func (mobilityRule) Name() string { return "mobility" }

func (mobilityRule) Apply(st *StepState, _ *entropy.Stream) error {
	if !periodic(st.Pop.Step, st.Params.MobilityInterval) {
		return nil
	}
	means := st.Pop.TierMeanWealth
	promote, demote := st.Params.PromoteFactor, st.Params.DemoteFactor

	var promotions, demotions [agents.NumTiers]int
	for i := 0; i < st.Len(); i++ {
		tier := st.Agent(i).Tier
		w := st.BalanceValue(i)

		if tier < agents.TierUpper {
			above := means[tier+1]
			if above > 0 && w > above*promote {
				st.Delta(i).TierShift = 1
				promotions[tier]++
				continue
			}
		}
		if tier > agents.TierLower && w < means[tier]*demote {
			st.Delta(i).TierShift = -1
			demotions[tier]++
		}
	}

	up := promotions[agents.TierLower] + promotions[agents.TierMiddle]
	down := demotions[agents.TierMiddle] + demotions[agents.TierUpper]
	if up+down > 0 {
		st.Emit("social", "class_mobility", fmt.Sprintf("%d promotions and %d demotions", up, down), map[string]float64{
			"promotions":      float64(up),
			"demotions":       float64(down),
			"lower_to_middle": float64(promotions[agents.TierLower]),
			"middle_to_upper": float64(promotions[agents.TierMiddle]),
			"middle_to_lower": float64(demotions[agents.TierMiddle]),
			"upper_to_middle": float64(demotions[agents.TierUpper]),
		})
	}
	return nil
}

// attributionRule biases credit toward men and the already powerful.
type attributionRule struct{}

func (attributionRule) Name() string { return "attribution" }

const (
	maleBias   = 0.2
	femaleBias = 0.3
	powerBias  = 0.1
)

func (attributionRule) Apply(st *StepState, _ *entropy.Stream) error {
	bias := st.Policy.AttributionBias
	meanPower := max(0.001, st.Pop.MeanPower)

	for i := 0; i < st.Len(); i++ {
		a := st.Agent(i)
		relative := (a.Power - st.Pop.MeanPower) / meanPower
		factor := 1 + powerBias*relative
		if a.Sex == agents.SexMale {
			factor *= 1 + maleBias*bias
		} else {
			factor *= 1 - femaleBias*bias
		}
		st.Delta(i).PowerBias = max(0, factor)
	}
	return nil
}
