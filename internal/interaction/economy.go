package interaction

import (
	"fmt"
	"math"

	"github.com/talgya/stratasim/internal/entropy"
)

// eventRule fires one social or economic event per step. Both are funded by
// a levy on every agent, so events move wealth but never create it.
type eventRule struct{}

func (eventRule) Name() string { return "event" }

func (eventRule) Apply(st *StepState, rng *entropy.Stream) error {
	if !st.Params.Events || st.Params.EventLevy == 0 {
		return nil
	}
	if rng.Chance(0.4 + 0.2*st.Pop.Equality) {
		socialEvent(st)
		return nil
	}
	economicEvent(st, rng)
	return nil
}

// socialEvent succeeds when the society's total care reaches a threshold that
// rises with equality. Carers (care > 0.6) share the levy by care skill.
func socialEvent(st *StepState) {
	n := st.Len()
	totalCare := 0.0
	var carers []int
	var weights []float64
	for i := 0; i < n; i++ {
		care := st.Agent(i).Skills.Care
		totalCare += care
		if care > 0.6 {
			carers = append(carers, i)
			weights = append(weights, care)
		}
	}
	threshold := float64(n) * 0.5 * (1 + st.Pop.Equality)
	success := totalCare >= threshold && len(carers) > 0

	var pot uint64
	if success {
		pot = st.levy(st.Params.EventLevy * st.Policy.CareReward)
		st.payout(pot, carers, weights)
	}
	st.Emit("social", "cooperation", fmt.Sprintf("social cooperation %s (care %.3f, threshold %.3f)", outcomeWord(success), totalCare, threshold),
		map[string]float64{"success": flag(success), "total_care": totalCare, "threshold": threshold, "recipients": float64(len(carers)), "pot": float64(pot)})
}

// economicEvent gives each agent a chance to win in proportion to its
// competition skill. Winners share the levy by competition skill.
func economicEvent(st *StepState, rng *entropy.Stream) {
	var winners []int
	var weights []float64
	for i := 0; i < st.Len(); i++ {
		comp := st.Agent(i).Skills.Competition
		if rng.Chance(comp * 0.8) {
			winners = append(winners, i)
			weights = append(weights, comp)
		}
	}

	var pot uint64
	if len(winners) > 0 {
		pot = st.levy(st.Params.EventLevy * st.Policy.CompetitionReward)
		st.payout(pot, winners, weights)
	}
	st.Emit("economic", "competition", fmt.Sprintf("economic competition with %d winners of %d", len(winners), st.Len()),
		map[string]float64{"success": flag(len(winners) > 0), "winners": float64(len(winners)), "participants": float64(st.Len()), "pot": float64(pot)})
}

func outcomeWord(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}

// levy takes rate of every balance and returns the total taken.
func (st *StepState) levy(rate float64) uint64 {
	rate = math.Min(1, rate)
	var pot uint64
	for i := range st.balance {
		take := min(units(st.BalanceValue(i)*rate), st.balance[i])
		st.balance[i] -= take
		pot += take
	}
	return pot
}

// payout credits pot to recipients in proportion to weights.
func (st *StepState) payout(pot uint64, recipients []int, weights []float64) {
	for k, share := range split(pot, weights) {
		st.balance[recipients[k]] += share
	}
}

// sanctionRule fines agents under active sanctions and sanctions agents whose
// ideology strays too far from the society's average.
type sanctionRule struct{}

func (sanctionRule) Name() string { return "sanctions" }

func (sanctionRule) Apply(st *StepState, _ *entropy.Stream) error {
	step := st.Pop.Step
	threshold := st.Params.SanctionThreshold
	lever := st.Policy.SocialSanction

	sanctioned := 0
	var fines uint64
	for i := 0; i < st.Len(); i++ {
		a := st.Agent(i)
		if loss := a.SanctionWealthLoss(step); loss > 0 {
			fines += st.Collect(i, loss)
		}

		dev := math.Abs(a.Ideology.Value() - st.Pop.MeanIdeology)
		if dev > threshold && lever > 0 {
			st.Delta(i).Sanction += lever * dev * dev
			sanctioned++
		}
	}
	if sanctioned > 0 {
		st.Emit("social", "sanctions", fmt.Sprintf("%d agents sanctioned for ideological deviance", sanctioned),
			map[string]float64{"sanctioned": float64(sanctioned), "fines": float64(fines)})
	}
	return nil
}

// taxRule levies a progressive tax on wealth above half the mean, then
// shares the pool (tax, fines and inherited estates) equally.
type taxRule struct{}

func (taxRule) Name() string { return "tax" }

func (taxRule) Apply(st *StepState, _ *entropy.Stream) error {
	rate := st.Policy.TaxRedistribution
	n := st.Len()
	mean := float64(st.Total()) / float64(n)

	if rate > 0 && mean > 0 {
		for i := 0; i < n; i++ {
			w := float64(st.Balance(i))
			if w <= mean*0.5 {
				continue
			}
			multiplier := w/mean - 0.5
			st.Collect(i, uint64(math.Round(w*rate*multiplier)))
		}
	}
	if st.Pool() > 0 {
		st.DistributePool()
	}
	return nil
}

// leakRule mints growth and burns decay. Both default to zero, which makes
// the economy closed.
type leakRule struct{}

func (leakRule) Name() string { return "growth_decay" }

func (leakRule) Apply(st *StepState, _ *entropy.Stream) error {
	growth, decay := st.Params.GrowthRate, st.Params.DecayRate
	if growth == 0 && decay == 0 {
		return nil
	}
	ceiling := units(st.Params.DecayCeiling)
	for i := 0; i < st.Len(); i++ {
		if growth > 0 {
			st.Mint(i, units(st.BalanceValue(i)*growth))
		}
		if decay > 0 && st.Balance(i) > ceiling {
			st.Burn(i, units(st.BalanceValue(i)*decay))
		}
	}
	return nil
}
