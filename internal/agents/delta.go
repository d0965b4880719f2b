package agents

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidStateTransition marks a delta that would have broken an agent
// invariant. Such deltas are clamped, never applied verbatim.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// Delta is the change one step makes to one agent.
type Delta struct {
	Wealth      int64    `json:"wealth,omitempty"`     // Wealth units
	TierShift   int      `json:"tier_shift,omitempty"` // +1 promote, -1 demote
	Care        float64  `json:"care,omitempty"`
	Competition float64  `json:"competition,omitempty"`
	Ideology    Ideology `json:"ideology,omitempty"`   // IdeologyNone = unchanged
	PowerBias   float64  `json:"power_bias,omitempty"` // Multiplier on structural power, 0 = none
	Sanction    float64  `json:"sanction,omitempty"`   // Intensity of a new sanction, 0 = none
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Merge folds o into d. Additive fields add, the later ideology wins and
// power biases multiply.
func (d *Delta) Merge(o Delta) {
	d.Wealth += o.Wealth
	d.TierShift += o.TierShift
	d.Care += o.Care
	d.Competition += o.Competition
	if o.Ideology != IdeologyNone {
		d.Ideology = o.Ideology
	}
	if o.PowerBias != 0 {
		if d.PowerBias == 0 {
			d.PowerBias = o.PowerBias
		} else {
			d.PowerBias *= o.PowerBias
		}
	}
	d.Sanction += o.Sanction
}

// Finite reports whether every float component is a finite number.
func (d Delta) Finite() bool {
	for _, v := range [...]float64{d.Care, d.Competition, d.PowerBias, d.Sanction} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clamp records one field that had to be pulled back to a legal value.
type Clamp struct {
	Field     string  `json:"field"`
	Attempted float64 `json:"attempted"`
	Applied   float64 `json:"applied"`
}

// TransitionError lists the clamps applied to one agent in one step.
type TransitionError struct {
	AgentID AgentID
	Step    int
	Clamps  []Clamp
}

func (e *TransitionError) Error() string {
	parts := make([]string, len(e.Clamps))
	for i, c := range e.Clamps {
		parts[i] = fmt.Sprintf("%s %g->%g", c.Field, c.Attempted, c.Applied)
	}
	return fmt.Sprintf("agent %d step %d: %s: %s",
		e.AgentID, e.Step, ErrInvalidStateTransition, strings.Join(parts, ", "))
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// ApplyDelta mutates the agent by d at step. Components that would break an
// invariant are clamped to the nearest legal value and reported through a
// *TransitionError; the rest of the delta is still applied.
func (a *Agent) ApplyDelta(d Delta, step int) error {
	var clamps []Clamp
	clamp := func(field string, attempted, applied float64) {
		clamps = append(clamps, Clamp{Field: field, Attempted: attempted, Applied: applied})
	}

	// Wealth: never below zero.
	switch {
	case d.Wealth >= 0:
		a.Wealth += uint64(d.Wealth)
	case uint64(-(d.Wealth+1))+1 > a.Wealth:
		clamp("wealth", float64(a.Wealth)+float64(d.Wealth), 0)
		a.Wealth = 0
	default:
		a.Wealth -= uint64(-(d.Wealth+1)) + 1
	}

	// Tier: one level per step, inside the enumeration.
	if d.TierShift != 0 {
		shift := d.TierShift
		if shift > 1 || shift < -1 {
			sign := 1
			if shift < 0 {
				sign = -1
			}
			clamp("tier_shift", float64(shift), float64(sign))
			shift = sign
		}
		target := int(a.Tier) + shift
		switch {
		case target < int(TierLower):
			clamp("tier", float64(target), float64(TierLower))
			target = int(TierLower)
		case target > int(TierUpper):
			clamp("tier", float64(target), float64(TierUpper))
			target = int(TierUpper)
		}
		a.Tier = Tier(target)
	}

	a.Skills.Care = a.applySkill("care", a.Skills.Care, d.Care, clamp)
	a.Skills.Competition = a.applySkill("competition", a.Skills.Competition, d.Competition, clamp)

	if d.Ideology != IdeologyNone && d.Ideology != a.Ideology {
		switch {
		case d.Ideology > IdeologyUtilitarian:
			clamp("ideology", float64(d.Ideology), float64(a.Ideology))
		case !a.CanConvert(step):
			clamp("ideology", float64(d.Ideology), float64(a.Ideology))
		default:
			a.Ideology = d.Ideology
			a.IdeologyChangedAt = step
		}
	}

	if d.Sanction != 0 {
		if d.Sanction < 0 || math.IsNaN(d.Sanction) || math.IsInf(d.Sanction, 0) {
			clamp("sanction", d.Sanction, 0)
		} else {
			a.Sanctions = append(a.Sanctions, Sanction{
				Intensity: d.Sanction,
				StartStep: step,
				Duration:  SanctionDuration,
			})
		}
	}
	a.expireSanctions(step)

	bias := d.PowerBias
	if bias == 0 {
		bias = 1
	}
	if bias < 0 || math.IsNaN(bias) || math.IsInf(bias, 0) {
		clamp("power_bias", bias, 1)
		bias = 1
	}
	a.Power = math.Max(0, a.StructuralPower()*bias-a.SanctionPowerLoss(step))

	if len(clamps) == 0 {
		return nil
	}
	return &TransitionError{AgentID: a.ID, Step: step, Clamps: clamps}
}

func (a *Agent) applySkill(field string, current, change float64, clamp func(string, float64, float64)) float64 {
	if change == 0 {
		return current
	}
	if math.IsNaN(change) || math.IsInf(change, 0) {
		clamp(field, change, 0)
		return current
	}
	next := current + change
	switch {
	case next < 0:
		clamp(field, next, 0)
		return 0
	case next > 1:
		clamp(field, next, 1)
		return 1
	}
	return next
}

// expireSanctions drops sanctions with no effect left at step.
func (a *Agent) expireSanctions(step int) {
	kept := a.Sanctions[:0]
	for _, s := range a.Sanctions {
		if s.Decay(step) > 0 {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		a.Sanctions = nil
		return
	}
	a.Sanctions = kept
}
