// Package agents provides the agent data model: declared traits, the delta
// contract used to mutate them, and the seeded spawner.
package agents

import (
	"fmt"
	"math"
	"slices"

	"github.com/talgya/stratasim/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// WealthUnit is the number of integer wealth units that make up 1.0 wealth.
// Integer units keep every exchange exactly conserving.
const WealthUnit = 10000

// Sex represents biological sex for demographic statistics.
type Sex uint8

const (
	SexMale   Sex = 0
	SexFemale Sex = 1
)

func (s Sex) String() string {
	if s == SexFemale {
		return "female"
	}
	return "male"
}

// Tier is the agent's status class. The enumeration is fixed and ordered.
type Tier uint8

const (
	TierLower  Tier = 0
	TierMiddle Tier = 1
	TierUpper  Tier = 2
)

// NumTiers is the size of the tier enumeration.
const NumTiers = 3

// Tiers lists the enumeration in ascending order.
var Tiers = [NumTiers]Tier{TierLower, TierMiddle, TierUpper}

// Valid reports whether t is a member of the enumeration.
func (t Tier) Valid() bool { return t <= TierUpper }

func (t Tier) String() string {
	switch t {
	case TierLower:
		return "lower"
	case TierMiddle:
		return "middle"
	case TierUpper:
		return "upper"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Ideology is an agent's stance on gender roles.
// The zero value means "no ideology" and is only used in deltas.
type Ideology uint8

const (
	IdeologyNone        Ideology = iota
	IdeologyPatriarchal          // P: favours male-coded competition
	IdeologyFeminist             // F: favours care and equality
	IdeologyUtilitarian          // U: pragmatic, follows personal benefit
)

// Ideologies lists the real ideologies in a fixed order.
var Ideologies = [3]Ideology{IdeologyPatriarchal, IdeologyFeminist, IdeologyUtilitarian}

// Value maps the ideology onto the -1..+1 axis used for averages and sanctions.
func (i Ideology) Value() float64 {
	switch i {
	case IdeologyPatriarchal:
		return 1
	case IdeologyFeminist:
		return -1
	default:
		return 0
	}
}

func (i Ideology) String() string {
	switch i {
	case IdeologyPatriarchal:
		return "P"
	case IdeologyFeminist:
		return "F"
	case IdeologyUtilitarian:
		return "U"
	default:
		return "-"
	}
}

// IdeologyCooldown is the number of steps an agent must wait between conversions.
const IdeologyCooldown = 3

// Skills tracks an agent's capabilities, each 0.0–1.0.
type Skills struct {
	Care        float64 `json:"care"`
	Competition float64 `json:"competition"`
}

// Sanction is an active social penalty. Its effect halves every step and
// expires after Duration steps.
type Sanction struct {
	Intensity float64 `json:"intensity"`
	StartStep int     `json:"start_step"`
	Duration  int     `json:"duration"`
}

// SanctionDuration is how many steps a sanction stays active.
const SanctionDuration = 3

// Decay returns the remaining fraction of the sanction at step, or 0 once expired.
func (s Sanction) Decay(step int) float64 {
	elapsed := step - s.StartStep
	if elapsed < 0 || elapsed >= s.Duration {
		return 0
	}
	return math.Pow(0.5, float64(elapsed))
}

// PowerLoss is the power penalty of the sanction at step.
func (s Sanction) PowerLoss(step int) float64 {
	return s.Intensity * 0.08 * s.Decay(step)
}

// WealthLoss is the wealth penalty of the sanction at step, in wealth units.
func (s Sanction) WealthLoss(step int) uint64 {
	return uint64(math.Round(s.Intensity * 0.03 * s.Decay(step) * WealthUnit))
}

// Agent is one simulated individual. Traits are a fixed set of declared
// fields; after construction they change only through ApplyDelta.
type Agent struct {
	ID     AgentID `json:"id"`
	Sex    Sex     `json:"sex"`
	Tier   Tier    `json:"tier"`
	Wealth uint64  `json:"wealth"` // Wealth units
	Power  float64 `json:"power"`
	Skills Skills  `json:"skills"`

	Ideology          Ideology `json:"ideology"`
	IdeologyChangedAt int      `json:"ideology_changed_at"`

	Sanctions []Sanction `json:"sanctions,omitempty"`

	// Social
	Locale world.HexCoord `json:"locale"`
	Links  []AgentID      `json:"links,omitempty"` // Sorted; weak references

	BornStep int `json:"born_step"`
}

// WealthValue returns wealth on the 1.0 scale.
func (a *Agent) WealthValue() float64 {
	return float64(a.Wealth) / WealthUnit
}

// StructuralPower is the power an agent's wealth and skills confer before
// attribution bias and sanctions.
func (a *Agent) StructuralPower() float64 {
	return 0.5*a.WealthValue() + 0.25*a.Skills.Competition + 0.25*a.Skills.Care
}

// SanctionPowerLoss totals the power penalty of active sanctions at step.
func (a *Agent) SanctionPowerLoss(step int) float64 {
	loss := 0.0
	for _, s := range a.Sanctions {
		loss += s.PowerLoss(step)
	}
	return loss
}

// SanctionWealthLoss totals the wealth penalty of active sanctions at step.
func (a *Agent) SanctionWealthLoss(step int) uint64 {
	var loss uint64
	for _, s := range a.Sanctions {
		loss += s.WealthLoss(step)
	}
	return loss
}

// CanConvert reports whether the ideology cooldown has elapsed at step.
func (a *Agent) CanConvert(step int) bool {
	return step-a.IdeologyChangedAt >= IdeologyCooldown
}

// HasLink reports whether id is in the agent's links.
func (a *Agent) HasLink(id AgentID) bool {
	_, found := slices.BinarySearch(a.Links, id)
	return found
}

// Link adds id to the agent's links. Self links are ignored.
func (a *Agent) Link(id AgentID) {
	if id == a.ID {
		return
	}
	i, found := slices.BinarySearch(a.Links, id)
	if !found {
		a.Links = slices.Insert(a.Links, i, id)
	}
}

// Unlink removes id from the agent's links.
func (a *Agent) Unlink(id AgentID) {
	if i, found := slices.BinarySearch(a.Links, id); found {
		a.Links = slices.Delete(a.Links, i, i+1)
	}
}

// Clone returns a deep copy sharing no memory with a.
func (a *Agent) Clone() Agent {
	c := *a
	c.Links = slices.Clone(a.Links)
	c.Sanctions = slices.Clone(a.Sanctions)
	return c
}

// Validate checks the data invariants.
func (a *Agent) Validate() error {
	if !a.Tier.Valid() {
		return fmt.Errorf("agent %d: tier %d outside enumeration", a.ID, a.Tier)
	}
	if a.Sex != SexMale && a.Sex != SexFemale {
		return fmt.Errorf("agent %d: unknown sex %d", a.ID, a.Sex)
	}
	if a.Ideology == IdeologyNone || a.Ideology > IdeologyUtilitarian {
		return fmt.Errorf("agent %d: unknown ideology %d", a.ID, a.Ideology)
	}
	if !inUnit(a.Skills.Care) || !inUnit(a.Skills.Competition) {
		return fmt.Errorf("agent %d: skills %+v outside [0,1]", a.ID, a.Skills)
	}
	if math.IsNaN(a.Power) || a.Power < 0 {
		return fmt.Errorf("agent %d: power %v must be non-negative", a.ID, a.Power)
	}
	if !slices.IsSorted(a.Links) {
		return fmt.Errorf("agent %d: links not sorted", a.ID)
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
