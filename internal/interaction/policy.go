package interaction

import (
	"fmt"
	"math"
)

// Lever identifies one adjustable policy parameter.
type Lever uint8

const (
	LeverCompetitionReward Lever = iota
	LeverCareReward
	LeverTaxRedistribution
	LeverAttributionBias
	LeverSocialSanction
)

// NumLevers is the size of the lever enumeration.
const NumLevers = 5

var leverNames = [NumLevers]string{
	"competition_reward",
	"care_reward",
	"tax_redistribution",
	"attribution_bias",
	"social_sanction",
}

func (l Lever) String() string {
	if int(l) < NumLevers {
		return leverNames[l]
	}
	return fmt.Sprintf("lever(%d)", uint8(l))
}

type bounds struct{ min, max float64 }

var leverBounds = [NumLevers]bounds{
	LeverCompetitionReward: {0.5, 2.0},
	LeverCareReward:        {0.5, 2.0},
	LeverTaxRedistribution: {0.0, 0.8},
	LeverAttributionBias:   {0.0, 1.0},
	LeverSocialSanction:    {0.0, 1.0},
}

// Policy holds the current lever settings. The elite circle moves them by vote.
type Policy struct {
	CompetitionReward float64 `json:"competition_reward"`
	CareReward        float64 `json:"care_reward"`
	TaxRedistribution float64 `json:"tax_redistribution"`
	AttributionBias   float64 `json:"attribution_bias"`
	SocialSanction    float64 `json:"social_sanction"`
}

// InitialPolicy returns the levers as configured in p.
func (p Params) InitialPolicy() Policy {
	return Policy{
		CompetitionReward: p.CompetitionReward,
		CareReward:        p.CareReward,
		TaxRedistribution: p.TaxRedistribution,
		AttributionBias:   p.AttributionBias,
		SocialSanction:    p.SocialSanction,
	}
}

func (p *Policy) field(l Lever) *float64 {
	switch l {
	case LeverCompetitionReward:
		return &p.CompetitionReward
	case LeverCareReward:
		return &p.CareReward
	case LeverTaxRedistribution:
		return &p.TaxRedistribution
	case LeverAttributionBias:
		return &p.AttributionBias
	case LeverSocialSanction:
		return &p.SocialSanction
	}
	panic(fmt.Sprintf("interaction: unknown lever %d", l))
}

// Get returns the value of lever l.
func (p Policy) Get(l Lever) float64 {
	return *p.field(l)
}

// Set assigns lever l, clamped to its bounds.
func (p *Policy) Set(l Lever, v float64) {
	b := leverBounds[l]
	*p.field(l) = math.Max(b.min, math.Min(b.max, v))
}

// adjust moves lever l by a relative amount in the given direction,
// clamped to its bounds. A lever sitting at zero moves by a share of its range.
func (p *Policy) adjust(l Lever, direction int, amount float64) (before, after float64) {
	b := leverBounds[l]
	before = p.Get(l)

	next := before
	switch {
	case direction > 0 && before == 0:
		next = amount * 0.1 * (b.max - b.min)
	case direction > 0:
		next = before * (1 + amount)
	case direction < 0:
		next = before * (1 - amount)
	}
	p.Set(l, next)
	return before, p.Get(l)
}
