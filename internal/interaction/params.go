package interaction

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidParam is returned for unknown or out-of-range model parameters.
var ErrInvalidParam = errors.New("invalid interaction parameter")

// Pairing selects how agents are matched for exchange.
type Pairing string

const (
	PairingRandom       Pairing = "random"       // Shuffle, pair consecutive agents
	PairingNeighborhood Pairing = "neighborhood" // Partner drawn from social links
)

// Exchange selects the pairwise wealth exchange rule.
type Exchange string

const (
	ExchangeRandomSplit Exchange = "random_split" // Pooled stakes split uniformly
	ExchangeYardSale    Exchange = "yard_sale"    // Skill-weighted bet of the poorer stake
)

// Params is the immutable parameter set of an interaction model.
type Params struct {
	Pairing  Pairing  `json:"pairing" yaml:"pairing"`
	Exchange Exchange `json:"exchange" yaml:"exchange"`

	ExchangeRate float64 `json:"exchange_rate"` // Fraction of wealth staked per exchange

	// Initial policy levers.
	CompetitionReward float64 `json:"competition_reward"`
	CareReward        float64 `json:"care_reward"`
	TaxRedistribution float64 `json:"tax_redistribution"`
	AttributionBias   float64 `json:"attribution_bias"`
	SocialSanction    float64 `json:"social_sanction"`

	SanctionThreshold float64 `json:"sanction_threshold"` // Ideology deviation that triggers sanctions
	EventLevy         float64 `json:"event_levy"`         // Share of wealth pooled for events

	GrowthRate   float64 `json:"growth_rate"`   // Minted per step as a share of wealth
	DecayRate    float64 `json:"decay_rate"`    // Burned per step above DecayCeiling
	DecayCeiling float64 `json:"decay_ceiling"` // Wealth level (1.0 scale) where decay starts

	LearningRate     float64 `json:"learning_rate"`
	Period           int     `json:"period"`            // Steps between learning/ideology rounds
	MobilityInterval int     `json:"mobility_interval"` // Steps between tier checks
	PromoteFactor    float64 `json:"promote_factor"`
	DemoteFactor     float64 `json:"demote_factor"`

	Voting bool `json:"voting"` // Elite votes on policy levers each step
	Events bool `json:"events"` // Social/economic events each step
}

// DefaultParams returns a closed economy: no growth, no decay.
func DefaultParams() Params {
	return Params{
		Pairing:           PairingRandom,
		Exchange:          ExchangeRandomSplit,
		ExchangeRate:      0.1,
		CompetitionReward: 1.5,
		CareReward:        1.0,
		TaxRedistribution: 0.3,
		AttributionBias:   0.6,
		SocialSanction:    0.4,
		SanctionThreshold: 0.4,
		EventLevy:         0.02,
		GrowthRate:        0,
		DecayRate:         0,
		DecayCeiling:      0.9,
		LearningRate:      0.1,
		Period:            10,
		MobilityInterval:  1,
		PromoteFactor:     1.0,
		DemoteFactor:      0.6,
		Voting:            true,
		Events:            true,
	}
}

// paramSpec binds a numeric key to its field and legal range.
type paramSpec struct {
	min, max float64
	integer  bool
	get      func(*Params) float64
	set      func(*Params, float64)
}

func floatParam(min, max float64, field func(*Params) *float64) paramSpec {
	return paramSpec{
		min: min, max: max,
		get: func(p *Params) float64 { return *field(p) },
		set: func(p *Params, v float64) { *field(p) = v },
	}
}

func intParam(min, max float64, field func(*Params) *int) paramSpec {
	return paramSpec{
		min: min, max: max, integer: true,
		get: func(p *Params) float64 { return float64(*field(p)) },
		set: func(p *Params, v float64) { *field(p) = int(v) },
	}
}

func boolParam(field func(*Params) *bool) paramSpec {
	return paramSpec{
		min: 0, max: 1, integer: true,
		get: func(p *Params) float64 {
			if *field(p) {
				return 1
			}
			return 0
		},
		set: func(p *Params, v float64) { *field(p) = v != 0 },
	}
}

var paramSpecs = map[string]paramSpec{
	"exchange_rate":      floatParam(0, 1, func(p *Params) *float64 { return &p.ExchangeRate }),
	"competition_reward": floatParam(leverBounds[LeverCompetitionReward].min, leverBounds[LeverCompetitionReward].max, func(p *Params) *float64 { return &p.CompetitionReward }),
	"care_reward":        floatParam(leverBounds[LeverCareReward].min, leverBounds[LeverCareReward].max, func(p *Params) *float64 { return &p.CareReward }),
	"tax_redistribution": floatParam(leverBounds[LeverTaxRedistribution].min, leverBounds[LeverTaxRedistribution].max, func(p *Params) *float64 { return &p.TaxRedistribution }),
	"attribution_bias":   floatParam(leverBounds[LeverAttributionBias].min, leverBounds[LeverAttributionBias].max, func(p *Params) *float64 { return &p.AttributionBias }),
	"social_sanction":    floatParam(leverBounds[LeverSocialSanction].min, leverBounds[LeverSocialSanction].max, func(p *Params) *float64 { return &p.SocialSanction }),
	"sanction_threshold": floatParam(0, 2, func(p *Params) *float64 { return &p.SanctionThreshold }),
	"event_levy":         floatParam(0, 0.5, func(p *Params) *float64 { return &p.EventLevy }),
	"growth_rate":        floatParam(0, 1, func(p *Params) *float64 { return &p.GrowthRate }),
	"decay_rate":         floatParam(0, 1, func(p *Params) *float64 { return &p.DecayRate }),
	"decay_ceiling":      floatParam(0, math.MaxFloat64, func(p *Params) *float64 { return &p.DecayCeiling }),
	"learning_rate":      floatParam(0, 1, func(p *Params) *float64 { return &p.LearningRate }),
	"period":             intParam(1, math.MaxInt32, func(p *Params) *int { return &p.Period }),
	"mobility_interval":  intParam(1, math.MaxInt32, func(p *Params) *int { return &p.MobilityInterval }),
	"promote_factor":     floatParam(0, 100, func(p *Params) *float64 { return &p.PromoteFactor }),
	"demote_factor":      floatParam(0, 100, func(p *Params) *float64 { return &p.DemoteFactor }),
	"voting":             boolParam(func(p *Params) *bool { return &p.Voting }),
	"events":             boolParam(func(p *Params) *bool { return &p.Events }),
}

// ParamNames returns the recognised numeric parameter keys, sorted.
func ParamNames() []string {
	names := make([]string, 0, len(paramSpecs))
	for k := range paramSpecs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WithValues returns a copy of p with the numeric values in m applied.
func (p Params) WithValues(m map[string]float64) (Params, error) {
	// Sorted keys so the first error reported is stable.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		spec, ok := paramSpecs[k]
		if !ok {
			return p, fmt.Errorf("%w: unknown key %q", ErrInvalidParam, k)
		}
		v := m[k]
		if err := spec.check(k, v); err != nil {
			return p, err
		}
		spec.set(&p, v)
	}
	return p, nil
}

// Values returns every numeric parameter keyed by name.
func (p Params) Values() map[string]float64 {
	out := make(map[string]float64, len(paramSpecs))
	for k, spec := range paramSpecs {
		out[k] = spec.get(&p)
	}
	return out
}

// Validate checks every parameter against its legal range.
func (p Params) Validate() error {
	switch p.Pairing {
	case PairingRandom, PairingNeighborhood:
	default:
		return fmt.Errorf("%w: pairing %q (valid: random, neighborhood)", ErrInvalidParam, p.Pairing)
	}
	switch p.Exchange {
	case ExchangeRandomSplit, ExchangeYardSale:
	default:
		return fmt.Errorf("%w: exchange %q (valid: random_split, yard_sale)", ErrInvalidParam, p.Exchange)
	}
	for _, k := range ParamNames() {
		spec := paramSpecs[k]
		if err := spec.check(k, spec.get(&p)); err != nil {
			return err
		}
	}
	return nil
}

func (s paramSpec) check(key string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be finite", ErrInvalidParam, key)
	}
	if v < s.min || v > s.max {
		return fmt.Errorf("%w: %s=%g outside [%g, %g]", ErrInvalidParam, key, v, s.min, s.max)
	}
	if s.integer && v != math.Trunc(v) {
		return fmt.Errorf("%w: %s=%g must be an integer", ErrInvalidParam, key, v)
	}
	return nil
}
