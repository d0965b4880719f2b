// Package interaction computes how agents affect one another in a step. A
// Model is a pure function of a population view and a random stream: it
// returns per-agent deltas and never touches live agents.
package interaction

import (
	"errors"
	"fmt"

	"github.com/talgya/stratasim/internal/agents"
	"github.com/talgya/stratasim/internal/entropy"
)

// ErrModelComputation marks a step the model could not compute.
var ErrModelComputation = errors.New("model computation failed")

// ComputationError names the rule that failed.
type ComputationError struct {
	Rule string
	Step int
	Err  error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("step %d: rule %s: %s: %v", e.Step, e.Rule, ErrModelComputation, e.Err)
}

func (e *ComputationError) Unwrap() []error { return []error{ErrModelComputation, e.Err} }

// Population is the read-only view of the society a step is computed from.
// Agents are clones in society order.
type Population struct {
	Step   int
	Agents []agents.Agent
	Policy Policy

	// Estates of departed agents, shared out by the tax rule.
	Inheritance uint64

	MeanWealth     float64 // 1.0 scale
	MeanPower      float64
	MeanIdeology   float64
	Equality       float64
	TierMeanWealth [agents.NumTiers]float64 // 0 for an empty tier
	Elite          []agents.AgentID
}

// Flows reports wealth created or destroyed in a step, in wealth units.
type Flows struct {
	Minted uint64 `json:"minted"`
	Burned uint64 `json:"burned"`
}

// Add accumulates o into f.
func (f *Flows) Add(o Flows) {
	f.Minted += o.Minted
	f.Burned += o.Burned
}

// Event is something notable that happened during a step.
// Meta holds numeric details only (flags as 0 or 1), so an event survives a
// JSON round trip unchanged.
type Event struct {
	Step        int                `json:"step"`
	Description string             `json:"description"`
	Category    string             `json:"category"` // "social", "economic", "political"
	Subject     string             `json:"subject,omitempty"`
	Meta        map[string]float64 `json:"meta,omitempty"`
}

// Outcome is everything a step changes. Agents absent from Deltas are unchanged.
type Outcome struct {
	Deltas map[agents.AgentID]agents.Delta
	Policy Policy
	Events []Event
	Flows  Flows
}

// Rule is one stage of the step pipeline.
type Rule interface {
	Name() string
	Apply(st *StepState, rng *entropy.Stream) error
}

// RuleFunc adapts a function into a Rule.
type RuleFunc struct {
	RuleName string
	Fn       func(st *StepState, rng *entropy.Stream) error
}

func (r RuleFunc) Name() string { return r.RuleName }

func (r RuleFunc) Apply(st *StepState, rng *entropy.Stream) error { return r.Fn(st, rng) }

// Option configures a Model.
type Option func(*Model)

// WithRules appends rules after the built-in pipeline.
func WithRules(rules ...Rule) Option {
	return func(m *Model) { m.rules = append(m.rules, rules...) }
}

// WithoutDefaults drops the built-in pipeline, keeping only rules added by WithRules.
func WithoutDefaults() Option {
	return func(m *Model) { m.rules = nil }
}

// Model is an immutable parameter set plus an ordered rule pipeline.
type Model struct {
	params Params
	rules  []Rule
}

// NewModel validates params and assembles the pipeline.
func NewModel(params Params, opts ...Option) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		params: params,
		rules: []Rule{
			voteRule{},
			exchangeRule{},
			eventRule{},
			sanctionRule{},
			taxRule{},
			leakRule{},
			learningRule{},
			ideologyRule{},
			mobilityRule{},
			attributionRule{},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Params returns the model parameters.
func (m *Model) Params() Params { return m.params }

// RuleNames lists the pipeline in execution order.
func (m *Model) RuleNames() []string {
	names := make([]string, len(m.rules))
	for i, r := range m.rules {
		names[i] = r.Name()
	}
	return names
}

// ComputeStep runs the pipeline over pop. It draws only from rng, so the same
// population, policy and stream state always give the same outcome.
func (m *Model) ComputeStep(pop Population, rng *entropy.Stream) (Outcome, error) {
	out := Outcome{
		Deltas: make(map[agents.AgentID]agents.Delta),
		Policy: pop.Policy,
	}
	switch len(pop.Agents) {
	case 0:
		return out, nil
	case 1:
		// Nobody to interact with; an estate still has one heir.
		if pop.Inheritance > 0 {
			out.Deltas[pop.Agents[0].ID] = agents.Delta{Wealth: int64(pop.Inheritance)}
		}
		return out, nil
	}

	st := newStepState(&pop, m.params)
	for _, r := range m.rules {
		if err := r.Apply(st, rng); err != nil {
			return Outcome{}, &ComputationError{Rule: r.Name(), Step: pop.Step, Err: err}
		}
	}
	return st.outcome()
}
