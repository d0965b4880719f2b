// Package social owns the live population. A Society applies the outcomes an
// interaction model computes, tracks arrivals and departures, and keeps the
// aggregate statistics current.
package social

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/talgya/stratasim/internal/agents"
	"github.com/talgya/stratasim/internal/interaction"
)

// ErrDuplicateAgent is returned when an agent id is already in the society.
var ErrDuplicateAgent = errors.New("duplicate agent id")

// ErrUnknownAgent is returned for operations on an id not in the society.
var ErrUnknownAgent = errors.New("unknown agent id")

// Option configures a Society.
type Option func(*Society)

// WithInequalityMetric selects the index reported as Inequality.
func WithInequalityMetric(m InequalityMetric) Option {
	return func(s *Society) { s.metric = m }
}

// WithLogger sets the logger clamp reports go to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Society) { s.log = l }
}

// Society is the set of live agents plus the policy they live under.
// Iteration always follows insertion order.
type Society struct {
	agents map[agents.AgentID]*agents.Agent
	order  []agents.AgentID

	policy  interaction.Policy
	metric  InequalityMetric
	stats   Aggregates
	pending churn

	log *slog.Logger
}

// CommitResult reports what a commit changed.
type CommitResult struct {
	TierChanges int
	Clamps      []*agents.TransitionError
}

// New creates a society from an initial population. Links to agents outside
// the population are dropped; the rest are made reciprocal.
func New(population []*agents.Agent, policy interaction.Policy, opts ...Option) (*Society, error) {
	s := &Society{
		agents: make(map[agents.AgentID]*agents.Agent, len(population)),
		order:  make([]agents.AgentID, 0, len(population)),
		policy: policy,
		metric: MetricGini,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, a := range population {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.agents[a.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateAgent, a.ID)
		}
		s.agents[a.ID] = a
		s.order = append(s.order, a.ID)
	}
	for _, id := range s.order {
		s.reciprocate(s.agents[id])
	}
	s.refresh(0, CommitResult{}, interaction.Outcome{})
	return s, nil
}

// Len returns the number of live agents.
func (s *Society) Len() int { return len(s.order) }

// Policy returns the current policy levers.
func (s *Society) Policy() interaction.Policy { return s.policy }

// Get returns a copy of the agent with id.
func (s *Society) Get(id agents.AgentID) (agents.Agent, bool) {
	a, ok := s.agents[id]
	if !ok {
		return agents.Agent{}, false
	}
	return a.Clone(), true
}

// Agents returns copies of every agent in order.
func (s *Society) Agents() []agents.Agent {
	out := make([]agents.Agent, len(s.order))
	for i, id := range s.order {
		out[i] = s.agents[id].Clone()
	}
	return out
}

// TotalWealth sums every agent's wealth in units.
func (s *Society) TotalWealth() uint64 {
	var sum uint64
	for _, id := range s.order {
		sum += s.agents[id].Wealth
	}
	return sum
}

// Aggregates returns a copy of the current statistics.
func (s *Society) Aggregates() Aggregates { return s.stats.Clone() }

// View is the read-only population the interaction model computes step from.
func (s *Society) View(step int, inheritance uint64) interaction.Population {
	return interaction.Population{
		Step:           step,
		Agents:         s.Agents(),
		Policy:         s.policy,
		Inheritance:    inheritance,
		MeanWealth:     s.stats.MeanWealth,
		MeanPower:      s.stats.AvgPower,
		MeanIdeology:   s.stats.AvgIdeology,
		Equality:       s.stats.Equality,
		TierMeanWealth: s.stats.TierMeanWealth,
		Elite:          slices.Clone(s.stats.Elite.Members),
	}
}

// Commit applies out at step. Every delta must target a live agent or nothing
// is applied. Clamped deltas are logged and counted, never fatal.
func (s *Society) Commit(step int, out interaction.Outcome) (CommitResult, error) {
	for id := range out.Deltas {
		if _, ok := s.agents[id]; !ok {
			return CommitResult{}, &interaction.ComputationError{
				Rule: "commit", Step: step,
				Err: fmt.Errorf("%w: delta for %d", ErrUnknownAgent, id),
			}
		}
	}

	var res CommitResult
	for _, id := range s.order {
		a := s.agents[id]
		before := a.Tier
		if err := a.ApplyDelta(out.Deltas[id], step); err != nil {
			var te *agents.TransitionError
			if !errors.As(err, &te) {
				return res, err
			}
			res.Clamps = append(res.Clamps, te)
			s.log.Debug("delta clamped", "step", step, "agent", id, "err", te)
		}
		if a.Tier != before {
			res.TierChanges++
		}
	}

	s.policy = out.Policy
	s.refresh(step, res, out)
	s.pending = churn{}
	return res, nil
}

// AddAgent admits a newcomer. Its wealth counts as minted at the next commit.
func (s *Society) AddAgent(a *agents.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if _, dup := s.agents[a.ID]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicateAgent, a.ID)
	}
	s.agents[a.ID] = a
	s.order = append(s.order, a.ID)
	s.reciprocate(a)

	s.pending.entries++
	s.pending.minted += a.Wealth
	s.refresh(s.stats.Step, CommitResult{}, interaction.Outcome{Policy: s.policy})
	return nil
}

// RemoveAgent takes id out of the society and every link to it. The removed
// agent is returned so its estate can be passed on.
func (s *Society) RemoveAgent(id agents.AgentID) (agents.Agent, error) {
	a, ok := s.agents[id]
	if !ok {
		return agents.Agent{}, fmt.Errorf("%w: %d", ErrUnknownAgent, id)
	}
	delete(s.agents, id)
	s.order = slices.DeleteFunc(s.order, func(x agents.AgentID) bool { return x == id })
	for _, other := range s.agents {
		other.Unlink(id)
	}

	s.pending.exits++
	s.refresh(s.stats.Step, CommitResult{}, interaction.Outcome{Policy: s.policy})
	return *a, nil
}

// reciprocate keeps a's links to live agents and mirrors them.
func (s *Society) reciprocate(a *agents.Agent) {
	a.Links = slices.DeleteFunc(a.Links, func(id agents.AgentID) bool {
		_, ok := s.agents[id]
		return !ok
	})
	for _, id := range a.Links {
		s.agents[id].Link(a.ID)
	}
}

// refresh recomputes the aggregates. Churn counters accumulate until a
// commit reports them.
func (s *Society) refresh(step int, res CommitResult, out interaction.Outcome) {
	list := make([]*agents.Agent, len(s.order))
	for i, id := range s.order {
		list[i] = s.agents[id]
	}
	agg := compute(list, s.metric)
	agg.Step = step
	agg.Policy = s.policy
	agg.TierChanges = res.TierChanges
	if agg.Population > 0 {
		agg.MobilityRate = float64(res.TierChanges) / float64(agg.Population)
	}
	agg.Clamps = len(res.Clamps)
	agg.Events = out.Events
	agg.Flows = out.Flows
	agg.Flows.Minted += s.pending.minted
	agg.Entries = s.pending.entries
	agg.Exits = s.pending.exits
	s.stats = agg
}
