package social

import (
	"slices"

	"github.com/talgya/stratasim/internal/agents"
)

// Snapshot is the recorded state of a society after one step. It shares no
// memory with the live society.
type Snapshot struct {
	Step       int            `json:"step"`
	Aggregates Aggregates     `json:"aggregates"`
	Agents     []agents.Agent `json:"agents,omitempty"`
}

// Snapshot captures the current aggregates and, if includeAgents is set,
// a copy of every agent in order.
func (s *Society) Snapshot(includeAgents bool) Snapshot {
	snap := Snapshot{
		Step:       s.stats.Step,
		Aggregates: s.stats.Clone(),
	}
	if includeAgents {
		snap.Agents = s.Agents()
	}
	return snap
}

// Clone returns a deep copy of snap.
func (snap Snapshot) Clone() Snapshot {
	c := Snapshot{Step: snap.Step, Aggregates: snap.Aggregates.Clone()}
	if snap.Agents != nil {
		c.Agents = make([]agents.Agent, len(snap.Agents))
		for i := range snap.Agents {
			c.Agents[i] = snap.Agents[i].Clone()
		}
	}
	return c
}

// Agent looks up one agent in a snapshot taken with agents included.
func (snap Snapshot) Agent(id agents.AgentID) (agents.Agent, bool) {
	i := slices.IndexFunc(snap.Agents, func(a agents.Agent) bool { return a.ID == id })
	if i < 0 {
		return agents.Agent{}, false
	}
	return snap.Agents[i].Clone(), true
}
