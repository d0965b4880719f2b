package engine

import (
	"time"

	"github.com/talgya/stratasim/internal/config"
	"github.com/talgya/stratasim/internal/social"
)

// History is the ordered sequence of per-step snapshots, one per completed
// step starting at step 1. Readers get copies.
type History struct {
	snaps []social.Snapshot
}

func (h *History) append(s social.Snapshot) { h.snaps = append(h.snaps, s) }

// Len returns the number of recorded steps.
func (h *History) Len() int { return len(h.snaps) }

// At returns the i-th snapshot (0-based).
func (h *History) At(i int) social.Snapshot { return h.snaps[i].Clone() }

// Last returns the most recent snapshot.
func (h *History) Last() (social.Snapshot, bool) {
	if len(h.snaps) == 0 {
		return social.Snapshot{}, false
	}
	return h.snaps[len(h.snaps)-1].Clone(), true
}

// All returns a copy of every snapshot.
func (h *History) All() []social.Snapshot {
	out := make([]social.Snapshot, len(h.snaps))
	for i, s := range h.snaps {
		out[i] = s.Clone()
	}
	return out
}

// Aggregates returns the aggregate series.
func (h *History) Aggregates() []social.Aggregates {
	out := make([]social.Aggregates, len(h.snaps))
	for i, s := range h.snaps {
		out[i] = s.Aggregates.Clone()
	}
	return out
}

// Result is the immutable record of one run: its resolved config and seed,
// final state and full trajectory.
type Result struct {
	RunID     string            `json:"run_id"`
	Name      string            `json:"name"`
	Seed      int64             `json:"seed"`
	Config    *config.Config    `json:"config"`
	State     State             `json:"state"`
	Failure   string            `json:"failure,omitempty"`
	Converged bool              `json:"converged"`
	CreatedAt time.Time         `json:"created_at"`
	Baseline  social.Snapshot   `json:"baseline"`
	History   []social.Snapshot `json:"history"`
}

// Steps returns the number of recorded steps.
func (r *Result) Steps() int { return len(r.History) }

// Final returns the last recorded snapshot, or the baseline for a run that
// never stepped.
func (r *Result) Final() social.Snapshot {
	if len(r.History) == 0 {
		return r.Baseline
	}
	return r.History[len(r.History)-1]
}

// Window returns the snapshots for steps in [from, to]. A zero to means
// the last step.
func (r *Result) Window(from, to int) []social.Snapshot {
	if to <= 0 || to > len(r.History) {
		to = len(r.History)
	}
	if from < 1 {
		from = 1
	}
	if from > to {
		return []social.Snapshot{}
	}
	return r.History[from-1 : to]
}

// Result captures the engine's run so far. It can be taken at any state.
func (e *Engine) Result() *Result {
	r := &Result{
		RunID:     e.RunID,
		Name:      e.cfg.Name,
		Seed:      e.seed,
		Config:    e.cfg.Clone(),
		State:     e.state,
		Converged: e.converged,
		CreatedAt: e.createdAt,
		Baseline:  e.baseline.Clone(),
		History:   e.history.All(),
	}
	if e.failure != nil {
		r.Failure = e.failure.Error()
	}
	return r
}
