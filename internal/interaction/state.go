package interaction

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/stratasim/internal/agents"
)

// StepState is the scratch space rules share while computing one step.
// Wealth moves only through the ledger methods, which keep every unit
// accounted for; the other delta fields are written through Delta.
type StepState struct {
	Pop    *Population
	Params Params
	Policy Policy

	initial []uint64
	balance []uint64
	pool    uint64
	deltas  []agents.Delta
	index   map[agents.AgentID]int

	events []Event
	flows  Flows
}

func newStepState(pop *Population, params Params) *StepState {
	n := len(pop.Agents)
	st := &StepState{
		Pop:     pop,
		Params:  params,
		Policy:  pop.Policy,
		initial: make([]uint64, n),
		balance: make([]uint64, n),
		pool:    pop.Inheritance,
		deltas:  make([]agents.Delta, n),
		index:   make(map[agents.AgentID]int, n),
	}
	for i := range pop.Agents {
		st.initial[i] = pop.Agents[i].Wealth
		st.balance[i] = pop.Agents[i].Wealth
		st.index[pop.Agents[i].ID] = i
	}
	return st
}

// Len is the number of agents in the step.
func (st *StepState) Len() int { return len(st.balance) }

// Agent returns the pre-step state of agent i.
func (st *StepState) Agent(i int) *agents.Agent { return &st.Pop.Agents[i] }

// IndexOf returns the position of id, or -1 if it is not in the population.
func (st *StepState) IndexOf(id agents.AgentID) int {
	if i, ok := st.index[id]; ok {
		return i
	}
	return -1
}

// Delta returns the pending non-wealth delta of agent i for rules to edit.
func (st *StepState) Delta(i int) *agents.Delta { return &st.deltas[i] }

// Balance is agent i's wealth as it stands mid-step.
func (st *StepState) Balance(i int) uint64 { return st.balance[i] }

// BalanceValue is Balance on the 1.0 scale.
func (st *StepState) BalanceValue(i int) float64 {
	return float64(st.balance[i]) / agents.WealthUnit
}

// Total is the sum of all balances.
func (st *StepState) Total() uint64 {
	var sum uint64
	for _, b := range st.balance {
		sum += b
	}
	return sum
}

// Transfer moves up to amount from one agent to another and returns what moved.
func (st *StepState) Transfer(from, to int, amount uint64) uint64 {
	amount = min(amount, st.balance[from])
	st.balance[from] -= amount
	st.balance[to] += amount
	return amount
}

// Collect moves up to amount from agent i into the redistribution pool.
func (st *StepState) Collect(i int, amount uint64) uint64 {
	amount = min(amount, st.balance[i])
	st.balance[i] -= amount
	st.pool += amount
	return amount
}

// Pool is the wealth awaiting redistribution.
func (st *StepState) Pool() uint64 { return st.pool }

// DistributePool shares the pool equally among all agents. Remainder units go
// one each to the first agents in population order.
func (st *StepState) DistributePool() uint64 {
	n := uint64(len(st.balance))
	paid := st.pool
	share, rem := st.pool/n, st.pool%n
	for i := range st.balance {
		st.balance[i] += share
		if uint64(i) < rem {
			st.balance[i]++
		}
	}
	st.pool = 0
	return paid
}

// Mint creates amount for agent i and records the flow.
func (st *StepState) Mint(i int, amount uint64) {
	st.balance[i] += amount
	st.flows.Minted += amount
}

// Burn destroys up to amount of agent i's wealth and records the flow.
func (st *StepState) Burn(i int, amount uint64) uint64 {
	amount = min(amount, st.balance[i])
	st.balance[i] -= amount
	st.flows.Burned += amount
	return amount
}

// Emit records an event for the step. subject names what the event is
// about, if anything beyond its category.
func (st *StepState) Emit(category, subject, description string, meta map[string]float64) {
	st.events = append(st.events, Event{
		Step:        st.Pop.Step,
		Description: description,
		Category:    category,
		Subject:     subject,
		Meta:        meta,
	})
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// split divides pot among recipients in proportion to weights, exactly.
// Remainder units go to recipients in order.
func split(pot uint64, weights []float64) []uint64 {
	shares := make([]uint64, len(weights))
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if pot == 0 || len(weights) == 0 {
		return shares
	}
	if total <= 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}
	var paid uint64
	for i, w := range weights {
		shares[i] = uint64(math.Floor(float64(pot) * w / total))
		paid += shares[i]
	}
	// Floor rounding can only under-pay.
	for i := 0; paid < pot; i = (i + 1) % len(shares) {
		shares[i]++
		paid++
	}
	return shares
}

// units converts a 1.0-scale amount to wealth units, rounding to nearest.
func units(v float64) uint64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return uint64(math.Round(v * agents.WealthUnit))
}

var errUndistributed = errors.New("redistribution pool not emptied")

// outcome folds ledger balances into deltas and checks conservation.
func (st *StepState) outcome() (Outcome, error) {
	if st.pool != 0 {
		return Outcome{}, &ComputationError{Rule: "outcome", Step: st.Pop.Step,
			Err: fmt.Errorf("%w: %d units left", errUndistributed, st.pool)}
	}

	var before uint64
	for _, w := range st.initial {
		before += w
	}
	expected := before + st.Pop.Inheritance + st.flows.Minted - st.flows.Burned
	if after := st.Total(); after != expected {
		return Outcome{}, &ComputationError{Rule: "outcome", Step: st.Pop.Step,
			Err: fmt.Errorf("ledger imbalance: have %d units, expected %d", after, expected)}
	}

	out := Outcome{
		Deltas: make(map[agents.AgentID]agents.Delta, len(st.deltas)),
		Policy: st.Policy,
		Events: st.events,
		Flows:  st.flows,
	}
	for i := range st.deltas {
		d := st.deltas[i]
		d.Wealth = int64(st.balance[i]) - int64(st.initial[i])
		if !d.Finite() {
			return Outcome{}, &ComputationError{Rule: "outcome", Step: st.Pop.Step,
				Err: fmt.Errorf("agent %d: non-finite delta %+v", st.Pop.Agents[i].ID, d)}
		}
		if !d.IsZero() {
			out.Deltas[st.Pop.Agents[i].ID] = d
		}
	}
	return out, nil
}
