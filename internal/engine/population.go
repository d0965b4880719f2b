// Population churn: agents leave and newcomers arrive between steps.
// Estates of departed agents flow to the redistribution pool.
package engine

import (
	"fmt"
	"math"
)

// processChurn applies exits then entries ahead of step and returns the
// estate total the model must redistribute. The last agent never leaves.
func (e *Engine) processChurn(step int) (uint64, error) {
	var estate uint64
	if e.cfg.ExitEnabled && e.cfg.ExitRate > 0 {
		exits := 0
		for _, a := range e.society.Agents() {
			if e.society.Len() <= 1 {
				break
			}
			if !e.churn.Chance(e.cfg.ExitRate) {
				continue
			}
			gone, err := e.society.RemoveAgent(a.ID)
			if err != nil {
				return 0, fmt.Errorf("removing agent %d: %w", a.ID, err)
			}
			e.spawner.Depart(&gone)
			estate += gone.Wealth
			exits++
		}
		if exits > 0 {
			e.log.Debug("agents exited", "step", step, "count", exits, "estate", estate)
		}
	}

	if e.cfg.EntryEnabled && e.cfg.EntryRate > 0 {
		n := e.arrivals(e.cfg.EntryRate * float64(e.society.Len()))
		for i := 0; i < n; i++ {
			if err := e.society.AddAgent(e.spawner.SpawnEntrant(step)); err != nil {
				return 0, fmt.Errorf("admitting entrant: %w", err)
			}
		}
		if n > 0 {
			e.log.Debug("agents entered", "step", step, "count", n)
		}
	}
	return estate, nil
}

// arrivals turns an expected count into a draw: the whole part always
// arrives, the fraction arrives with that probability.
func (e *Engine) arrivals(expected float64) int {
	whole, frac := math.Modf(expected)
	n := int(whole)
	if frac > 0 && e.churn.Chance(frac) {
		n++
	}
	return n
}

