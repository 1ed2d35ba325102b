package workflow

import (
	"fmt"

	"github.com/vitae-app/vitae/internal/domain"
)

// validTransitions defines the legal steps of one compilation attempt.
// Attempts only move forward; there is no retry edge.
var validTransitions = map[domain.CompileState]map[domain.CompileState]bool{
	domain.StateIdle:     {domain.StateCleaning: true},
	domain.StateCleaning: {domain.StateWriting: true},
	domain.StateWriting:  {domain.StateInvoking: true},
	domain.StateInvoking: {domain.StateParsing: true},
	domain.StateParsing:  {domain.StateDone: true},
}

// IsValidTransition checks if a state transition is legal.
func IsValidTransition(from, to domain.CompileState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Observer is notified of every state an attempt enters.
type Observer func(id string, state domain.CompileState)

// attempt tracks the state of a single compilation run.
type attempt struct {
	id       string
	state    domain.CompileState
	observer Observer
}

func newAttempt(id string, observer Observer) *attempt {
	return &attempt{id: id, state: domain.StateIdle, observer: observer}
}

// advance moves the attempt to the next state or fails on an illegal step.
func (a *attempt) advance(to domain.CompileState) error {
	if !IsValidTransition(a.state, to) {
		return domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("illegal transition %s -> %s", a.state, to),
		)
	}
	a.state = to
	if a.observer != nil {
		a.observer(a.id, to)
	}
	return nil
}
